// Package notify delivers bot messages to Telegram: user-facing messages
// through Send and operator logs through Log, each with its own chat and
// bot token.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
)

// Notifier delivers messages on a best-effort basis. Failures are logged
// and never returned.
type Notifier interface {
	Send(ctx context.Context, message string)
	Log(ctx context.Context, message string)
}

// DefaultAPIURL is the Telegram Bot API root.
const DefaultAPIURL = "https://api.telegram.org"

// DefaultAttempts is how often delivery is tried before giving up.
const DefaultAttempts = 3

// Telegram is a Notifier backed by the Telegram Bot API. A channel whose
// chat id or token is empty is silently disabled.
type Telegram struct {
	creds  config.Telegram
	prefix string
	log    zerolog.Logger

	APIURL   string
	Client   *http.Client
	Attempts int
	Backoff  time.Duration
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a notifier. prefix is prepended to every message,
// for example "[Maxi-test v2.5.3 mybot]".
func NewTelegram(creds config.Telegram, prefix string) *Telegram {
	return &Telegram{
		creds:    creds,
		prefix:   prefix,
		log:      logger.GetForComponent("notify"),
		APIURL:   DefaultAPIURL,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Attempts: DefaultAttempts,
		Backoff:  time.Second,
	}
}

// Prefix builds the "[Name<postfix> <version> <logID>]" message prefix.
func Prefix(name, postfix, version, logID string) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(name)
	b.WriteString(postfix)
	b.WriteString(" ")
	b.WriteString(version)
	if logID != "" {
		b.WriteString(" ")
		b.WriteString(logID)
	}
	b.WriteString("]")
	return b.String()
}

// Send delivers message to the user chat.
func (t *Telegram) Send(ctx context.Context, message string) {
	t.deliver(ctx, "send", t.creds.ChatID, t.creds.Token, message)
}

// Log delivers message to the operator log chat.
func (t *Telegram) Log(ctx context.Context, message string) {
	t.deliver(ctx, "log", t.creds.LogChatID, t.creds.LogToken, message)
}

func (t *Telegram) deliver(ctx context.Context, channel, chatID, token, message string) {
	if chatID == "" || token == "" {
		return
	}
	text := message
	if t.prefix != "" {
		text = t.prefix + " " + message
	}
	var lastErr error
	for attempt := 1; attempt <= t.Attempts; attempt++ {
		lastErr = t.post(ctx, chatID, token, text)
		if lastErr == nil {
			return
		}
		t.log.Warn().Err(lastErr).Str("channel", channel).Int("attempt", attempt).Msg("telegram delivery failed")
		if attempt == t.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.Backoff):
		}
	}
	t.log.Error().Err(lastErr).Str("channel", channel).Msg("giving up on telegram message")
}

func (t *Telegram) post(ctx context.Context, chatID, token, text string) error {
	body, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.APIURL, "/"), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// Heartbeat pings url once. An empty url is a no-op.
func Heartbeat(ctx context.Context, client *http.Client, url string) error {
	if url == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("notify: heartbeat request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: heartbeat: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: heartbeat status %d", resp.StatusCode)
	}
	return nil
}

// Recorder is an in-memory Notifier for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	sent   []string
	logged []string
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) Send(_ context.Context, message string) {
	r.mu.Lock()
	r.sent = append(r.sent, message)
	r.mu.Unlock()
}

func (r *Recorder) Log(_ context.Context, message string) {
	r.mu.Lock()
	r.logged = append(r.logged, message)
	r.mu.Unlock()
}

// Sent returns a copy of the user-facing messages.
func (r *Recorder) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// Logged returns a copy of the operator messages.
func (r *Recorder) Logged() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logged...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Send(context.Context, string) {}
func (Nop) Log(context.Context, string)  {}
