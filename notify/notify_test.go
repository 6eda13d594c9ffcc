package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defichain-maxi/maxi-go/config"
)

type fakeTelegram struct {
	mu       sync.Mutex
	messages []map[string]string
	paths    []string
	failures atomic.Int32
}

func newFakeTelegram(t *testing.T, fail int32) (*fakeTelegram, *httptest.Server) {
	t.Helper()
	f := &fakeTelegram{}
	f.failures.Store(fail)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failures.Add(-1) >= 0 {
			http.Error(w, `{"ok":false}`, http.StatusTooManyRequests)
			return
		}
		var msg map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		f.mu.Lock()
		f.messages = append(f.messages, msg)
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func testNotifier(url string, creds config.Telegram) *Telegram {
	n := NewTelegram(creds, "[Maxi-test v2.5.3]")
	n.APIURL = url
	n.Backoff = time.Millisecond
	return n
}

func TestSendAndLogUseSeparateChannels(t *testing.T) {
	f, srv := newFakeTelegram(t, 0)
	n := testNotifier(srv.URL, config.Telegram{ChatID: "1", Token: "user", LogChatID: "2", LogToken: "ops"})

	n.Send(context.Background(), "hello")
	n.Log(context.Background(), "debug info")

	require.Len(t, f.messages, 2)
	assert.Equal(t, "1", f.messages[0]["chat_id"])
	assert.Equal(t, "[Maxi-test v2.5.3] hello", f.messages[0]["text"])
	assert.Equal(t, "/botuser/sendMessage", f.paths[0])
	assert.Equal(t, "2", f.messages[1]["chat_id"])
	assert.Equal(t, "/botops/sendMessage", f.paths[1])
}

func TestUnconfiguredChannelIsSilent(t *testing.T) {
	f, srv := newFakeTelegram(t, 0)
	n := testNotifier(srv.URL, config.Telegram{ChatID: "1"})
	n.Send(context.Background(), "hello")
	n.Log(context.Background(), "hello")
	assert.Empty(t, f.messages)
}

func TestDeliveryRetries(t *testing.T) {
	f, srv := newFakeTelegram(t, 2)
	n := testNotifier(srv.URL, config.Telegram{ChatID: "1", Token: "t"})
	n.Send(context.Background(), "third time lucky")
	assert.Len(t, f.messages, 1)
}

func TestDeliveryGivesUpSilently(t *testing.T) {
	f, srv := newFakeTelegram(t, 10)
	n := testNotifier(srv.URL, config.Telegram{ChatID: "1", Token: "t"})
	n.Send(context.Background(), "lost")
	assert.Empty(t, f.messages)
	assert.Equal(t, int32(10-DefaultAttempts), f.failures.Load())
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "[Maxi-test v2.5.3 bot1]", Prefix("Maxi", "-test", "v2.5.3", "bot1"))
	assert.Equal(t, "[Reinvest v1.0]", Prefix("Reinvest", "", "v1.0", ""))
}

func TestHeartbeat(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	require.NoError(t, Heartbeat(context.Background(), nil, ""))
	require.NoError(t, Heartbeat(context.Background(), srv.Client(), srv.URL+"/up"))
	require.Error(t, Heartbeat(context.Background(), srv.Client(), srv.URL+"/down"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Send(context.Background(), "a")
	r.Log(context.Background(), "b")
	assert.Equal(t, []string{"a"}, r.Sent())
	assert.Equal(t, []string{"b"}, r.Logged())
}
