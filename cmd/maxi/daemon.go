package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/defichain-maxi/maxi-go/bot"
	"github.com/defichain-maxi/maxi-go/logger"
)

// cronLogger routes the scheduler's own logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// newScheduler returns a seconds-precision cron whose jobs never overlap:
// a tick that fires while an invocation is still running is dropped.
func newScheduler(l cron.Logger) *cron.Cron {
	return cron.New(
		cron.WithSeconds(),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// daemon runs the bot on cfg.Schedule and serves the HTTP endpoints
// until ctx is cancelled.
func (a *app) daemon(ctx context.Context) error {
	l := cronLogger{log: logger.GetForComponent("scheduler")}
	c := newScheduler(l)
	if _, err := c.AddFunc(a.cfg.Schedule, func() {
		_ = a.invoke(ctx, bot.Event{})
	}); err != nil {
		return fmt.Errorf("register schedule %q: %w", a.cfg.Schedule, err)
	}

	var srv *http.Server
	errc := make(chan error, 1)
	if a.cfg.ListenAddr != "" {
		srv = &http.Server{
			Addr:         a.cfg.ListenAddr,
			Handler:      newRouter(a.store, a.cfg.Bot, a.metrics),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", a.cfg.ListenAddr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	c.Start()
	log.Info().Str("bot", string(a.cfg.Bot)).Str("schedule", a.cfg.Schedule).Msg("scheduler started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	// Stop returns a context that is done once a running invocation returned.
	<-c.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
	}
	log.Info().Msg("scheduler stopped")
	return runErr
}
