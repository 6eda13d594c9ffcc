package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/metrics"
	"github.com/defichain-maxi/maxi-go/state"
	"github.com/defichain-maxi/maxi-go/store"
)

// stateResponse is the body of GET /state.
type stateResponse struct {
	Bot         string `json:"bot"`
	Phase       string `json:"phase"`
	Operation   string `json:"operation"`
	TxID        string `json:"txid,omitempty"`
	BlockHeight uint64 `json:"block_height"`
	Version     string `json:"version,omitempty"`
	SkipNext    bool   `json:"skip_next"`
	// Compatible reports whether the stored state was written by a bot
	// version that this build can resume from.
	Compatible bool `json:"compatible"`
}

// minimumVersions are the oldest state writers this build resumes from.
var minimumVersions = state.NewVersionCheck(map[string]state.Version{
	string(config.BotMaxi):     {Major: "2", Minor: "0"},
	string(config.BotReinvest): {Major: "1", Minor: "0"},
	string(config.BotBalancer): {Major: "0", Minor: "1"},
})

// newRouter serves the health, state and metrics endpoints of the daemon.
func newRouter(st store.Store, kind config.BotKind, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(10 * time.Second))
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		set, err := st.FetchSettings(kind)
		if err != nil {
			log.Error().Err(err).Msg("fetching settings for /state")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "settings unavailable"})
			return
		}
		compatible, err := minimumVersions.IsCompatible(string(kind), set.State.String())
		if err != nil && !errors.Is(err, state.ErrNoVersion) {
			log.Warn().Err(err).Msg("checking state version")
		}
		writeJSON(w, http.StatusOK, stateResponse{
			Bot:         string(kind),
			Phase:       string(set.State.Phase),
			Operation:   string(set.State.Operation),
			TxID:        set.State.TxID,
			BlockHeight: set.State.BlockHeight,
			Version:     set.State.Version,
			SkipNext:    set.SkipNext,
			Compatible:  compatible,
		})
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}
