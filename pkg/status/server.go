// Package status exposes the worker's health and counters over HTTP, plus a
// websocket live tail of published aggregate chunks for debugging.
package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/tinyagg/pkg/config"
	"github.com/nicktill/tinyagg/pkg/worker"
)

// Source provides the counters the endpoints serve.
type Source interface {
	Snapshot() worker.Snapshot
}

// Server is the optional status HTTP server of one worker process. It is
// read-only: it never touches broker state.
type Server struct {
	sources []Source
	hub     *TailHub
	log     zerolog.Logger
	httpSrv *http.Server
}

// New creates a status server listening on addr, reporting over all the
// given workers.
func New(addr string, sources []Source, hub *TailHub, log zerolog.Logger) *Server {
	s := &Server{
		sources: sources,
		hub:     hub,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/statusz", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/debug/live", s.hub.HandleWebSocket(log)).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  config.StatusReadTimeout,
		WriteTimeout: config.StatusWriteTimeout,
	}
	return s
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.httpSrv.Close()
	}()

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("status server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type healthResponse struct {
	Status  string   `json:"status"`
	Workers []string `json:"workers"`
}

// handleHealth reports process liveness plus the broker state of each
// worker. The process is alive as long as it answers; a disconnected broker
// is reported, not treated as unhealthy, because the worker retries forever.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, src := range s.sources {
		resp.Workers = append(resp.Workers, src.Snapshot().BrokerState)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to encode health response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]worker.Snapshot, 0, len(s.sources))
	for _, src := range s.sources {
		snapshots = append(snapshots, src.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"workers": snapshots}); err != nil {
		s.log.Error().Err(err).Msg("failed to encode status response")
	}
}
