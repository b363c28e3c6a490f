package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/metrics"
	"fleet-monitor/gps-poller/internal/pipeline"
)

const maxBodyBytes = 64 << 10

type CycleRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.CycleResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	poller CycleRunner
	checks map[string]Pinger
	log    *slog.Logger
}

func NewServer(poller CycleRunner, checks map[string]Pinger, log *slog.Logger) *Server {
	return &Server{poller: poller, checks: checks, log: log}
}

// Handler returns the routed, access-logged HTTP surface. Only /invoke needs
// an API key.
func (s *Server) Handler(auth *AuthMiddleware, accessLog io.Writer) http.Handler {
	r := mux.NewRouter()

	r.Handle("/invoke", auth.Wrap(http.HandlerFunc(s.invoke))).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	return handlers.LoggingHandler(accessLog, h)
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := logging.NewContext(r.Context(), s.log)
	res, err := s.poller.Run(ctx, req)
	if errors.Is(err, pipeline.ErrUnknownAction) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{}
	for name, c := range s.checks {
		if err := c.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
