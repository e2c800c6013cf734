// Package server exposes the valuation pipeline over HTTP with the same
// routes the valuation service itself offers, so browser clients can use
// it as a same-origin proxy.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/FranksOps/domval/internal/metrics"
	"github.com/FranksOps/domval/internal/pipeline"
	"github.com/FranksOps/domval/pkg/ratelimit"
)

const defaultMaxBodyBytes = 64 << 10

type Config struct {
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger
	// Admission rejects requests with 429 once exhausted. Nil admits all.
	Admission *ratelimit.Limiter
	// MaxBodyBytes caps request bodies. Zero means 64 KiB.
	MaxBodyBytes int64
}

type Server struct {
	router   *mux.Router
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	maxBody  int64
}

// New builds the router. It panics if cfg.Pipeline is nil.
func New(cfg Config) *Server {
	if cfg.Pipeline == nil {
		panic("server: Pipeline is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		router:   mux.NewRouter(),
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
		maxBody:  cfg.MaxBodyBytes,
	}

	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware(s.logger))
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.NewRoute().Subrouter()
	api.Use(admissionMiddleware(cfg.Admission))
	api.HandleFunc("/api/value", s.handleValue).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/api/bulk-value", s.handleBulkValue).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/warmup", s.handleWarmup).Methods(http.MethodGet, http.MethodOptions)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for a bulk request plus its warm-up and retry.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("proxy server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type valueRequest struct {
	Domain string `json:"domain"`
}

type bulkRequest struct {
	Domains []string `json:"domains"`
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.pipeline.Single(r.Context(), req.Domain)
	if err != nil {
		s.respondWithFailure(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res.Response)
}

func (s *Server) handleBulkValue(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.pipeline.Bulk(r.Context(), req.Domains)
	if err != nil {
		s.respondWithFailure(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"results":    res.Results,
		"validation": res.Validation,
	})
}

func (s *Server) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.WarmUp(r.Context()) {
		respondWithError(w, http.StatusBadGateway, "valuation service did not respond to warm-up")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "warm"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) respondWithFailure(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		respondWithJSON(w, http.StatusBadRequest, verr.Result)
		return
	}
	var f *pipeline.Failure
	if errors.As(err, &f) {
		respondWithJSON(w, f.Classification.HTTPStatus(), f.Classification)
		return
	}
	s.logger.Error("unhandled pipeline error", "err", err)
	respondWithError(w, http.StatusInternalServerError, "internal error")
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response with the given status code and payload.
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal JSON response", "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
