package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lucid-vigil/markov-sentinel/pkg/metrics"
	"github.com/lucid-vigil/markov-sentinel/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ModelInfo is the /models view of one loaded model.
type ModelInfo struct {
	ID          int     `json:"id"`
	Label       string  `json:"label"`
	Protocol    string  `json:"protocol"`
	Threshold   float64 `json:"threshold"`
	Benign      bool    `json:"benign"`
	TrainingLen int     `json:"training_length"`
	Transitions int     `json:"transitions"`
}

// Server exposes health checks (/healthz), Prometheus metrics (/metrics) and
// the loaded model library (/models).
type Server struct {
	srv     *http.Server
	library *models.Library
}

// NewServer builds the HTTP server. m may be nil, in which case /metrics is empty.
func NewServer(port string, library *models.Library, m *metrics.Metrics) *Server {
	s := &Server{library: library}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/models", s.modelsHandler)

	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the request router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API server starting on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("API server shutting down")
		return s.srv.Shutdown(shutdownCtx)
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	loaded := s.library.Models()
	out := make([]ModelInfo, 0, len(loaded))
	for _, m := range loaded {
		out = append(out, Describe(m))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error().Err(err).Msg("Failed to encode model list")
	}
}

// Describe summarises a model for listing.
func Describe(m *models.Model) ModelInfo {
	return ModelInfo{
		ID:          m.ID,
		Label:       m.Label.Raw,
		Protocol:    m.Protocol(),
		Threshold:   m.Threshold,
		Benign:      m.Label.Benign(),
		TrainingLen: m.TrainingLen(),
		Transitions: m.Chain().Len(),
	}
}
