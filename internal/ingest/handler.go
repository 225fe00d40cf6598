// Package ingest is the HTTP gateway between the telemetry pipe and
// OpenSearch: it accepts log events and forwards them as one bulk
// request.
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/httputil"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
)

// maxBodyBytes caps a single ingest request body.
const maxBodyBytes = 8 << 20

// Indexer writes a batch of events to the log store.
type Indexer interface {
	BulkIndex(ctx context.Context, events []domain.LogEvent) (int, error)
}

// Handler serves POST /ingest and GET /health.
type Handler struct {
	indexer Indexer
}

// NewHandler builds the gateway handler over an indexer.
func NewHandler(indexer Indexer) *Handler {
	return &Handler{indexer: indexer}
}

// Router assembles the chi router for the gateway.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)
	r.Post("/ingest", h.handleIngest)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// handleIngest accepts either a single event object or an array of
// events. An empty batch is a client error.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "read body: "+err.Error())
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(events) == 0 {
		httputil.BadRequest(w, "empty batch")
		return
	}

	indexed, err := h.indexer.BulkIndex(r.Context(), events)
	if err != nil {
		logger.Error("bulk index failed", "events", len(events), "error", err.Error())
		httputil.Error(w, http.StatusBadGateway, "indexing failed")
		return
	}

	httputil.OK(w, map[string]int{"indexed": indexed})
}

// decodeEvents parses the body as an array first, then as a single
// object.
func decodeEvents(body []byte) ([]domain.LogEvent, error) {
	var events []domain.LogEvent
	if err := json.Unmarshal(body, &events); err == nil {
		return events, nil
	}

	var single domain.LogEvent
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []domain.LogEvent{single}, nil
}
