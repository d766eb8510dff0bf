package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dealscout/agent"
)

// Recommender is the pipeline behind the API. *agent.Agent satisfies it.
type Recommender interface {
	SearchAndRecommend(ctx context.Context, query string, opts agent.Options) (agent.Result, error)
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	recommender   Recommender
	enrichTimeout time.Duration
	timeout       time.Duration
	logger        *zap.Logger
}

// NewHandlers creates the handler set. enrichTimeout bounds the enrichment
// phase and is passed through to the pipeline; the whole request gets that
// plus headroom for search and ranking. Zero means the pipeline default.
func NewHandlers(recommender Recommender, enrichTimeout time.Duration, logger *zap.Logger) *Handlers {
	if enrichTimeout <= 0 {
		enrichTimeout = 60 * time.Second
	}
	return &Handlers{
		recommender:   recommender,
		enrichTimeout: enrichTimeout,
		timeout:       enrichTimeout + 30*time.Second,
		logger:        logger,
	}
}

// SearchRequest is the POST /api/search body.
type SearchRequest struct {
	Query string `json:"query"`
	TopN  int    `json:"top_n,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Search handles POST /api/search.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.recommender.SearchAndRecommend(ctx, req.Query, agent.Options{
		TopN:          req.TopN,
		EnrichTimeout: h.enrichTimeout,
	})
	switch {
	case errors.Is(err, agent.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query must not be empty"})
	case errors.Is(err, agent.ErrNoCandidates):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no products found for query"})
	case err != nil:
		h.logger.Error("search request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("query", req.Query),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
