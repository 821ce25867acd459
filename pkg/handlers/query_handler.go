package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/apperrors"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/services"
)

// QueryRequest is a natural-language question.
type QueryRequest struct {
	Question string `json:"question"`
	// ValidateOnly skips execution for this request.
	ValidateOnly bool `json:"validate_only,omitempty"`
	// IncludeArtifacts returns intent, retrieved context, prompt, and the
	// full attempt history alongside the answer.
	IncludeArtifacts bool `json:"include_artifacts,omitempty"`
}

// ValidateRequest checks a caller-supplied statement.
type ValidateRequest struct {
	SQL string `json:"sql"`
}

// QueryHandler exposes the question-answering endpoints.
type QueryHandler struct {
	svc    *services.QueryService
	logger *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(svc *services.QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the query endpoints on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
	mux.HandleFunc("POST /api/validate", h.Validate)
}

// Query handles POST /api/query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	result, err := h.svc.Query(r.Context(), req.Question, services.QueryOptions{
		ValidateOnly:     req.ValidateOnly,
		IncludeArtifacts: req.IncludeArtifacts,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrKnowledgeBaseEmpty) {
			_ = ErrorResponse(w, http.StatusConflict, "knowledge_base_empty",
				"knowledge base is empty; build it first")
			return
		}
		// Exhausted and policy-violation runs still carry a result the
		// caller needs to see; transport failures do not.
		if result == nil {
			h.logger.Error("query failed", zap.Error(err))
			_ = ErrorResponse(w, http.StatusBadGateway, "query_failed", err.Error())
			return
		}
		h.logger.Warn("query finished without success",
			zap.String("outcome", string(result.Outcome)),
			zap.Int("attempts", result.Attempts))
		if err := WriteJSON(w, http.StatusUnprocessableEntity, result); err != nil {
			h.logger.Error("Failed to encode query response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// Validate handles POST /api/validate.
func (h *QueryHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "sql is required")
		return
	}

	outcome := h.svc.Validate(req.SQL)
	status := http.StatusOK
	if outcome.Kind != models.OutcomeSuccess {
		status = http.StatusUnprocessableEntity
	}
	if err := WriteJSON(w, status, outcome); err != nil {
		h.logger.Error("Failed to encode validate response", zap.Error(err))
	}
}
