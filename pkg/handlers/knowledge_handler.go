package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/datasource"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/services"
)

// BuildRequest controls a knowledge base build.
type BuildRequest struct {
	// Force rebuilds even when the knowledge base already has content.
	Force bool `json:"force"`
}

// ImportRequest carries previously exported chunks.
type ImportRequest struct {
	Chunks []models.KnowledgeChunk `json:"chunks"`
}

// RuleRequest adds one business rule at runtime.
type RuleRequest struct {
	// Scope is "general" or a table name. Empty defaults to general.
	Scope string `json:"scope"`
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SchemaResponse lists the datasource's current tables.
type SchemaResponse struct {
	Tables []models.TableMetadata `json:"tables"`
}

// KnowledgeHandler exposes build, export, import, and stats endpoints.
type KnowledgeHandler struct {
	svc    *services.KnowledgeService
	logger *zap.Logger
}

// NewKnowledgeHandler creates a new KnowledgeHandler.
func NewKnowledgeHandler(svc *services.KnowledgeService, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the knowledge endpoints on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/knowledge/build", h.Build)
	mux.HandleFunc("GET /api/knowledge/export", h.Export)
	mux.HandleFunc("POST /api/knowledge/import", h.Import)
	mux.HandleFunc("GET /api/knowledge/stats", h.Stats)
	mux.HandleFunc("POST /api/rules", h.AddRule)
	mux.HandleFunc("GET /api/schema", h.Schema)
}

// Build handles POST /api/knowledge/build.
func (h *KnowledgeHandler) Build(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	stats, err := h.svc.Build(r.Context(), req.Force)
	if err != nil {
		h.logger.Error("knowledge base build failed", zap.Error(err))
		var extractErr *datasource.ExtractionError
		if errors.As(err, &extractErr) {
			_ = ErrorResponse(w, http.StatusBadGateway, "extraction_failed", extractErr.Error())
			return
		}
		_ = ErrorResponse(w, http.StatusInternalServerError, "build_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode build response", zap.Error(err))
	}
}

// Export handles GET /api/knowledge/export.
func (h *KnowledgeHandler) Export(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.svc.Export(r.Context())
	if err != nil {
		h.logger.Error("knowledge base export failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, ImportRequest{Chunks: chunks}); err != nil {
		h.logger.Error("Failed to encode export response", zap.Error(err))
	}
}

// Import handles POST /api/knowledge/import.
func (h *KnowledgeHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if len(req.Chunks) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "no chunks provided")
		return
	}

	if err := h.svc.Import(r.Context(), req.Chunks); err != nil {
		h.logger.Error("knowledge base import failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusBadRequest, "import_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]int{"imported": len(req.Chunks)}); err != nil {
		h.logger.Error("Failed to encode import response", zap.Error(err))
	}
}

var ruleKinds = map[string]models.RuleKind{
	string(models.RuleKindTerm):        models.RuleKindTerm,
	string(models.RuleKindMetric):      models.RuleKindMetric,
	string(models.RuleKindEnumValue):   models.RuleKindEnumValue,
	string(models.RuleKindCalculation): models.RuleKindCalculation,
}

// AddRule handles POST /api/rules.
func (h *KnowledgeHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Key == "" || req.Value == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "key and value are required")
		return
	}
	kind, ok := ruleKinds[req.Kind]
	if !ok {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request",
			"kind must be one of: term, metric, enum_value, calculation")
		return
	}

	rule := models.BusinessRule{Scope: req.Scope, Kind: kind, Key: req.Key, Value: req.Value}
	if err := h.svc.AddRule(r.Context(), rule); err != nil {
		h.logger.Error("add business rule failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "rule_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		h.logger.Error("Failed to encode rule response", zap.Error(err))
	}
}

// Schema handles GET /api/schema.
func (h *KnowledgeHandler) Schema(w http.ResponseWriter, r *http.Request) {
	tables, err := h.svc.Schema(r.Context())
	if err != nil {
		h.logger.Error("schema fetch failed", zap.Error(err))
		var extractErr *datasource.ExtractionError
		if errors.As(err, &extractErr) {
			_ = ErrorResponse(w, http.StatusBadGateway, "extraction_failed", extractErr.Error())
			return
		}
		_ = ErrorResponse(w, http.StatusInternalServerError, "schema_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, SchemaResponse{Tables: tables}); err != nil {
		h.logger.Error("Failed to encode schema response", zap.Error(err))
	}
}

// Stats handles GET /api/knowledge/stats.
func (h *KnowledgeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.logger.Error("knowledge base stats failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}
