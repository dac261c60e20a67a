// Package api exposes the churn engine over HTTP. Routes are served with gorilla/mux;
// lifecycle events are streamed over a WebSocket and metrics are exposed for Prometheus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/engine"
	"churn-engine/internal/ml"
	"churn-engine/internal/schema"
	"churn-engine/internal/storage"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 100
	maxPageSize     = 5000
	defaultRunLimit = 20
)

// RunLister lists recorded scoring runs. *storage.Store satisfies it.
type RunLister interface {
	ListRuns(limit int) ([]storage.RunRecord, error)
}

// Handler provides HTTP API endpoints
type Handler struct {
	engine       *engine.Engine
	hub          *Hub
	runs         RunLister
	trainTimeout time.Duration
}

// NewHandler creates a new API handler. hub and runs may be nil.
func NewHandler(eng *engine.Engine, hub *Hub, runs RunLister, trainTimeout time.Duration) *Handler {
	if trainTimeout <= 0 {
		trainTimeout = common.DefaultTrainTimeout
	}
	return &Handler{
		engine:       eng,
		hub:          hub,
		runs:         runs,
		trainTimeout: trainTimeout,
	}
}

// RegisterRoutes sets up all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Health and status
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/status", h.handleStatus).Methods("GET")

	// Model lifecycle
	r.HandleFunc("/model", h.handleGetModel).Methods("GET")
	r.HandleFunc("/model", h.handleBuildModel).Methods("POST")
	r.HandleFunc("/scoring-data", h.handleSetScoringData).Methods("POST")
	r.HandleFunc("/predictions", h.handlePredict).Methods("POST")
	r.HandleFunc("/predictions", h.handleListPredictions).Methods("GET")

	// Explanations and monitoring
	r.HandleFunc("/explanations/{index:-?[0-9]+}", h.handleExplanation).Methods("GET")
	r.HandleFunc("/customers/{id}/explanation", h.handleCustomerExplanation).Methods("GET")
	r.HandleFunc("/importance", h.handleImportance).Methods("GET")
	r.HandleFunc("/drift", h.handleDrift).Methods("GET")

	// Model registry
	r.HandleFunc("/models", h.handleListModels).Methods("GET")
	r.HandleFunc("/models/rollback", h.handleRollback).Methods("POST")
	r.HandleFunc("/models/{id}/activate", h.handleActivate).Methods("POST")
	r.HandleFunc("/runs", h.handleListRuns).Methods("GET")

	if h.hub != nil {
		r.HandleFunc("/events", h.hub.ServeWS).Methods("GET")
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// respondError sends a JSON error response of the given kind
func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// respondEngineError maps an engine error to its status and kind
func respondEngineError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	respondJSON(w, status, body)
}

// sourceRequest is the body of the data-loading endpoints.
type sourceRequest struct {
	Source string `json:"source"`
}

func decodeSource(r *http.Request) (string, error) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errors.New("request body must be JSON with a \"source\" field")
	}
	if req.Source == "" {
		return "", errors.New("\"source\" is required")
	}
	return req.Source, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("query parameter " + key + " must be an integer")
	}
	return n, nil
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  h.engine.State().String(),
	})
}

// StatusResponse is the live session summary plus serving-layer state.
type StatusResponse struct {
	engine.Status
	EventClients int `json:"event_clients"`
}

// handleStatus returns a summary of the live session
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: h.engine.Status()}
	if h.hub != nil {
		resp.EventClients = h.hub.Clients()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ModelSummary describes the live model.
type ModelSummary struct {
	ID             string          `json:"id"`
	Family         ml.Family       `json:"family"`
	CreatedAt      time.Time       `json:"created_at"`
	Seed           int64           `json:"seed"`
	BaseValue      float64         `json:"base_value"`
	BackgroundSize int             `json:"background_size"`
	Metrics        ml.ModelMetrics `json:"metrics"`
	Config         ml.TrainConfig  `json:"config"`
	Schema         *schema.Schema  `json:"schema"`
}

func summarize(m *ml.TrainedModel) ModelSummary {
	return ModelSummary{
		ID:             m.ID(),
		Family:         m.Family(),
		CreatedAt:      m.CreatedAt(),
		Seed:           m.Seed(),
		BaseValue:      m.BaseValue(),
		BackgroundSize: m.BackgroundSize(),
		Metrics:        m.Metrics(),
		Config:         m.Config(),
		Schema:         m.Schema(),
	}
}

// handleGetModel returns the live model
func (h *Handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.engine.Model()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(model))
}

// handleBuildModel trains a model from the posted source
func (h *Handler) handleBuildModel(w http.ResponseWriter, r *http.Request) {
	source, err := decodeSource(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.trainTimeout)
	defer cancel()

	if err := h.engine.BuildModel(ctx, source); err != nil {
		respondEngineError(w, err)
		return
	}
	model, err := h.engine.Model()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, summarize(model))
}

// handleSetScoringData stages scoring data for the live model
func (h *Handler) handleSetScoringData(w http.ResponseWriter, r *http.Request) {
	source, err := decodeSource(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	if err := h.engine.SetTestingDataFrame(r.Context(), source); err != nil {
		respondEngineError(w, err)
		return
	}
	drift, err := h.engine.Drift()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": h.engine.Status(),
		"drift":  drift,
	})
}

// handlePredict scores the staged data
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Predict(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// PredictionPage is one page of scored records.
type PredictionPage struct {
	Total   int               `json:"total"`
	Offset  int               `json:"offset"`
	Limit   int               `json:"limit"`
	Records []ml.ScoredRecord `json:"records"`
}

// handleListPredictions returns a page of scored records
func (h *Handler) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}
	if offset < 0 || limit <= 0 || limit > maxPageSize {
		respondError(w, http.StatusBadRequest, KindBadRequest,
			"offset must be >= 0 and limit within [1, "+strconv.Itoa(maxPageSize)+"]")
		return
	}

	records, err := h.engine.Scored()
	if err != nil {
		respondEngineError(w, err)
		return
	}

	page := PredictionPage{Total: len(records), Offset: offset, Limit: limit, Records: []ml.ScoredRecord{}}
	if offset < len(records) {
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		page.Records = records[offset:end]
	}
	respondJSON(w, http.StatusOK, page)
}

// handleExplanation explains one scored row
func (h *Handler) handleExplanation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, "index must be an integer")
		return
	}

	artifact, err := h.engine.GetShapExplanation(r.Context(), index)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

// handleCustomerExplanation explains the scored row of one customer
func (h *Handler) handleCustomerExplanation(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.engine.ExplainCustomer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

// handleImportance ranks features over a sample of the scored rows
func (h *Handler) handleImportance(w http.ResponseWriter, r *http.Request) {
	sample, err := queryInt(r, "sample", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	stats, err := h.engine.FeatureImportance(r.Context(), sample)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleDrift returns the drift report of the staged scoring data
func (h *Handler) handleDrift(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Drift()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleListModels returns the persisted model versions
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	versions, err := h.engine.Versions()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if versions == nil {
		versions = []ml.ModelVersion{}
	}
	respondJSON(w, http.StatusOK, versions)
}

// handleActivate installs a persisted model version
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	model, err := h.engine.Activate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(model))
}

// handleRollback re-installs the previous model version
func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	model, err := h.engine.Rollback(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(model))
}

// handleListRuns returns recent scoring runs
func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		respondError(w, http.StatusNotImplemented, KindRegistryDisabled, "run log not configured")
		return
	}
	limit, err := queryInt(r, "limit", defaultRunLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	runs, err := h.runs.ListRuns(limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	respondJSON(w, http.StatusOK, runs)
}
