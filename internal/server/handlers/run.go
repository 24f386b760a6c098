// internal/server/handlers/run.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4"

	"medwarehouse/internal/domain/warehouse"
)

// Runner triggers pipeline runs.
type Runner interface {
	StartAsync(ctx context.Context, trigger string) (string, error)
}

// RunStore reads persisted run summaries.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]warehouse.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*warehouse.RunSummary, error)
}

// RunHandler handles pipeline-run HTTP requests
type RunHandler struct {
	runner Runner
	store  RunStore
}

// NewRunHandler creates a new run handler
func NewRunHandler(runner Runner, store RunStore) *RunHandler {
	return &RunHandler{
		runner: runner,
		store:  store,
	}
}

// TriggerRun starts a pipeline run in the background
func (h *RunHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := h.runner.StartAsync(r.Context(), "api")
	if err != nil {
		if errors.Is(err, warehouse.ErrRunInProgress) {
			respondWithError(w, http.StatusConflict, "A pipeline run is already in progress", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to start pipeline run", err)
		}
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "started",
	})
}

// ListRuns returns recent run summaries, newest first
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	respondWithJSON(w, http.StatusOK, runs)
}

// GetRun returns one run summary by ID
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing run ID", nil)
		return
	}

	summary, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Run not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get run", err)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["detail"] = err.Error()
	}

	jsonResponse, _ := json.Marshal(response)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
