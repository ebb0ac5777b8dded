package runs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fleximart/retail-etl/models"
)

type Response struct {
	Total int   `json:"total"`
	Runs  []Run `json:"runs"`
}

type Run struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	RowsRead       int       `json:"rows_read"`
	RowsAccepted   int       `json:"rows_accepted"`
	RowsRejected   int       `json:"rows_rejected"`
	RowsRepaired   int       `json:"rows_repaired"`
	RowsDuplicate  int       `json:"rows_duplicate"`
	VersionsOpened int       `json:"versions_opened"`
	VersionsClosed int       `json:"versions_closed"`
}

type RunProvider interface {
	ListRuns(ctx context.Context, offset, limit int, filters models.RunFilters) ([]models.EtlRun, int64, error)
	GetByRunID(ctx context.Context, runID string) (*models.EtlRun, error)
}

type RunsHandler struct {
	repo RunProvider
}

func NewRunsHandler(r RunProvider) *RunsHandler {
	return &RunsHandler{
		repo: r,
	}
}

// HandleList serves GET /runs.
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	// Parse pagination query params
	offset := 0
	limit := 10

	if oStr := r.URL.Query().Get("offset"); oStr != "" {
		if o, err := strconv.Atoi(oStr); err == nil && o >= 0 {
			offset = o
		}
	}

	if lStr := r.URL.Query().Get("limit"); lStr != "" {
		if l, err := strconv.Atoi(lStr); err == nil {
			limit = min(max(l, 1), 100)
		}
	}

	filters := models.RunFilters{
		Status: r.URL.Query().Get("status"),
	}

	res, total, err := h.repo.ListRuns(r.Context(), offset, limit, filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch runs")
		return
	}

	runs := make([]Run, len(res))
	for i, run := range res {
		runs[i] = toRun(run)
	}

	writeJSON(w, http.StatusOK, Response{
		Total: int(total),
		Runs:  runs,
	})
}

// HandleGet serves GET /runs/{id} with the full stored report.
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.repo.GetByRunID(r.Context(), id)
	if errors.Is(err, models.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}

	response := struct {
		Run
		Report json.RawMessage `json:"report,omitempty"`
	}{
		Run:    toRun(*run),
		Report: json.RawMessage(run.Report),
	}
	writeJSON(w, http.StatusOK, response)
}

func toRun(run models.EtlRun) Run {
	return Run{
		RunID:          run.RunID,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		Status:         run.Status,
		Error:          run.Error,
		RowsRead:       run.RowsRead,
		RowsAccepted:   run.RowsAccepted,
		RowsRejected:   run.RowsRejected,
		RowsRepaired:   run.RowsRepaired,
		RowsDuplicate:  run.RowsDuplicate,
		VersionsOpened: run.VersionsOpened,
		VersionsClosed: run.VersionsClosed,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
