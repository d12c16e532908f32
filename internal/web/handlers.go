package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/soundledger/soundledger/internal/logging"
	"github.com/soundledger/soundledger/internal/money"
	"github.com/soundledger/soundledger/internal/royalty"
)

// ingestRequest is the body for starting an ingestion run. All batch fields
// are optional; zero values fall back to the configured defaults.
type ingestRequest struct {
	Path           string `json:"path"`
	BatchSize      int    `json:"batch_size,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	RetryAttempts  int    `json:"retry_attempts,omitempty"`
	BackoffBaseMs  int    `json:"backoff_base_ms,omitempty"`
}

// runResponse is the JSON shape of a finished (or failed) run.
type runResponse struct {
	RunID         string          `json:"run_id"`
	Phase         royalty.Phase   `json:"phase"`
	Done          bool            `json:"done"`
	Success       bool            `json:"success,omitempty"`
	RowsRead      int             `json:"rows_read,omitempty"`
	RowsCommitted int             `json:"rows_committed,omitempty"`
	RowsFailed    int             `json:"rows_failed,omitempty"`
	ElapsedMs     int64           `json:"elapsed_ms,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	FailedRows    []failedRowJSON `json:"failed_rows,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type failedRowJSON struct {
	Line    int      `json:"line"`
	Reasons []string `json:"reasons"`
	Data    []string `json:"data"`
}

// handleStartIngest starts an asynchronous ingestion run for an artist.
func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	artistID, err := uuid.Parse(chi.URLParam(r, "artistID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist ID")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	cfg := batchConfigFromRequest(req)
	runID, err := s.service.StartRun(r.Context(), artistID, req.Path, cfg)
	if err != nil {
		if errors.Is(err, royalty.ErrTooManyRuns) {
			w.Header().Set("Retry-After", "30")
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("ingestion run accepted",
		"run_id", runID, "artist_id", artistID, "path", req.Path)

	// Committed records change the quarterly rollups; drop cached summaries
	// once the run settles.
	go s.invalidateSummariesAfter(runID)

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// batchConfigFromRequest builds a config override, or nil when the request
// does not override anything.
func batchConfigFromRequest(req ingestRequest) *royalty.BatchConfig {
	if req.BatchSize == 0 && req.MaxConcurrency == 0 && req.RetryAttempts == 0 && req.BackoffBaseMs == 0 {
		return nil
	}
	cfg := royalty.DefaultBatchConfig()
	if req.BatchSize != 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.MaxConcurrency != 0 {
		cfg.MaxConcurrency = req.MaxConcurrency
	}
	if req.RetryAttempts != 0 {
		cfg.RetryAttempts = req.RetryAttempts
	}
	if req.BackoffBaseMs != 0 {
		cfg.BackoffBase = time.Duration(req.BackoffBaseMs) * time.Millisecond
	}
	return &cfg
}

// invalidateSummariesAfter waits for a run to settle, then purges the
// summary cache so readers see the recomputed rollups.
func (s *Server) invalidateSummariesAfter(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Ingest.RunTimeout+time.Minute)
	defer cancel()

	if _, err := s.service.Result(ctx, runID); err != nil {
		return
	}
	s.cache.Purge()
}

// handleRunStatus returns the run's phase, and the full result once done.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	phase, err := s.service.Phase(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	result, runErr, done := s.service.TryResult(runID)
	if !done {
		writeJSON(w, http.StatusOK, runResponse{RunID: runID, Phase: phase})
		return
	}

	resp := runResponse{RunID: runID, Phase: phase, Done: true}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	if result != nil {
		resp.Success = result.Success
		resp.RowsRead = result.RowsRead
		resp.RowsCommitted = result.RowsCommitted
		resp.RowsFailed = result.RowsFailed
		resp.ElapsedMs = result.Elapsed.Milliseconds()
		resp.Warnings = result.Warnings
		for _, fr := range result.FailedRows {
			reasons := make([]string, len(fr.Reasons))
			for i, reason := range fr.Reasons {
				reasons[i] = string(reason)
			}
			resp.FailedRows = append(resp.FailedRows, failedRowJSON{
				Line:    fr.Line,
				Reasons: reasons,
				Data:    fr.Data,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFailedRows exports a finished run's failed rows as CSV for operator
// correction and re-submission.
func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if _, err := s.service.Phase(runID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	result, runErr, done := s.service.TryResult(runID)
	if !done {
		writeError(w, http.StatusConflict, "run still in progress")
		return
	}
	if runErr != nil || result == nil {
		writeError(w, http.StatusNotFound, "run produced no result")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="failed_rows_%s.csv"`, runID))

	if err := result.WriteFailedCSV(w); err != nil {
		logging.FromContext(r.Context()).Error("failed rows export", "run_id", runID, "error", err)
	}
}

// handleCancelRun signals an in-progress run to stop taking new rows.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.service.CancelRun(runID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

// summaryResponse is the JSON shape of a quarterly summary.
type summaryResponse struct {
	ArtistID    string              `json:"artist_id"`
	Year        int                 `json:"year"`
	Quarter     int                 `json:"quarter"`
	TotalGross  money.Amount        `json:"total_gross"`
	TotalNet    money.Amount        `json:"total_net"`
	TotalUnits  int64               `json:"total_units"`
	TrackCount  int                 `json:"track_count"`
	ByPlatform  []royalty.Breakdown `json:"by_platform"`
	ByTerritory []royalty.Breakdown `json:"by_territory"`
	ByMonth     []royalty.Breakdown `json:"by_month"`
}

// handleSummary returns the quarterly rollup for an artist, cached with a
// short TTL since summaries only change when a run commits.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	artistID, err := uuid.Parse(chi.URLParam(r, "artistID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artist ID")
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 2200 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	quarter, err := strconv.Atoi(chi.URLParam(r, "quarter"))
	if err != nil || quarter < 1 || quarter > 4 {
		writeError(w, http.StatusBadRequest, "invalid quarter")
		return
	}

	key := fmt.Sprintf("%s/%d/%d", artistID, year, quarter)
	summary, err := s.cache.GetOrRefresh(r.Context(), key, func(ctx context.Context) (*royalty.QuarterlySummary, error) {
		return s.summaries.Get(ctx, artistID, year, quarter)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "no summary for this quarter")
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		ArtistID:    summary.ArtistID.String(),
		Year:        summary.Year,
		Quarter:     summary.Quarter,
		TotalGross:  summary.TotalGross,
		TotalNet:    summary.TotalNet,
		TotalUnits:  summary.TotalUnits,
		TrackCount:  summary.TrackCount,
		ByPlatform:  summary.ByPlatform,
		ByTerritory: summary.ByTerritory,
		ByMonth:     summary.ByMonth,
	})
}

// handleHealth reports liveness and current run load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"active_runs": s.service.ActiveRuns(),
	})
}
