package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/phase"
	"github.com/jroyal/phasetrack/internal/store"
	"github.com/jroyal/phasetrack/internal/tracker"
)

const (
	defaultRunLimit   = 50
	maxRunLimit       = 500
	defaultCycleLimit = 100
	maxCycleLimit     = 1000
	repoTimeout       = 3 * time.Second
)

// getProgress handles GET /v1/progress. It returns the visible
// aggregate for the active phase, or 404 when no tracked phase is
// active.
func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	visible, err := s.manager.Visible()
	if err != nil {
		if errors.Is(err, phase.ErrPhaseInactive) {
			writeError(w, http.StatusNotFound, "no active phase")
			return
		}
		s.logger.Error("read visible progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	active, _ := s.manager.Active()
	writeJSON(w, http.StatusOK, toProgressDTO(string(active), visible))
}

// getCompleteProgress handles GET /v1/progress/complete. The complete
// aggregate includes hidden contributions and drives the transition
// decision.
func (s *Server) getCompleteProgress(w http.ResponseWriter, _ *http.Request) {
	complete, err := s.manager.Complete()
	if err != nil {
		if errors.Is(err, phase.ErrPhaseInactive) {
			writeError(w, http.StatusNotFound, "no active phase")
			return
		}
		s.logger.Error("read complete progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	active, _ := s.manager.Active()
	writeJSON(w, http.StatusOK, toProgressDTO(string(active), complete))
}

// listRuns handles GET /v1/runs?status=&limit=&offset=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
	var status *store.RunStatus
	if statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()

	runs, err := s.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()

	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// listRunCycles handles GET /v1/runs/{run_id}/cycles?limit=&offset=.
func (s *Server) listRunCycles(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCycleLimit, maxCycleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), repoTimeout)
	defer cancel()

	cycles, err := s.repo.ListRunCycles(ctx, runID, limit, offset)
	if err != nil {
		s.logger.Error("list run cycles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": toCycleDTOs(cycles)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	runIDStr := chi.URLParam(r, "run_id")
	if runIDStr == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "completed":
		return store.RunCompleted, nil
	case "aborted":
		return store.RunAborted, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toProgressDTO(phaseName string, p tracker.Progress) progressDTO {
	dto := progressDTO{
		Phase: phaseName,
		Done:  p.Done,
		Total: p.Total,
		Ready: p.IsReady(),
	}
	// An empty aggregate has no meaningful fraction; omit it rather
	// than emit a value JSON cannot carry.
	if p.Total > 0 {
		f := p.Fraction()
		dto.Fraction = &f
	}
	return dto
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		Phase:      run.Phase,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		NextPhase:  run.NextPhase,
	}
}

func toCycleDTOs(in []store.CycleSnapshot) []cycleDTO {
	out := make([]cycleDTO, 0, len(in))
	for _, snap := range in {
		out = append(out, cycleDTO{
			Cycle:         snap.Cycle,
			At:            snap.At,
			VisibleDone:   snap.VisibleDone,
			VisibleTotal:  snap.VisibleTotal,
			CompleteDone:  snap.CompleteDone,
			CompleteTotal: snap.CompleteTotal,
			Ready:         snap.Ready,
		})
	}
	return out
}

type progressDTO struct {
	Phase    string   `json:"phase"`
	Done     uint32   `json:"done"`
	Total    uint32   `json:"total"`
	Fraction *float64 `json:"fraction,omitempty"`
	Ready    bool     `json:"ready"`
}

type runDTO struct {
	ID         string     `json:"id"`
	Phase      string     `json:"phase"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	NextPhase  *string    `json:"next_phase,omitempty"`
}

type cycleDTO struct {
	Cycle         int64     `json:"cycle"`
	At            time.Time `json:"at"`
	VisibleDone   int64     `json:"visible_done"`
	VisibleTotal  int64     `json:"visible_total"`
	CompleteDone  int64     `json:"complete_done"`
	CompleteTotal int64     `json:"complete_total"`
	Ready         bool      `json:"ready"`
}
