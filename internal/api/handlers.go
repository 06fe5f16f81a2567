package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/spoke"
	"github.com/imamik/hubspoke/internal/store"
)

// Rollback states reported to clients.
const (
	RollbackQueued    = "queued"
	RollbackDisabled  = "disabled"
	RollbackNotNeeded = "not_required"
	// RollbackNotScheduled means a rollback was due but could not be started.
	RollbackNotScheduled = "not_scheduled"
	RollbackCompleted    = "completed"
	RollbackFailed       = "failed"
)

const maxListLimit = 100

// SpokeView is a deployment record as returned by the API.
type SpokeView struct {
	Exists bool `json:"exists"`
	*deployment.Record

	Progress       int                      `json:"progress_percentage"`
	RollbackActive bool                     `json:"rollback_active"`
	Live           *provisioning.LiveStatus `json:"live,omitempty"`
	LiveError      string                   `json:"live_error,omitempty"`
}

// CreateFailure is the body of a failed create.
type CreateFailure struct {
	ErrorResponse
	RollbackStatus string     `json:"rollback_status"`
	Spoke          *SpokeView `json:"spoke,omitempty"`
}

// DeleteResult is the body of a delete.
type DeleteResult struct {
	SpokeID        int      `json:"spoke_id"`
	RollbackStatus string   `json:"rollback_status"`
	Message        string   `json:"message"`
	Errors         []string `json:"errors,omitempty"`
}

// ListResult is the body of GET /spokes.
type ListResult struct {
	Spokes []deployment.Summary `json:"spokes"`
	Count  int                  `json:"count"`
}

func (s *Server) view(rec *deployment.Record) *SpokeView {
	return &SpokeView{
		Exists:         true,
		Record:         rec,
		Progress:       rec.Progress(),
		RollbackActive: s.runner.Active(rec.SpokeID),
	}
}

func (s *Server) createSpoke(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context())

	var in spoke.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, "request body is required")
			return
		}
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	req, err := spoke.NewRequest(in, s.cfg)
	if err != nil {
		var verr *spoke.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, CodeValidation, "invalid spoke request", verr.Violations...)
			return
		}
		internalError(w, r, err)
		return
	}

	if !s.claim(req.SpokeID) {
		conflict(w, fmt.Sprintf("spoke %d is already being created or deleted", req.SpokeID))
		return
	}
	defer s.unclaim(req.SpokeID)

	existing, err := s.store.Get(r.Context(), req.SpokeID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if s.runner.Active(req.SpokeID) {
		conflict(w, fmt.Sprintf("spoke %d is still being rolled back", req.SpokeID))
		return
	}
	if existing != nil && existing.Status != deployment.StatusRolledBack {
		conflict(w, fmt.Sprintf("spoke %d already exists with status %s", req.SpokeID, existing.Status))
		return
	}

	log.Info("create spoke requested", "spoke", req.SpokeID, "client", req.ClientName)
	// Detached from client disconnects.
	rec, err := s.orch.CreateSpoke(context.WithoutCancel(r.Context()), req)
	if err == nil {
		writeJSON(w, http.StatusCreated, s.view(rec))
		return
	}

	var werr *provisioning.WorkflowError
	if !errors.As(err, &werr) {
		internalError(w, r, err)
		return
	}
	var verr *spoke.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid spoke request", verr.Violations...)
		return
	}

	body := CreateFailure{
		ErrorResponse: ErrorResponse{Error: ErrorDetail{Code: CodeDeploymentFailed, Message: err.Error()}},
		Spoke:         s.view(rec),
	}
	switch {
	case werr.RollbackQueued:
		body.RollbackStatus = RollbackQueued
		body.Error.Details = []string{fmt.Sprintf("automatic rollback is running in the background, check GET /spokes/%d", req.SpokeID)}
	case werr.ScheduleErr != nil:
		body.RollbackStatus = RollbackNotScheduled
		body.Error.Details = []string{"automatic rollback could not be started: " + werr.ScheduleErr.Error(),
			fmt.Sprintf("resources may be left in place, remove them with DELETE /spokes/%d", req.SpokeID)}
	case !s.cfg.RollbackEnabled():
		body.RollbackStatus = RollbackDisabled
	default:
		body.RollbackStatus = RollbackNotNeeded
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

func (s *Server) getSpoke(w http.ResponseWriter, r *http.Request) {
	id, ok := spokeID(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"spoke_id": id, "exists": false})
		return
	}

	v := s.view(rec)
	if r.URL.Query().Get("live") == "true" {
		req, err := spoke.FromRecord(rec, s.cfg)
		if err == nil {
			v.Live, err = s.orch.SpokeStatus(r.Context(), req)
		}
		if err != nil {
			v.LiveError = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) listSpokes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.Filter

	if raw := q.Get("status"); raw != "" {
		status, err := deployment.ParseStatus(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			badRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		filter.Limit = limit
	}

	records, err := s.store.List(r.Context(), filter)
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := ListResult{Spokes: make([]deployment.Summary, len(records)), Count: len(records)}
	for i, rec := range records {
		out.Spokes[i] = rec.Summary()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteSpoke(w http.ResponseWriter, r *http.Request) {
	id, ok := spokeID(w, r)
	if !ok {
		return
	}
	log := logr.FromContextOrDiscard(r.Context()).WithValues("spoke", id)

	// The claim keeps a create from starting while the delete runs. An
	// in_progress record nobody here holds was left behind by a previous
	// process and is rolled back like a failed one.
	if !s.claim(id) {
		conflict(w, fmt.Sprintf("spoke %d is still being created", id))
		return
	}
	defer s.unclaim(id)

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"spoke_id": id, "exists": false})
		return
	}
	if s.runner.Active(id) {
		conflict(w, fmt.Sprintf("spoke %d is already being rolled back", id))
		return
	}
	if rec.Status == deployment.StatusInProgress {
		log.Info("record left in progress by an earlier process, treating it as abandoned")
	}

	req, err := spoke.FromRecord(rec, s.cfg)
	if err != nil {
		internalError(w, r, err)
		return
	}

	log.Info("delete spoke requested", "status", rec.Status)
	err = s.runner.RunSync(context.WithoutCancel(r.Context()), req, rec)
	var rerr *provisioning.RollbackError
	switch {
	case err == nil:
		if derr := s.store.Delete(r.Context(), id); derr != nil {
			internalError(w, r, derr)
			return
		}
		s.orch.RecordDeleted(r.Context(), rec)
		writeJSON(w, http.StatusOK, DeleteResult{
			SpokeID:        id,
			RollbackStatus: RollbackCompleted,
			Message:        fmt.Sprintf("spoke %d deleted", id),
		})
	case errors.Is(err, provisioning.ErrRollbackActive):
		conflict(w, fmt.Sprintf("spoke %d is already being rolled back", id))
	case errors.Is(err, deployment.ErrInvalidTransition):
		conflict(w, err.Error())
	case errors.As(err, &rerr):
		writeJSON(w, http.StatusOK, DeleteResult{
			SpokeID:        id,
			RollbackStatus: RollbackFailed,
			Message:        fmt.Sprintf("spoke %d could not be fully removed", id),
			Errors:         rerr.Messages(),
		})
	default:
		internalError(w, r, err)
	}
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := store.ComputeStatistics(r.Context(), s.store)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) nextID(w http.ResponseWriter, r *http.Request) {
	id, err := store.NextAvailableID(r.Context(), s.store)
	if errors.Is(err, store.ErrNoFreeSpokeID) {
		conflict(w, err.Error())
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"next_spoke_id": id})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// spokeID parses the {id} path value and writes a 400 when it is invalid.
func spokeID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		badRequest(w, "spoke id must be an integer")
		return 0, false
	}
	if err := spoke.ValidateSpokeID(id); err != nil {
		badRequest(w, err.Error())
		return 0, false
	}
	return id, true
}
