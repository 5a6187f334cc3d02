package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/surrealdb/surrealtodo"
	"github.com/surrealdb/surrealtodo/pkg/conflict"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/queue"
	"github.com/surrealdb/surrealtodo/pkg/syncmgr"
)

const maxBodySize = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Tasks())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.Refresh(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, found := s.svc.Task(id)
	if !found {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskMutations(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, nonNil(s.svc.PendingForTask(id)))
}

// handleEnqueue queues one edit. The body is {"kind": "...", "payload": {...}}
// where payload has the shape of the kind's payload type.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	payload, err := DecodeMutation(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	mutationID, err := s.svc.Enqueue(r.Context(), id, payload)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"id": mutationID})
}

// DecodeMutation reads a tagged mutation body into its payload type.
func DecodeMutation(body []byte) (models.Payload, error) {
	kind, err := jsonparser.GetString(body, "kind")
	if err != nil {
		return nil, errors.New("missing or invalid \"kind\"")
	}
	raw, dataType, _, err := jsonparser.Get(body, "payload")
	if err != nil || dataType != jsonparser.Object {
		return nil, errors.New("missing or invalid \"payload\" object")
	}
	return models.DecodePayload(models.Kind(kind), func(dst any) error {
		return json.Unmarshal(raw, dst)
	})
}

func (s *Server) handleListMutations(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, nonNil(s.svc.Mutations()))
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearQueue(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRetryMutation(w http.ResponseWriter, r *http.Request) {
	found, err := s.svc.RetryMutation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "Mutation not found")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDiscardMutation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DiscardMutation(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.SyncNow(r.Context())
	if err != nil && !errors.Is(err, syncmgr.ErrDrainFailed) {
		s.respondErr(w, err)
		return
	}
	// A failed drain still reports what it did; the status carries the error.
	respondJSON(w, http.StatusOK, map[string]any{
		"report": report,
		"status": s.svc.Status(),
	})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, nonNil(s.svc.Conflicts()))
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	c, found := s.svc.Conflict(mux.Vars(r)["id"])
	if !found {
		respondError(w, http.StatusNotFound, "Conflict not found")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	res, err := jsonparser.GetString(body, "resolution")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing or invalid \"resolution\"")
		return
	}

	c, err := s.svc.ResolveConflict(r.Context(), mux.Vars(r)["id"], models.Resolution(res))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func taskID(w http.ResponseWriter, r *http.Request) (models.TaskID, bool) {
	id, err := models.ParseThing(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid task ID")
		return "", false
	}
	return id, true
}

// StatusCode maps client errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, surrealtodo.ErrUnknownTask),
		errors.Is(err, queue.ErrInvalidMutation),
		errors.Is(err, models.ErrInvalidPayload),
		errors.Is(err, conflict.ErrInvalidResolution):
		return http.StatusBadRequest
	case errors.Is(err, conflict.ErrConflictNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncmgr.ErrSyncInProgress),
		errors.Is(err, conflict.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, syncmgr.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, conflict.ErrReapplyFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("api request failed", "status", status, "error", err)
	}
	respondError(w, status, err.Error())
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
