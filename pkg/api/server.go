// Package api exposes the client to a UI layer over HTTP.
//
//	GET    /health                          - liveness
//	GET    /api/status                      - derived sync status
//	GET    /api/tasks                       - cached tasks with queued edits applied
//	POST   /api/tasks/refresh               - reload the task cache from the server
//	GET    /api/tasks/{id}                  - one task
//	GET    /api/tasks/{id}/mutations        - queued edits of one task
//	POST   /api/tasks/{id}/mutations        - queue an edit {"kind": ..., "payload": {...}}
//	GET    /api/mutations                   - the whole queue
//	DELETE /api/mutations                   - clear the queue
//	POST   /api/mutations/{id}/retry        - re-enable a mutation that needs attention
//	DELETE /api/mutations/{id}              - discard one queued edit
//	POST   /api/sync                        - sync now
//	GET    /api/conflicts                   - pending conflicts
//	GET    /api/conflicts/{id}              - one pending conflict
//	POST   /api/conflicts/{id}/resolve      - {"resolution": "keepLocal"|"keepServer"}
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/surrealdb/surrealtodo"
	"github.com/surrealdb/surrealtodo/pkg/logger"
	"github.com/surrealdb/surrealtodo/pkg/models"
	"github.com/surrealdb/surrealtodo/pkg/syncmgr"
)

// Service is the part of surrealtodo.Client the API serves.
type Service interface {
	Enqueue(ctx context.Context, id models.TaskID, payload models.Payload) (string, error)
	SyncNow(ctx context.Context) (syncmgr.Report, error)
	ResolveConflict(ctx context.Context, id string, res models.Resolution) (models.SyncConflict, error)
	RetryMutation(ctx context.Context, id string) (bool, error)
	DiscardMutation(ctx context.Context, id string) error
	ClearQueue(ctx context.Context) error
	Refresh(ctx context.Context) ([]models.Task, error)

	Mutations() []models.PendingMutation
	PendingForTask(id models.TaskID) []models.PendingMutation
	Conflicts() []models.SyncConflict
	Conflict(id string) (models.SyncConflict, bool)
	Status() models.StatusReport
	Tasks() []models.Task
	Task(id models.TaskID) (*models.Task, bool)
}

var _ Service = (*surrealtodo.Client)(nil)

type Server struct {
	svc    Service
	log    logger.Logger
	router *mux.Router
}

func New(svc Service, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{svc: svc, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	api.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}/mutations", s.handleTaskMutations).Methods("GET")
	api.HandleFunc("/tasks/{id}/mutations", s.handleEnqueue).Methods("POST")

	api.HandleFunc("/mutations", s.handleListMutations).Methods("GET")
	api.HandleFunc("/mutations", s.handleClearQueue).Methods("DELETE")
	api.HandleFunc("/mutations/{id}/retry", s.handleRetryMutation).Methods("POST")
	api.HandleFunc("/mutations/{id}", s.handleDiscardMutation).Methods("DELETE")

	api.HandleFunc("/sync", s.handleSync).Methods("POST")

	api.HandleFunc("/conflicts", s.handleListConflicts).Methods("GET")
	api.HandleFunc("/conflicts/{id}", s.handleGetConflict).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", s.handleResolve).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	s.log.Info("api listening", "addr", addr)

	select {
	case <-ctx.Done():
		s.log.Info("api shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
