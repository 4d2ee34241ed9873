package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/errors"
	"github.com/kazuhira-dev/apiary/internal/orchestrator"
	"github.com/kazuhira-dev/apiary/internal/scheduler"
)

// Server exposes a read-only JSON view of the orchestrator's state. Writes
// all go through the programmatic API; this surface exists for the status
// CLI and external monitors.
type Server struct {
	logger  *zap.Logger
	manager *orchestrator.Manager
	sched   *scheduler.Scheduler
	server  *http.Server
}

// NewServer builds the server. sched may be nil when no scheduler runs.
func NewServer(logger *zap.Logger, manager *orchestrator.Manager, sched *scheduler.Scheduler) *Server {
	return &Server{
		logger:  logger.Named("api"),
		manager: manager,
		sched:   sched,
	}
}

// Routes builds the router. Split out for tests.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/resources", s.handleResources).Methods(http.MethodGet)
	v1.HandleFunc("/resources/{id}", s.handleResource).Methods(http.MethodGet)
	v1.HandleFunc("/resources/{id}/prediction", s.handlePrediction).Methods(http.MethodGet)
	v1.HandleFunc("/pools", s.handlePools).Methods(http.MethodGet)
	v1.HandleFunc("/tasks", s.handleTasks).Methods(http.MethodGet)
	return r
}

// Serve runs the listener until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API server listening", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.GetManagerStatistics())
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.ListResources())
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := s.manager.GetResource(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	prediction, err := s.manager.Predict(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, prediction)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.ListPools())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		s.writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.sched.List())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidState:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
