// Package health provides the HTTP surface of the doctor: liveness and
// readiness probes, fleet status read endpoints backed by the cache pollers,
// event log and restart budget queries, a manual restart trigger, and the
// Prometheus scrape endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supporttools/gameserver-doctor/pkg/eventlog"
	"github.com/supporttools/gameserver-doctor/pkg/logger"
	"github.com/supporttools/gameserver-doctor/pkg/poller"
	"github.com/supporttools/gameserver-doctor/pkg/ratelimit"
	"github.com/supporttools/gameserver-doctor/pkg/types"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second

	defaultEventLimit = 50
)

// CheckFunc probes one dependency, for example a Redis or database ping.
type CheckFunc func(ctx context.Context) error

// RestartTrigger is the slice of the supervisor the HTTP surface needs.
type RestartTrigger interface {
	ManualRestart(ctx context.Context, serverID string) (string, error)
	IsActive(serverID string) bool
	ActiveCount() int
}

// Server is the HTTP server.
type Server struct {
	config    types.HealthConfig
	reader    *poller.Reader
	events    *eventlog.Log
	limiter   *ratelimit.Limiter
	trigger   RestartTrigger
	gatherer  prometheus.Gatherer
	startTime time.Time

	mu         sync.RWMutex
	started    bool
	ready      bool
	checks     map[string]CheckFunc
	httpServer *http.Server
}

// NewServer creates a health server. reader, events and limiter are required;
// trigger and gatherer may be nil, which disables the manual restart and
// metrics endpoints respectively.
func NewServer(config types.HealthConfig, reader *poller.Reader, events *eventlog.Log, limiter *ratelimit.Limiter, trigger RestartTrigger, gatherer prometheus.Gatherer) (*Server, error) {
	if reader == nil || events == nil || limiter == nil {
		return nil, fmt.Errorf("health server requires reader, events and limiter")
	}
	return &Server{
		config:    config,
		reader:    reader,
		events:    events,
		limiter:   limiter,
		trigger:   trigger,
		gatherer:  gatherer,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}, nil
}

// AddCheck registers a named dependency check run by the liveness endpoint.
func (s *Server) AddCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// SetReady flips the readiness flag once startup wiring has completed.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Router builds the HTTP routes. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/servers", s.handleServers).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}/status", s.handleServerStatus).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}/events", s.handleServerEvents).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}/restarts", s.handleServerRestarts).Methods(http.MethodGet)
	api.HandleFunc("/servers/{id}/restarts", s.handleResetRestarts).Methods(http.MethodDelete)
	api.HandleFunc("/servers/{id}/restart", s.handleManualRestart).Methods(http.MethodPost)
	api.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("health server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	go func() {
		logger.Infof("Health server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Errorf("Health server failed")
		}
	}()

	s.started = true
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down health server: %w", err)
	}
	s.started = false
	return nil
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := make(map[string]CheckFunc, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	response := healthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, len(checks)),
	}

	healthy := true
	for name, check := range checks {
		if err := check(r.Context()); err != nil {
			response.Checks[name] = err.Error()
			healthy = false
		} else {
			response.Checks[name] = "ok"
		}
	}

	code := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"startedAt": s.startTime.Format(time.RFC3339),
	}
	if s.trigger != nil {
		response["activeLoops"] = s.trigger.ActiveCount()
	}
	if record, found, err := s.reader.Version(r.Context()); err == nil && found {
		response["latestVersion"] = record.Version
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.reader.AllStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cached statuses")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snapshot, found, err := s.reader.Status(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cached status")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no cached status for server")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleServerEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	category := types.EventCategory(r.URL.Query().Get("category"))
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.events.Read(r.Context(), id, category, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleServerRestarts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info := s.limiter.Info(id)
	response := map[string]interface{}{
		"count":   info.Count,
		"max":     info.Max,
		"window":  info.Window.String(),
		"allowed": info.Allowed,
	}
	if s.trigger != nil {
		response["monitored"] = s.trigger.IsActive(id)
	}
	writeJSON(w, http.StatusOK, response)
}

// handleResetRestarts clears a server's restart budget. Used after an
// operator has manually intervened and wants automatic remediation re-armed.
func (s *Server) handleResetRestarts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.limiter.Reset(id)
	logger.WithField("server", id).Infof("Restart budget reset")
	writeJSON(w, http.StatusOK, map[string]string{"message": "restart budget reset"})
}

func (s *Server) handleManualRestart(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusNotImplemented, "manual restart is not available")
		return
	}
	id := mux.Vars(r)["id"]

	message, err := s.trigger.ManualRestart(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "server not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	record, found, err := s.reader.Version(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cached version")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no cached version")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Debugf("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
