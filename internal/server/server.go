package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/openkql/kqlgate/internal/settings"
	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/health"
	"github.com/openkql/kqlgate/pkg/response"
	"github.com/openkql/kqlgate/pkg/session"
)

type Server struct {
	engine *Engine
	router *mux.Router
}

func NewServer(e *Engine) *Server {
	s := &Server{
		engine: e,
		router: mux.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

type queryRequest struct {
	Connection     string `json:"connection"`
	Query          string `json:"query"`
	AcceptPartial  bool   `json:"accept_partial"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type tablePayload struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Columns []response.Column `json:"columns"`
	Rows    [][]any           `json:"rows"`
}

type queryResponse struct {
	Connection string         `json:"connection"`
	Tables     []tablePayload `json:"tables,omitempty"`
	Exceptions []string       `json:"exceptions,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts := session.RunOptions{AcceptPartial: req.AcceptPartial}
	if req.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	descriptor, err := settings.ResolveDescriptor(
		s.engine.config.Get(config.KeySettingsFile), req.Connection)
	if err != nil {
		s.engine.trackError()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.engine.session.Run(r.Context(), descriptor, req.Query, opts)
	if err != nil {
		s.engine.trackError()
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	resp := queryResponse{}
	if cur := s.engine.session.Current(); cur != nil {
		resp.Connection = cur.Name()
	}
	if result != nil {
		for _, table := range result.PrimaryResults() {
			payload, err := renderTable(table)
			if err != nil {
				s.engine.trackError()
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			resp.Tables = append(resp.Tables, payload)
		}
		resp.Exceptions = result.Exceptions()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func renderTable(t *response.Table) (tablePayload, error) {
	rows, err := t.Rows()
	if err != nil {
		return tablePayload{}, fmt.Errorf("malformed result table %s: %w", t.Name, err)
	}
	return tablePayload{
		Name:    t.Name,
		Kind:    t.Kind,
		Columns: t.Columns(),
		Rows:    rows,
	}, nil
}

func statusForError(err error) int {
	var notFound *engine.ConnectionNotFoundError
	switch {
	case errors.As(err, &notFound), errors.Is(err, engine.ErrNoCurrentConnection):
		return http.StatusNotFound
	case errors.Is(err, connstr.ErrInvalidConnectionString),
		errors.Is(err, connstr.ErrUnknownSchema),
		errors.Is(err, connstr.ErrMissingCredentials),
		errors.Is(err, connstr.ErrMissingCluster),
		errors.Is(err, connstr.ErrMissingDatabase):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAuthFactorRequired):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrBackendQuery), errors.Is(err, engine.ErrValidationProbe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type connectionPayload struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Cluster  string `json:"cluster"`
	Database string `json:"database"`
	Current  bool   `json:"current"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	sess := s.engine.session
	current := sess.Current()

	connections := []connectionPayload{}
	for _, name := range sess.List() {
		eng, ok := sess.Get(name)
		if !ok {
			continue
		}
		connections = append(connections, connectionPayload{
			Name:     name,
			Kind:     string(eng.Kind()),
			Cluster:  eng.Cluster(),
			Database: eng.Database(),
			Current:  eng == current,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"connections": connections})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.engine.checker.RunCheck("http", s.engine.CheckHealth)

	status := s.engine.checker.GetOverallStatus()
	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"checks":  s.engine.checker.GetAllChecks(),
		"metrics": s.engine.GetMetrics(),
	})
}
