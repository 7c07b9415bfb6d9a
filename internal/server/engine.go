// Package server exposes the session over HTTP so non-Go clients can
// establish connections and dispatch queries through a running gateway.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/health"
	"github.com/openkql/kqlgate/pkg/logger"
	"github.com/openkql/kqlgate/pkg/session"
)

// Engine owns the HTTP server lifecycle and the shared session it serves.
type Engine struct {
	config  *config.Config
	session *session.Session
	logger  *logger.Logger
	checker *health.Checker
	server  *http.Server
	state   struct {
		sync.Mutex
		isRunning         bool
		ongoingOperations int32
	}
	metrics struct {
		requestsProcessed int64
		errors            int64
	}
}

// NewEngine creates a stopped engine around an existing session.
func NewEngine(cfg *config.Config, sess *session.Session) *Engine {
	return &Engine{
		config:  cfg,
		session: sess,
		logger:  logger.New("server"),
		checker: health.NewChecker(),
	}
}

// SetLogger sets the logger for the engine
func (e *Engine) SetLogger(l *logger.Logger) {
	e.logger = l
}

func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	if e.state.isRunning {
		e.state.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.state.isRunning = true
	e.state.Unlock()

	portStr := e.config.Get(config.KeyServerPort)
	if portStr == "" {
		portStr = "8088"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port configuration: %v", err)
	}

	e.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: NewServer(e),
	}

	e.logger.Infof("listening on :%d", port)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			atomic.AddInt64(&e.metrics.errors, 1)
			e.logger.Errorf("http server exited: %v", err)
		}
	}()

	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.state.Lock()
	if !e.state.isRunning {
		e.state.Unlock()
		return nil
	}
	e.state.isRunning = false
	e.state.Unlock()

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}

	return nil
}

func (e *Engine) GetMetrics() map[string]int64 {
	return map[string]int64{
		"requests_processed": atomic.LoadInt64(&e.metrics.requestsProcessed),
		"errors":             atomic.LoadInt64(&e.metrics.errors),
	}
}

func (e *Engine) CheckHealth() error {
	e.state.Lock()
	defer e.state.Unlock()

	if !e.state.isRunning {
		return fmt.Errorf("service not initialized")
	}

	if e.server == nil {
		return fmt.Errorf("HTTP server not initialized")
	}

	return nil
}

func (e *Engine) TrackOperation() {
	atomic.AddInt32(&e.state.ongoingOperations, 1)
	atomic.AddInt64(&e.metrics.requestsProcessed, 1)
}

func (e *Engine) UntrackOperation() {
	atomic.AddInt32(&e.state.ongoingOperations, -1)
}

func (e *Engine) trackError() {
	atomic.AddInt64(&e.metrics.errors, 1)
}
