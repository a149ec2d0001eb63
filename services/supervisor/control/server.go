// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control is the HTTP control surface of a running supervisor.
//
// Reads (status, metrics) are served from published snapshots. Every
// other request is queued through Controller.Do and executes at the
// start of the next tick on the loop goroutine.
//
// # Routes
//
//	GET  /v1/status   published supervisor status
//	GET  /v1/health   diagnose report, 503 when a check fails
//	POST /v1/resolve  clear the outstanding violation and stasis
//	POST /v1/capture  record a recovery capsule
//	POST /v1/recall   restore the last valid capsule
//	POST /v1/inject   queue a speculative state write
//	POST /v1/pause    pause the frame clock
//	POST /v1/resume   resume the frame clock
//	POST /v1/verify   verify every stored snapshot
//	GET  /v1/events   websocket stream of machine-channel events
//	GET  /metrics     Prometheus exposition
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/Stargate/services/supervisor"
	"github.com/AleutianAI/Stargate/services/supervisor/diagnose"
	"github.com/AleutianAI/Stargate/services/supervisor/injection"
	"github.com/AleutianAI/Stargate/services/supervisor/telemetry"
	"github.com/AleutianAI/Stargate/services/supervisor/timetravel"
)

// DefaultTimeout bounds how long a request waits for its tick.
const DefaultTimeout = 5 * time.Second

// Controller is the supervisor surface the routes drive. Do is safe from
// any goroutine; everything else is only called from inside Do, except
// Status.
type Controller interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context) error) error
	Status() supervisor.Status

	Resolve(ctx context.Context) error
	Capture(ctx context.Context) (timetravel.Capsule, error)
	Recall(ctx context.Context) (timetravel.Capsule, error)
	Inject(inj injection.Injection)
	Pause(reason string)
	Resume() bool
	Verify(ctx context.Context) (int, []string, error)
	Diagnose() diagnose.Report
}

// Config wires a Server.
type Config struct {
	Controller Controller
	Events     *Broadcaster

	// ServiceName names the otelgin spans.
	ServiceName string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Server owns the gin router.
type Server struct {
	ctrl     Controller
	events   *Broadcaster
	timeout  time.Duration
	validate *validator.Validate
	logger   *slog.Logger
	router   *gin.Engine
}

// PauseRequest is the optional body of POST /v1/pause.
type PauseRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

// OpResponse is returned by every queued operation.
type OpResponse struct {
	RequestID string `json:"request_id"`
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Detail    any    `json:"detail,omitempty"`
}

// NewServer creates a Server with every route registered.
func NewServer(cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "stargate"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = NewBroadcaster(cfg.Logger)
	}
	s := &Server{
		ctrl:     cfg.Controller,
		events:   cfg.Events,
		timeout:  cfg.Timeout,
		validate: validator.New(),
		logger:   cfg.Logger.With(slog.String("component", "stargate.control")),
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := s.router.Group("/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/health", s.handleHealth)
		v1.POST("/resolve", s.handleResolve)
		v1.POST("/capture", s.handleCapture)
		v1.POST("/recall", s.handleRecall)
		v1.POST("/inject", s.handleInject)
		v1.POST("/pause", s.handlePause)
		v1.POST("/resume", s.handleResume)
		v1.POST("/verify", s.handleVerify)
		v1.GET("/events", s.events.Handler())
	}
}

// Router returns the configured router.
func (s *Server) Router() *gin.Engine { return s.router }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control surface listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control surface: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.events.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control surface shutdown: %w", err)
	}
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleHealth(c *gin.Context) {
	var report diagnose.Report
	err := s.run(c, "health", func(context.Context) error {
		report = s.ctrl.Diagnose()
		return nil
	})
	if err != nil {
		s.fail(c, "health", uuid.NewString(), err)
		return
	}
	code := http.StatusOK
	if !report.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) handleResolve(c *gin.Context) {
	s.op(c, "resolve", func(ctx context.Context) (any, error) {
		return nil, s.ctrl.Resolve(ctx)
	})
}

func (s *Server) handleCapture(c *gin.Context) {
	s.op(c, "capture", func(ctx context.Context) (any, error) {
		return s.ctrl.Capture(ctx)
	})
}

func (s *Server) handleRecall(c *gin.Context) {
	s.op(c, "recall", func(ctx context.Context) (any, error) {
		return s.ctrl.Recall(ctx)
	})
}

func (s *Server) handleInject(c *gin.Context) {
	var inj injection.Injection
	if err := c.ShouldBindJSON(&inj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(inj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.op(c, "inject", func(context.Context) (any, error) {
		s.ctrl.Inject(inj)
		return inj, nil
	})
}

func (s *Server) handlePause(c *gin.Context) {
	var req PauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
		if err := s.validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	s.op(c, "pause", func(context.Context) (any, error) {
		s.ctrl.Pause(req.Reason)
		return nil, nil
	})
}

func (s *Server) handleResume(c *gin.Context) {
	s.op(c, "resume", func(context.Context) (any, error) {
		if !s.ctrl.Resume() {
			return nil, errHeld
		}
		return nil, nil
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	s.op(c, "verify", func(ctx context.Context) (any, error) {
		checked, corrupt, err := s.ctrl.Verify(ctx)
		return gin.H{"checked": checked, "corrupt": corrupt}, err
	})
}

var errHeld = errors.New("clock is held by an outstanding interrupt")

// op queues fn and writes an OpResponse.
func (s *Server) op(c *gin.Context, name string, fn func(ctx context.Context) (any, error)) {
	id := uuid.NewString()
	var detail any
	err := s.run(c, name, func(ctx context.Context) error {
		var err error
		detail, err = fn(ctx)
		return err
	})
	if err != nil {
		s.fail(c, name, id, err)
		return
	}
	s.logger.Info("control operation", slog.String("op", name), slog.String("request_id", id))
	c.JSON(http.StatusOK, OpResponse{RequestID: id, Op: name, OK: true, Detail: detail})
}

func (s *Server) run(c *gin.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	return s.ctrl.Do(ctx, name, fn)
}

func (s *Server) fail(c *gin.Context, name, id string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, timetravel.ErrNoCapsule):
		code = http.StatusNotFound
	case errors.Is(err, errHeld):
		code = http.StatusConflict
	}
	s.logger.Warn("control operation failed",
		slog.String("op", name),
		slog.String("request_id", id),
		slog.String("error", err.Error()))
	c.JSON(code, OpResponse{RequestID: id, Op: name, Error: err.Error()})
}
