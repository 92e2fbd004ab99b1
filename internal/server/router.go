package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/themerig/internal/metrics"
	"github.com/loykin/themerig/internal/orchestrator"
	"github.com/loykin/themerig/internal/store"
)

// Orchestrator is the subset of orchestrator.Orchestrator the router serves.
type Orchestrator interface {
	CreateEnvironment(ctx context.Context, target string) orchestrator.CreateResult
	GetScreenshots(ctx context.Context, target string) orchestrator.CaptureResult
	Status(ctx context.Context) orchestrator.EnvironmentStatus
	StopService(name string) bool
	DeleteTheme(target string) orchestrator.DeleteResult
}

// HistoryReader serves the captures endpoint. Optional.
type HistoryReader interface {
	RecentCaptures(ctx context.Context, target string, limit int) ([]store.CaptureRun, error)
	RecentEvents(ctx context.Context, service string, limit int) ([]store.ServiceEvent, error)
}

// Router provides embeddable HTTP handlers for the orchestrator.
// Endpoints:
//
//	POST {basePath}/environments/:target              create environment
//	POST {basePath}/environments/:target/screenshots  capture the next round
//	DELETE {basePath}/themes/:target                  delete the target's theme file
//	GET  {basePath}/status                            health and tracked services
//	POST {basePath}/services/:name/stop               stop backend or frontend
//	GET  {basePath}/captures                          query: target=...&limit=N
//	GET  {basePath}/events                            query: service=...&limit=N
//	GET  /metrics                                     when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	orch     Orchestrator
	history  HistoryReader
	basePath string
	metrics  bool
	log      *slog.Logger
}

type Options struct {
	BasePath string
	Metrics  bool
	History  HistoryReader
	Logger   *slog.Logger
}

func NewRouter(orch Orchestrator, opts Options) *Router {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		orch:     orch,
		history:  opts.History,
		basePath: sanitizeBase(opts.BasePath),
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog)
	group := g.Group(r.basePath)
	group.POST("/environments/:target", r.handleCreate)
	group.POST("/environments/:target/screenshots", r.handleCapture)
	group.DELETE("/themes/:target", r.handleDeleteTheme)
	group.GET("/status", r.handleStatus)
	group.POST("/services/:name/stop", r.handleStop)
	group.GET("/captures", r.handleCaptures)
	group.GET("/events", r.handleEvents)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer builds an http.Server on addr using this router. The caller
// runs ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// captures run a full browser session
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func (r *Router) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.log.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleCreate(c *gin.Context) {
	res := r.orch.CreateEnvironment(c.Request.Context(), c.Param("target"))
	writeJSON(c, createStatus(res), res)
}

func createStatus(res orchestrator.CreateResult) int {
	var verr *orchestrator.ValidationError
	switch {
	case res.Success:
		return http.StatusOK
	case errors.As(res.Err, &verr):
		return http.StatusBadRequest
	case errors.Is(res.Err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleCapture(c *gin.Context) {
	res := r.orch.GetScreenshots(c.Request.Context(), c.Param("target"))
	writeJSON(c, captureStatus(res), res)
}

func captureStatus(res orchestrator.CaptureResult) int {
	var verr *orchestrator.ValidationError
	var wf *orchestrator.WorkflowFailure
	switch {
	case res.Success:
		return http.StatusOK
	case errors.As(res.Err, &verr):
		return http.StatusBadRequest
	case errors.Is(res.Err, orchestrator.ErrEnvironmentNotReady):
		return http.StatusConflict
	case errors.As(res.Err, &wf):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleDeleteTheme(c *gin.Context) {
	res := r.orch.DeleteTheme(c.Param("target"))
	var verr *orchestrator.ValidationError
	status := http.StatusOK
	switch {
	case res.Success:
	case errors.As(res.Err, &verr):
		status = http.StatusBadRequest
	case errors.Is(res.Err, orchestrator.ErrProtectedTemplate):
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(c, status, res)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.orch.Status(c.Request.Context()))
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	if !r.orch.StopService(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service or stop failed: " + name})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCaptures(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history disabled"})
		return
	}
	target := c.Query("target")
	if target != "" {
		if err := orchestrator.ValidateTarget(target); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	runs, err := r.history.RecentCaptures(c.Request.Context(), target, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, runs)
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history disabled"})
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	events, err := r.history.RecentEvents(c.Request.Context(), c.Query("service"), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func queryLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return store.DefaultLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
		return 0, false
	}
	return store.Limit(n), true
}
