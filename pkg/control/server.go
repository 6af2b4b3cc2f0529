// Package control exposes the orchestration engine over HTTP on a Unix
// socket. The hotspot CLI is its only intended client.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davytheprogrammer/hotspot-manager/pkg/audit"
	"github.com/davytheprogrammer/hotspot-manager/pkg/auth"
	"github.com/davytheprogrammer/hotspot-manager/pkg/hotspot"
	"github.com/davytheprogrammer/hotspot-manager/pkg/metrics"
	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
	"github.com/davytheprogrammer/hotspot-manager/pkg/version"
)

const (
	shutdownTimeout = 5 * time.Second
	historyLimit    = 50
)

// Service is the engine surface served by the API. *engine.Engine and
// *Client both satisfy it.
type Service interface {
	ProbeInterfaces(ctx context.Context) ([]hotspot.CapabilityReport, error)
	Start(ctx context.Context, cfg hotspot.HotspotConfig) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (hotspot.Status, error)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    util.Reason `json:"code"`
	Error   string      `json:"error"`
	Details []string    `json:"details,omitempty"`
}

// StateResponse is returned by start and stop.
type StateResponse struct {
	Session hotspot.SessionState `json:"session"`
}

// Options configures a Server. Every field may be left nil.
type Options struct {
	Metrics *metrics.Metrics
	// History records start and stop requests and serves /v1/history.
	History audit.Logger
	// Access checks the peer credentials of each request. Nil allows all.
	Access *auth.Checker
}

// Server routes control requests to a Service.
type Server struct {
	svc    Service
	opts   Options
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(svc Service, opts Options) *Server {
	s := &Server{svc: svc, opts: opts, router: gin.New()}
	m := opts.Metrics
	s.router.Use(gin.Recovery(), m.Middleware(), requestLog())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})
	s.router.GET("/metrics", m.Handler())

	v1 := s.router.Group("/v1")
	v1.GET("/status", s.require(auth.PermSessionView), s.status)
	v1.GET("/interfaces", s.require(auth.PermSessionView), s.interfaces)
	v1.POST("/start", s.require(auth.PermSessionControl), s.start)
	v1.POST("/stop", s.require(auth.PermSessionControl), s.stop)
	v1.GET("/history", s.require(auth.PermHistoryView), s.listHistory)
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the Unix socket at path until ctx is cancelled. A stale
// socket file left by a previous run is removed first.
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("control: socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", path, err)
	}
	defer os.Remove(path)
	if err := os.Chmod(path, 0660); err != nil {
		ln.Close()
		return fmt.Errorf("control: chmod %s: %w", path, err)
	}
	util.WithField("socket", path).Info("control API listening")
	return serve(ctx, ln, s.router, auth.ConnContext)
}

// ServeMetrics exposes only /metrics on a TCP address until ctx is
// cancelled.
func ServeMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	util.WithField("addr", ln.Addr().String()).Info("metrics listening")
	return serve(ctx, ln, router, nil)
}

func serve(ctx context.Context, ln net.Listener, h http.Handler, connContext func(context.Context, net.Conn) context.Context) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second, ConnContext: connContext}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) status(c *gin.Context) {
	st, err := s.svc.Status(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) interfaces(c *gin.Context) {
	reports, err := s.svc.ProbeInterfaces(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if reports == nil {
		reports = []hotspot.CapabilityReport{}
	}
	c.JSON(http.StatusOK, reports)
}

func (s *Server) start(c *gin.Context) {
	var cfg hotspot.HotspotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		abort(c, util.NewValidationError("request body: "+err.Error()))
		return
	}
	if cfg.Band != "" {
		band, err := hotspot.ParseBand(string(cfg.Band))
		if err != nil {
			abort(c, util.NewValidationError(err.Error()))
			return
		}
		cfg.Band = band
	}
	util.WithInterface(cfg.Interface).Infof("start requested: ssid=%q channel=%d band=%s", cfg.SSID, cfg.Channel, cfg.Band)

	began := time.Now()
	err := s.svc.Start(c.Request.Context(), cfg)
	s.record(audit.NewEvent(audit.OpStart).WithConfig(cfg).WithResult(err).WithDuration(time.Since(began)))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{Session: hotspot.SessionState{State: hotspot.StateRunning}})
}

func (s *Server) stop(c *gin.Context) {
	began := time.Now()
	err := s.svc.Stop(c.Request.Context())
	s.record(audit.NewEvent(audit.OpStop).WithResult(err).WithDuration(time.Since(began)))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{Session: hotspot.SessionState{State: hotspot.StateIdle}})
}

func (s *Server) listHistory(c *gin.Context) {
	filter := audit.Filter{
		SessionID:   c.Query("session"),
		Operation:   c.Query("operation"),
		FailureOnly: c.Query("failures") == "true",
		Limit:       historyLimit,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abort(c, util.NewValidationError(fmt.Sprintf("limit %q must be a non-negative number", v)))
			return
		}
		filter.Limit = n
	}
	if v := c.Query("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			abort(c, util.NewValidationError(fmt.Sprintf("since: %v", err)))
			return
		}
		filter.StartTime = time.Now().Add(-d)
	}

	events := []*audit.Event{}
	if s.opts.History != nil {
		var err error
		if events, err = s.opts.History.Query(filter); err != nil {
			abort(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) record(e *audit.Event) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.Log(e); err != nil {
		util.Warnf("history: %v", err)
	}
}

// require rejects callers without p. The caller is the Unix socket peer
// recorded by auth.ConnContext.
func (s *Server) require(p auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Access == nil {
			c.Next()
			return
		}
		peer, _ := auth.PeerFrom(c.Request.Context())
		if err := s.opts.Access.CheckUser(peer.Username, p); err != nil {
			util.WithFields(map[string]interface{}{"uid": peer.UID, "pid": peer.PID}).Warnf("%s %s: %v", c.Request.Method, c.FullPath(), err)
			abort(c, err)
			return
		}
		c.Next()
	}
}

// abort writes err as an ErrorResponse with the status its reason maps to.
func abort(c *gin.Context, err error) {
	resp := ErrorResponse{Code: util.ReasonOf(err), Error: err.Error()}
	var ve *util.ValidationError
	if errors.As(err, &ve) {
		resp.Details = ve.Errors
	}
	c.AbortWithStatusJSON(httpStatus(resp.Code), resp)
}

func httpStatus(r util.Reason) int {
	switch r {
	case util.ReasonInvalidConfig:
		return http.StatusBadRequest
	case util.ReasonPermission:
		return http.StatusForbidden
	case util.ReasonNoSuchInterface:
		return http.StatusNotFound
	case util.ReasonAlreadyActive, util.ReasonCancelled:
		return http.StatusConflict
	case util.ReasonUnsupported:
		return http.StatusUnprocessableEntity
	case util.ReasonStartupTimeout:
		return http.StatusGatewayTimeout
	case util.ReasonStartupFailed, util.ReasonDaemonExited, util.ReasonUplinkLost:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		util.WithField("path", c.Request.URL.Path).Debugf("%s %d in %s",
			c.Request.Method, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
