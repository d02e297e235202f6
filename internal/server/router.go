package server

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/streamgate/internal/demand"
	"github.com/loykin/streamgate/internal/metrics"
	"github.com/loykin/streamgate/internal/process"
)

// Processes is the read side of the supervisor.
type Processes interface {
	List() []process.Status
	Get(name string) (process.Status, bool)
}

// Paths is the read side of the demand orchestrator.
type Paths interface {
	Paths() []demand.PathStatus
	Path(path string) (demand.PathStatus, bool)
}

// Options wires the router to the running control plane. Nil fields disable
// the endpoints that need them.
type Options struct {
	Processes Processes
	Paths     Paths
	Usage     *metrics.UsageCollector
	// Live is mounted at {basePath}/ws and receives websocket upgrades.
	Live http.Handler
	// Metrics exposes the prometheus registry at /metrics.
	Metrics bool
	// TLS switches the standalone server to HTTPS.
	TLS *tls.Config
	Log *slog.Logger
}

// Router provides embeddable HTTP handlers for inspecting the gateway.
// Endpoints:
//
//	GET {basePath}/healthz
//	GET {basePath}/processes          list of worker statuses
//	GET {basePath}/processes/:name    one worker, with usage history when sampled
//	GET {basePath}/paths              demand state of every known path
//	GET {basePath}/paths/*path        one path
//	GET {basePath}/ws                 live telemetry stream
//	GET /metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	opts     Options
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(basePath string, opts Options) *Router {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Router{opts: opts, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests())
	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	if r.opts.Processes != nil {
		group.GET("/processes", r.handleProcesses)
		group.GET("/processes/:name", r.handleProcess)
	}
	if r.opts.Paths != nil {
		group.GET("/paths", r.handlePaths)
		group.GET("/paths/*path", r.handlePath)
	}
	if r.opts.Live != nil {
		group.GET("/ws", gin.WrapH(r.opts.Live))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// It serves HTTPS when opts.TLS is set. Listen errors other than
// http.ErrServerClosed are logged.
func NewServer(addr, basePath string, opts Options) (*http.Server, error) {
	r := NewRouter(basePath, opts)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serve := server.ListenAndServe
	if opts.TLS != nil {
		server.TLSConfig = opts.TLS
		serve = func() error { return server.ListenAndServeTLS("", "") }
	}
	go func() {
		if err := serve(); err != nil && err != http.ErrServerClosed {
			r.opts.Log.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

func (r *Router) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.opts.Log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK        bool `json:"ok"`
	Processes int  `json:"processes"`
	Paths     int  `json:"paths"`
}

type processView struct {
	process.Status
	Uptime  string          `json:"uptime,omitempty"`
	Usage   *metrics.Usage  `json:"usage,omitempty"`
	History []metrics.Usage `json:"history,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	resp := healthResp{OK: true}
	if r.opts.Processes != nil {
		resp.Processes = len(r.opts.Processes.List())
	}
	if r.opts.Paths != nil {
		resp.Paths = len(r.opts.Paths.Paths())
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) view(st process.Status, history bool) processView {
	v := processView{Status: st}
	if up := st.Uptime(); up > 0 {
		v.Uptime = up.Truncate(time.Second).String()
	}
	if u := r.opts.Usage; u != nil && u.Enabled() {
		if latest, ok := u.Latest(st.Name); ok {
			v.Usage = &latest
		}
		if history {
			v.History = u.History(st.Name)
		}
	}
	return v
}

func (r *Router) handleProcesses(c *gin.Context) {
	sts := r.opts.Processes.List()
	out := make([]processView, 0, len(sts))
	for _, st := range sts {
		out = append(out, r.view(st, false))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleProcess(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	st, ok := r.opts.Processes.Get(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process: " + name})
		return
	}
	writeJSON(c, http.StatusOK, r.view(st, true))
}

func (r *Router) handlePaths(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.opts.Paths.Paths())
}

func (r *Router) handlePath(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if !isSafePath(path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path"})
		return
	}
	st, ok := r.opts.Paths.Path(path)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown path: " + path})
		return
	}
	writeJSON(c, http.StatusOK, st)
}
