package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/marker"
	"github.com/loykin/viewport/internal/metrics"
	"github.com/loykin/viewport/internal/supervisor"
)

// Controller is the slice of the supervisor the API needs.
// Mutations travel to the loop goroutine; reads come from its snapshot.
type Controller interface {
	Status() supervisor.Status
	Layout() *layout.Layout
	Reset(ctx context.Context, keys ...layout.Key) (int, error)
	Reload(ctx context.Context) error
}

// Sampler exposes player resource samples. metrics.PlayerCollector implements it.
type Sampler interface {
	All() map[string]metrics.PlayerSample
	History(tile string) []metrics.PlayerSample
}

// Router provides embeddable HTTP handlers for the wall.
// Endpoints:
//
//	GET  {basePath}/status               full snapshot
//	GET  {basePath}/tiles/:tile          one tile (r,c or tile_r_c)
//	POST {basePath}/reset                query: tile=r,c (repeatable; omit for all)
//	POST {basePath}/reload               re-read the layout now
//	GET  {basePath}/layout               layout used by the last cycle
//	GET  {basePath}/players              latest resource sample per tile
//	GET  {basePath}/players/:tile        sample history of one tile
//	GET  {basePath}/metrics              Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	samples  Sampler
	basePath string
	timeout  time.Duration
}

// NewRouter constructs a Router. samples may be nil.
func NewRouter(ctrl Controller, samples Sampler, basePath string) *Router {
	return &Router{ctrl: ctrl, samples: samples, basePath: sanitizeBase(basePath), timeout: 5 * time.Second}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/tiles/:tile", r.handleTile)
	group.POST("/reset", r.handleReset)
	group.POST("/reload", r.handleReload)
	group.GET("/layout", r.handleLayout)
	group.GET("/players", r.handlePlayers)
	group.GET("/players/:tile", r.handlePlayerHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer binds addr and serves the router in the background, over TLS
// when tlsCfg is non-nil. Bind errors are returned; later serve errors are logged.
func NewServer(addr, basePath string, tlsCfg *tls.Config, ctrl Controller, samples Sampler) (*http.Server, error) {
	r := NewRouter(ctrl, samples, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
		scheme = "https"
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server stopped", "addr", addr, "error", err)
		}
	}()
	slog.Info("api server listening", "addr", ln.Addr().String(), "scheme", scheme, "base_path", r.basePath)
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type resetResp struct {
	OK     bool `json:"ok"`
	Lifted int  `json:"lifted"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Status())
}

func (r *Router) handleTile(c *gin.Context) {
	k, err := marker.ParseKey(c.Param("tile"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	for _, t := range r.ctrl.Status().Tiles {
		if t.Key == k {
			writeJSON(c, http.StatusOK, t)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, tileNotFound(k))
}

func (r *Router) handleReset(c *gin.Context) {
	keys, err := parseTiles(c.QueryArray("tile"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if len(keys) > 0 {
		lay := r.ctrl.Layout()
		for _, k := range keys {
			if !lay.Has(k) {
				writeJSON(c, http.StatusNotFound, tileNotFound(k))
				return
			}
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()
	n, err := r.ctrl.Reset(ctx, keys...)
	if err != nil {
		writeJSON(c, controlStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, resetResp{OK: true, Lifted: n})
}

func (r *Router) handleReload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()
	if err := r.ctrl.Reload(ctx); err != nil {
		writeJSON(c, controlStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLayout(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Layout())
}

func (r *Router) handlePlayers(c *gin.Context) {
	if r.samples == nil {
		writeJSON(c, http.StatusOK, map[string]metrics.PlayerSample{})
		return
	}
	writeJSON(c, http.StatusOK, r.samples.All())
}

func (r *Router) handlePlayerHistory(c *gin.Context) {
	k, err := marker.ParseKey(c.Param("tile"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if r.samples == nil {
		writeJSON(c, http.StatusOK, []metrics.PlayerSample{})
		return
	}
	h := r.samples.History(k.String())
	if h == nil {
		h = []metrics.PlayerSample{}
	}
	writeJSON(c, http.StatusOK, h)
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
