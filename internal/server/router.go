package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/bedrockd/internal/metrics"
	"github.com/loykin/bedrockd/internal/status"
	"github.com/loykin/bedrockd/internal/supervisor"
)

// Source is what the router reads server state from.
type Source interface {
	Snapshot() supervisor.Snapshot
}

// Router provides embeddable HTTP handlers for the server status.
// Endpoints:
//
//	GET {basePath}/         status view JSON, always 200
//	GET {basePath}/players  player count and roster
//	GET {basePath}/healthz  liveness
//	GET {basePath}/metrics  Prometheus exposition (when a gatherer is set)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
	gatherer prometheus.Gatherer
}

// NewRouter constructs a Router. A nil gatherer disables /metrics.
func NewRouter(src Source, basePath string, g prometheus.Gatherer) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath), gatherer: g}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/", r.handleStatus)
	group.GET("/players", r.handlePlayers)
	group.GET("/healthz", r.handleHealth)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	}
	return g
}

// EchoHandler mounts the router's handler on an echo instance.
func (r *Router) EchoHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := echo.WrapHandler(r.Handler())
	if r.basePath == "" {
		e.Any("/*", h)
		return e
	}
	e.Any(r.basePath, h)
	e.Any(r.basePath+"/*", h)
	return e
}

// HandlerFor picks the handler for the configured framework ("gin" or "echo").
func (r *Router) HandlerFor(framework string) (http.Handler, error) {
	switch framework {
	case "", "gin":
		return r.Handler(), nil
	case "echo":
		return r.EchoHandler(), nil
	default:
		return nil, fmt.Errorf("unknown http framework %q", framework)
	}
}

// NewServer builds an http.Server with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

type healthResp struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

type playersResp struct {
	Count      int      `json:"count"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []string `json:"players"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, status.NewView(r.src.Snapshot()))
}

func (r *Router) handlePlayers(c *gin.Context) {
	snap := r.src.Snapshot()
	names := snap.Players
	if names == nil {
		names = []string{}
	}
	writeJSON(c, http.StatusOK, playersResp{Count: snap.PlayerCount, MaxPlayers: snap.MaxPlayers, Players: names})
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true, State: r.src.Snapshot().State.String()})
}
