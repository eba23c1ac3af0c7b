// Package voicegw serves the AIRA voice socket: each utterance is
// transcribed, answered by a chat model and spoken back.
package voicegw

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway is the voice backend HTTP app.
type Gateway struct {
	cfg      *Config
	stages   Pipeline
	metrics  *Metrics
	registry *prometheus.Registry
	app      *fiber.App
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	calls map[string]*callInfo
	wg    sync.WaitGroup
}

type callInfo struct {
	conn      frameConn
	connected time.Time
}

// CallInfo describes an open voice socket.
type CallInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
}

// New creates a gateway running p for every utterance.
func New(p Pipeline, opts ...Option) (*Gateway, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		stages:   p,
		metrics:  NewMetrics(reg),
		registry: reg,
		logger:   cfg.Logger.With("component", "voicegw.gateway"),
		ctx:      ctx,
		cancel:   cancel,
		calls:    make(map[string]*callInfo),
	}
	g.app = g.newApp()
	return g, nil
}

func (g *Gateway) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "aira-voice",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: g.cfg.AllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/voice", websocket.New(g.handleVoice))

	health := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"calls":  g.CallCount(),
		})
	}
	app.Get("/health", health)
	app.Get("/healthz", health)

	app.Get("/calls", func(c *fiber.Ctx) error {
		calls := g.Calls()
		return c.JSON(fiber.Map{"calls": calls, "count": len(calls)})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})))
	return app
}

// App returns the fiber app, for mounting or testing.
func (g *Gateway) App() *fiber.App { return g.app }

// Registry returns the metrics registry.
func (g *Gateway) Registry() *prometheus.Registry { return g.registry }

// Listen serves on addr until Shutdown.
func (g *Gateway) Listen(addr string) error {
	g.logger.Info("listening", "addr", addr)
	return g.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	g.logger.Info("listening", "addr", ln.Addr().String())
	return g.app.Listener(ln)
}

// Shutdown closes every open call and stops the server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()

	g.mu.Lock()
	for _, info := range g.calls {
		hangUp(info.conn)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("calls still open at shutdown")
	}

	return g.app.ShutdownWithContext(ctx)
}

func (g *Gateway) handleVoice(c *websocket.Conn) {
	g.serve(uuid.NewString(), c)
}

// serve runs one call on conn and returns when it ends.
func (g *Gateway) serve(id string, conn frameConn) {
	g.wg.Add(1)
	defer g.wg.Done()

	g.mu.Lock()
	g.calls[id] = &callInfo{conn: conn, connected: time.Now()}
	g.mu.Unlock()
	g.metrics.ConnectionsTotal.Inc()
	g.metrics.ConnectionsActive.Inc()

	defer func() {
		g.mu.Lock()
		delete(g.calls, id)
		g.mu.Unlock()
		g.metrics.ConnectionsActive.Dec()
		hangUp(conn)
	}()

	c := &call{
		id:      id,
		conn:    conn,
		cfg:     g.cfg,
		stages:  g.stages,
		metrics: g.metrics,
		logger:  g.logger.With("call_id", id),
	}
	c.serve(g.ctx)
}

// CallCount returns the number of open calls.
func (g *Gateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Calls lists the open calls.
func (g *Gateway) Calls() []CallInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	infos := make([]CallInfo, 0, len(g.calls))
	for id, info := range g.calls {
		infos = append(infos, CallInfo{ID: id, Connected: info.connected})
	}
	return infos
}
