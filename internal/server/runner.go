package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jroosing/hydralb/internal/config"
)

// stopTimeout bounds how long shutdown waits for in-flight dispatches.
const stopTimeout = 5 * time.Second

// Runner orchestrates the balancer startup, configuration, and shutdown.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Service is a long-lived loop run next to the balancer, such as the
// management API. It returns when ctx is canceled.
type Service func(ctx context.Context) error

// Run builds the balancer from cfg and serves until SIGINT or SIGTERM.
// attach may be nil; otherwise it returns extra services that need the built
// balancer.
func (r *Runner) Run(cfg *config.Config, attach func(*Balancer) ([]Service, error)) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bal, err := Build(ctx, cfg, r.logger)
	if err != nil {
		return err
	}
	defer bal.Close()

	var extra []Service
	if attach != nil {
		if extra, err = attach(bal); err != nil {
			return err
		}
	}
	return r.Serve(ctx, cfg, bal, extra...)
}

// Serve runs every long-lived loop of bal and blocks until ctx is canceled
// or one of them fails:
//   - one UDP frontend per worker socket, sharing the address via SO_REUSEPORT
//   - one response reader per backend socket
//   - health probes and slot table maintenance
//   - the dnstap writer and the DoH frontend, when enabled
//   - every extra service
func (r *Runner) Serve(ctx context.Context, cfg *config.Config, bal *Balancer, extra ...Service) error {
	g, ctx := errgroup.WithContext(ctx)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	sockets := r.socketCount(cfg)
	limiter := NewRateLimiter(cfg.RateLimit)
	r.logger.Info("dns listening",
		"addr", addr,
		"sockets", sockets,
		"max_concurrency", cfg.Server.MaxConcurrency,
		"backends", len(bal.Targets),
		"rate_limits", FormatRateLimitsLog(cfg.RateLimit),
	)

	frontends := make([]*UDPServer, 0, sockets)
	for range sockets {
		udp := &UDPServer{
			Logger:         r.logger,
			Engine:         bal.Engine,
			Limiter:        limiter,
			MaxConcurrency: cfg.Server.MaxConcurrency,
		}
		frontends = append(frontends, udp)
		g.Go(func() error { return udp.Run(ctx, addr, cfg.Server.ReadBuffer) })
	}

	for b, t := range bal.Conns() {
		for _, conn := range t.Conns() {
			g.Go(func() error {
				receiveResponses(ctx, bal.Engine, b, conn, r.logger)
				return nil
			})
		}
	}

	hc := &HealthChecker{Logger: r.logger}
	g.Go(func() error { return hc.Run(ctx, bal.Targets) })

	m := &Maintenance{Engine: bal.Engine, Pools: bal.Pools, Logger: r.logger}
	g.Go(func() error { return m.Run(ctx) })

	if bal.Tap != nil {
		g.Go(func() error { return bal.Tap.Run(ctx) })
	}

	if cfg.Server.DoH.Enabled {
		srv := r.dohServer(cfg, bal)
		g.Go(func() error {
			r.logger.Info("doh listening", "addr", srv.Addr, "path", cfg.Server.DoH.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	for _, svc := range extra {
		g.Go(func() error { return svc(ctx) })
	}

	err := g.Wait()
	for _, f := range frontends {
		_ = f.Stop(stopTimeout)
	}
	return err
}

func (r *Runner) dohServer(cfg *config.Config, bal *Balancer) *http.Server {
	doh := cfg.Server.DoH
	addr := net.JoinHostPort(doh.Host, strconv.Itoa(doh.Port))
	local, _ := netip.ParseAddrPort(addr)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	(&DoHServer{
		Engine:  bal.Engine,
		Logger:  r.logger,
		Path:    doh.Path,
		Timeout: doh.Timeout,
		Local:   local,
	}).Register(engine)

	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      doh.Timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// socketCount is the number of UDP frontend sockets: the configured worker
// count, or one per usable CPU.
func (r *Runner) socketCount(cfg *config.Config) int {
	if cfg.Server.Workers.Mode == config.WorkersFixed && cfg.Server.Workers.Value > 0 {
		return cfg.Server.Workers.Value
	}
	return max(runtime.GOMAXPROCS(0), 1)
}
