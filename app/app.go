// Package app wires a Connector to the optional surfaces (HTTP, MCP, the
// avatar) from a Config and runs them until the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mbocsi/gobridge/avatar"
	"github.com/mbocsi/gobridge/bridge"
	"github.com/mbocsi/gobridge/config"
	"github.com/mbocsi/gobridge/discovery"
	"github.com/mbocsi/gobridge/mcp"
	"github.com/mbocsi/gobridge/rpccall"
	"github.com/mbocsi/gobridge/transport"
	"github.com/mbocsi/gobridge/web"
)

const (
	connectAttempts = 5
	retryDelay      = 500 * time.Millisecond
)

type App struct {
	Config    config.Config
	Connector *bridge.Connector
	Caller    *rpccall.Caller
	Avatar    *avatar.Avatar
	Registry  *prometheus.Registry

	web    *web.Server
	mcp    *mcp.MCPServer
	logger *slog.Logger

	mu         sync.Mutex
	runCtx     context.Context // set by Start, cancelled before teardown
	reconnects sync.WaitGroup
}

// New resolves the host (over mDNS when cfg.Discover is set) and builds
// every component. Nothing connects until Start.
func New(ctx context.Context, cfg config.Config, version string, respond avatar.Responder, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Discover {
		service := discovery.ServiceTCP
		if cfg.IsWebSocket() {
			service = discovery.ServiceWebSocket
		}
		lookupCtx, cancel := context.WithTimeout(ctx, discovery.DefaultTimeout)
		found, err := discovery.Lookup(lookupCtx, service)
		cancel()
		if err != nil {
			return nil, err
		}
		cfg.Host, cfg.Port = found.Host, found.Port
	}

	t, err := transport.New(cfg.Transport, cfg.Endpoint(), cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := bridge.NewMetrics(reg, "gobridge")

	c := bridge.New(t,
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
		bridge.WithDialTimeout(cfg.DialTimeout),
		bridge.WithJoinTimeout(cfg.JoinTimeout),
		bridge.WithReadBufferSize(cfg.ReadBufferSize),
		bridge.WithSendRate(cfg.SendRate, cfg.SendBurst),
	)

	a := &App{
		Config:    cfg,
		Connector: c,
		Caller:    rpccall.New(c, cfg.CallTimeout, logger),
		Registry:  reg,
		logger:    logger,
	}

	var mcpAvatar mcp.Avatar
	if cfg.AvatarNode != "" {
		a.Avatar = avatar.New("avatar", cfg.AvatarNode, c, a.Caller, logger)
		mcpAvatar = a.Avatar
		if respond != nil {
			if err := a.Avatar.Listen(c, respond); err != nil {
				return nil, fmt.Errorf("register player input: %w", err)
			}
		}
	}

	if cfg.HTTPAddr != "" {
		a.web = web.NewServer(c, a.Caller, reg, logger)
	}
	if cfg.MCP {
		a.mcp = mcp.NewMCPServer(c, mcpAvatar, version, logger)
	}

	if cfg.Reconnect {
		c.OnClosed(a.reconnect)
	}
	return a, nil
}

// Start connects, starts the configured surfaces and blocks until ctx is
// done, then tears everything down.
func (a *App) Start(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	a.mu.Lock()
	a.runCtx = runCtx
	a.mu.Unlock()

	if err := bridge.ConnectWithRetry(runCtx, a.Connector, connectAttempts, retryDelay); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	if a.web != nil {
		go func() {
			if err := a.web.Start(a.Config.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if a.mcp != nil {
		go func() {
			if err := a.mcp.Start(); err != nil {
				errCh <- fmt.Errorf("mcp server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	a.logger.Info("Shutting down bridge")

	// stop reconnecting before tearing down
	a.Connector.OnClosed(nil)
	a.mu.Lock()
	stop()
	a.mu.Unlock()
	a.reconnects.Wait()
	a.Caller.Close()

	var errs []error
	errs = append(errs, runErr)
	if a.web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.web.Shutdown(shutdownCtx))
		cancel()
	}
	errs = append(errs, a.Connector.Disconnect())
	return errors.Join(errs...)
}

func (a *App) reconnect(reason error) {
	if reason == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx := a.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	a.logger.Warn("Connection lost, reconnecting", "reason", reason)
	a.reconnects.Add(1)
	go func() {
		defer a.reconnects.Done()
		if err := bridge.ConnectWithRetry(ctx, a.Connector, connectAttempts, retryDelay); err != nil && ctx.Err() == nil {
			a.logger.Error("Reconnect failed", "error", err)
		}
	}()
}
