package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"memproto/client"
	"memproto/internal/cli/config"
	"memproto/internal/ratelimit"
)

var version = "dev"

const defaultCallsPerMinute = 60

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := newBridge(ctx, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := newServer(b).Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger writes to stderr only; stdout carries the protocol.
func newLogger() *zap.Logger {
	if os.Getenv("MEMPROTO_DEBUG") != "1" {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// bridge is the client a tool call runs against. When the tokens came from the CLI
// config, refreshed tokens are written back there.
type bridge struct {
	cl      *client.Client
	logger  *zap.Logger
	limiter *ratelimit.Limiter

	// persistMu serializes persist, since tool calls run concurrently.
	persistMu sync.Mutex
	persist   func() error
}

func newBridge(ctx context.Context, logger *zap.Logger) (*bridge, error) {
	limiter, err := newLimiter()
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(os.Getenv("MEMPROTO_URL"))
	email := strings.TrimSpace(os.Getenv("MEMPROTO_EMAIL"))
	password := os.Getenv("MEMPROTO_PASSWORD")

	if baseURL != "" && email != "" && password != "" {
		if _, err := url.ParseRequestURI(baseURL); err != nil {
			return nil, fmt.Errorf("invalid MEMPROTO_URL: %w", err)
		}
		cl, err := client.Connect(ctx, baseURL, email, password, client.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Info("logged in", zap.String("url", cl.BaseURL()), zap.String("email", email))
		return &bridge{cl: cl, logger: logger, limiter: limiter}, nil
	}

	cfgPath, err := config.Path()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	srv, ok := cfg.Default()
	if !ok || srv.URL == "" {
		return nil, errors.New("MEMPROTO_URL with MEMPROTO_EMAIL and MEMPROTO_PASSWORD, or a `memproto connect` session, is required")
	}
	cl := client.New(srv.URL,
		client.WithLogger(logger),
		client.WithTokens(srv.AccessToken, srv.RefreshToken))
	return &bridge{
		cl:      cl,
		logger:  logger,
		limiter: limiter,
		persist: configPersister(cl, cfgPath, srv.URL, logger),
	}, nil
}

// configPersister writes refreshed tokens back to the CLI config, unless the
// environment pointed the session at a different server.
func configPersister(cl *client.Client, cfgPath, serverURL string, logger *zap.Logger) func() error {
	return func() error {
		access, refresh := cl.Tokens()
		saved, err := config.SaveTokens(cfgPath, serverURL, access, refresh)
		if err == nil && !saved {
			logger.Debug("refreshed tokens not saved, session comes from the environment",
				zap.String("url", serverURL))
		}
		return err
	}
}

func newLimiter() (*ratelimit.Limiter, error) {
	perMinute := defaultCallsPerMinute
	if raw := strings.TrimSpace(os.Getenv("MEMPROTO_MCP_CALLS_PER_MINUTE")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MEMPROTO_MCP_CALLS_PER_MINUTE: %q", raw)
		}
		perMinute = n
	}
	return ratelimit.New(perMinute, time.Minute), nil
}

// call runs fn for the named tool, refreshing the session once if the server
// rejects the access token.
func (b *bridge) call(ctx context.Context, tool string, fn func() error) error {
	if r := b.limiter.Allow(tool); !r.Allowed {
		return fmt.Errorf("%s: rate limit exceeded, retry after %s", tool, r.RetryAt.Format(time.RFC3339))
	}
	err := fn()
	if !client.IsUnauthorized(err) {
		return err
	}
	if _, refresh := b.cl.Tokens(); refresh == "" {
		return err
	}
	if _, rerr := b.cl.RefreshAuth(ctx); rerr != nil {
		b.logger.Debug("refresh failed", zap.Error(rerr))
		return err
	}
	if b.persist != nil {
		b.persistMu.Lock()
		perr := b.persist()
		b.persistMu.Unlock()
		if perr != nil {
			b.logger.Warn("save refreshed tokens", zap.Error(perr))
		}
	}
	return fn()
}
