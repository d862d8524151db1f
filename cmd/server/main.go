// Command server runs the Warp multi-account reverse proxy: it fronts
// app.warp.dev's protobuf-over-SSE AI endpoint with OpenAI and Anthropic
// compatible client APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lofyer/warp-multiproxy-go/internal/account"
	"github.com/lofyer/warp-multiproxy-go/internal/config"
	"github.com/lofyer/warp-multiproxy-go/internal/dispatcher"
	"github.com/lofyer/warp-multiproxy-go/internal/httpclient"
	"github.com/lofyer/warp-multiproxy-go/internal/logging"
	"github.com/lofyer/warp-multiproxy-go/internal/server"
	"github.com/lofyer/warp-multiproxy-go/internal/session"
)

func main() {
	var (
		configPath string
		devMode    bool
		strategy   string
		port       int
		host       string
	)

	flag.StringVar(&configPath, "config", "config/settings.json", "Path to settings.json")
	flag.BoolVar(&devMode, "dev-mode", false, "Enable developer mode (debug logging)")
	flag.StringVar(&strategy, "strategy", "", "Account selection strategy override (round-robin/random/least-used/quota-aware)")
	flag.IntVar(&port, "port", 0, "Bind port (overrides settings.json)")
	flag.StringVar(&host, "host", "", "Bind address (overrides settings.json)")
	flag.Parse()

	if os.Getenv("DEV_MODE") == "true" {
		devMode = true
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.InsecureTLS = os.Getenv("WARP_INSECURE_TLS") == "true"
	cfg.ShowLoginInfo = os.Getenv("WARP_SHOW_LOGIN_INFO") == "true"
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if strategy != "" {
		cfg.Pool.Strategy = strategy
	}

	logging.Init(cfg.Logging.Format, cfg.DevMode)
	log := logging.L()

	store, err := account.NewStore(cfg.Pool.AccountsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Pool.AccountsDir).Msg("cannot open accounts directory")
	}

	retry429 := minutes(cfg.Pool.Retry429Minutes)
	pool := account.NewPool(store, cfg.Pool.Strategy, retry429)
	if err := pool.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load account pool")
	}

	breakerCfg := httpclient.BreakerConfig{
		Enabled:          cfg.Circuit.Enabled,
		FailureThreshold: uint32(cfg.Circuit.FailureThreshold),
		OpenTimeout:      cfg.Circuit.OpenTimeout,
	}
	httpCli := httpclient.New(cfg.Retry.RequestTimeout, cfg.InsecureTLS, breakerCfg)
	for _, acc := range pool.All() {
		acc.AttachBreaker(httpCli.Breaker(acc.Name))
	}

	sessionCli := session.New(cfg.Retry.RequestTimeout)
	d := dispatcher.New(pool, sessionCli, httpCli, cfg.Retry.MaxAttempts, cfg.Pool.SplitToolResult)

	srv := server.New(cfg, pool, sessionCli, d)

	status := pool.Status()
	log.Info().
		Int("total_accounts", status.Total).
		Int("available", status.Available).
		Str("strategy", pool.StrategyName()).
		Msg("account pool initialized")

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Run(ctx, addr); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
