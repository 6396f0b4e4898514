package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/cache"
	"github.com/lucia-ai/lucia/pkg/config"
	"github.com/lucia-ai/lucia/pkg/hub"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/observability"
	"github.com/lucia-ai/lucia/pkg/orchestrator"
	"github.com/lucia-ai/lucia/pkg/scheduler"
	"github.com/lucia-ai/lucia/pkg/session"
	"github.com/lucia-ai/lucia/pkg/store"
	"github.com/lucia-ai/lucia/pkg/toolserver"
)

// ServeCmd starts the orchestrator: A2A server, agent registry,
// scheduler, and all backing services.
type ServeCmd struct {
	Host string `help:"Bind host (overrides config)."`
	Port int    `help:"Bind port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability first so everything below traces and counts.
	tp, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.Observability.TracerEnabled,
		ExporterType: cfg.Observability.TracerExporter,
		EndpointURL:  cfg.Observability.TracerEndpoint,
		SamplingRate: cfg.Observability.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer shutdownTracer(tp)

	metrics, err := observability.InitMetrics(observability.MetricsConfig{Enabled: cfg.Observability.MetricsEnabled})
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	// Durable store and seed data.
	st, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to document store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			slog.Warn("document store close failed", "error", err)
		}
	}()
	if err := st.Seed(ctx, cfg); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}

	// Redis is optional: without it, sessions and caches are
	// memory-only and do not survive restarts.
	rdb := connectRedis(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	// Tool servers.
	tools := toolserver.NewRegistry()
	defer tools.Close()
	connectToolServers(ctx, st, tools)

	// Agents.
	resolver := llms.NewResolver(st)
	registry := agent.NewRegistry()
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	builder := agent.NewBuilder(resolver, tools, st, baseURL)
	loader := agent.NewLoader(st, builder, registry)
	if err := loader.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}

	// Request pipeline.
	routerChat, err := resolver.ChatClient(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to resolve routing model: %w", err)
	}

	router := orchestrator.NewRouter(registry, routerChat, orchestrator.RouterConfig{
		ConfidenceThreshold:  cfg.Router.ConfidenceThreshold,
		MaxAttempts:          cfg.Router.MaxAttempts,
		Timeout:              cfg.Router.Timeout,
		Temperature:          cfg.Router.Temperature,
		MaxExamplesPerAgent:  cfg.Router.MaxExamplesPerAgent,
		FallbackAgentID:      cfg.Router.FallbackAgentID,
		ClarificationAgentID: cfg.Router.ClarificationAgentID,
	}, metrics)

	dispatcher := orchestrator.NewDispatcher(registry, a2a.NewClient(&a2a.ClientConfig{
		Timeout:    cfg.Dispatch.DefaultTimeout,
		MaxRetries: cfg.Dispatch.MaxRetries,
	}), orchestrator.DispatchConfig{
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		RetryDelay:     cfg.Dispatch.RetryDelay,
	}, metrics)

	cacheOpts := []cache.Option{
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithDefaultTTL(cfg.Cache.TTL),
	}
	sessionOpts := []session.Option{
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithMaxTurns(cfg.Session.MaxTurns),
	}
	if rdb != nil {
		cacheOpts = append(cacheOpts, cache.WithRedis(rdb))
		sessionOpts = append(sessionOpts, session.WithRedis(rdb, cfg.Session.KeyPrefix+":session:"))
	}
	decisions := cache.New(cacheOpts...)
	sessions := session.NewService(sessionOpts...)
	go sessions.Start(ctx)

	facade := orchestrator.New(orchestrator.Config{
		OrchestratorAgentID: orchestratorAgentID(cfg),
		FallbackMessage:     cfg.Dispatch.FallbackReply,
		RoutingCacheTTL:     cfg.Cache.TTL,
	}, router, dispatcher, sessions, decisions, registry, st, metrics)

	// Scheduler.
	hubClient := hub.NewClient(hub.Config{
		BaseURL:            cfg.Hub.BaseURL,
		Token:              cfg.Hub.Token,
		Timeout:            time.Duration(cfg.Hub.TimeoutSeconds) * time.Second,
		InsecureSkipVerify: cfg.Hub.InsecureSkipVerify,
	})
	sched := scheduler.NewService(scheduler.Config{
		PollInterval:   cfg.Scheduler.PollInterval,
		RecoveryWindow: cfg.Scheduler.MaxRecoveryAge,
	}, st, &scheduler.Deps{
		Hub:       hubClient,
		Responder: facade,
		Clocks:    st,
		Cron:      scheduler.NewCronService(),
		Metrics:   metrics,
	})
	go sched.Start(ctx)

	// Config file changes rebuild the agent registry.
	notify := make(chan struct{}, 1)
	go loader.Watch(ctx, notify)
	if err := config.Watch(cli.Config, ctx.Done(), func(next *config.Config) {
		if err := st.Seed(context.Background(), next); err != nil {
			slog.Error("config reload seed failed", "error", err)
			return
		}
		resolver.Invalidate("")
		select {
		case notify <- struct{}{}:
		default:
		}
	}); err != nil {
		slog.Warn("config watch disabled", "error", err)
	}

	server := a2a.NewServer(facade, registry,
		a2a.WithTaskProvider(scheduler.NewTaskProvider(sched)),
		a2a.WithExtraRoutes(adminRoutes(cfg, st, decisions, sched, tools, hubClient)),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("lucia starting", "addr", addr, "agents", len(registry.List()))
	return server.ListenAndServe(ctx, addr, cfg.Scheduler.ShutdownGrace)
}

// orchestratorAgentID finds the seeded orchestrator agent; requests
// addressed to it run the full routing pipeline.
func orchestratorAgentID(cfg *config.Config) string {
	for _, a := range cfg.Agents {
		if a.IsOrchestrator {
			return a.ID
		}
	}
	return "lucia"
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unavailable, running memory-only", "addr", cfg.Addr, "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}

// connectToolServers brings up every enabled tool server. Individual
// failures are logged; the stdio transport keeps retrying on its own.
func connectToolServers(ctx context.Context, st *store.Store, tools *toolserver.Registry) {
	servers, err := st.ListToolServers(ctx)
	if err != nil {
		slog.Error("failed to list tool servers", "error", err)
		return
	}

	for i := range servers {
		server := &servers[i]
		if !server.Enabled {
			continue
		}
		if err := tools.Connect(ctx, server); err != nil {
			slog.Error("tool server connect failed", "server", server.ID, "error", err)
		}
	}
}

// shutdownTracer flushes buffered spans. The noop provider used when
// tracing is disabled has no Shutdown and is skipped.
func shutdownTracer(tp trace.TracerProvider) {
	shutdown, ok := tp.(interface{ Shutdown(context.Context) error })
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown.Shutdown(ctx); err != nil {
		slog.Warn("tracer shutdown failed", "error", err)
	}
}
