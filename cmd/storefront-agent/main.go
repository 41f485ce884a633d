package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Nyukimin/storefront_agent/internal/adapter/config"
	"github.com/Nyukimin/storefront_agent/internal/adapter/httpapi"
	"github.com/Nyukimin/storefront_agent/internal/adapter/logger"
	"github.com/Nyukimin/storefront_agent/internal/application/agent"
	"github.com/Nyukimin/storefront_agent/internal/application/healthwatch"
	"github.com/Nyukimin/storefront_agent/internal/application/router"
	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/llm/claude"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/llm/guard"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/llm/openai"
	inframcp "github.com/Nyukimin/storefront_agent/internal/infrastructure/mcp"
	sessionrepo "github.com/Nyukimin/storefront_agent/internal/infrastructure/persistence/session"
	infrarouting "github.com/Nyukimin/storefront_agent/internal/infrastructure/routing"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/tracer"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", config.PathFromEnv(), "path to config.yaml")
		serve       = flag.Bool("serve", false, "start the HTTP API (default when no other mode is given)")
		interactive = flag.Bool("interactive", false, "start an interactive session")
		query       = flag.String("query", "", "process a single request and exit")
		testOnly    = flag.Bool("test", false, "test the backend connection and exit")
	)
	flag.Parse()

	// 設定読み込み
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	appLogger, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(appLogger)

	appLogger.Info("loaded config",
		"path", *configPath,
		"environment", string(cfg.Environment),
		"oracle", cfg.Oracle.Provider,
		"backends", len(cfg.Backends),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 依存関係構築
	deps, err := buildDependencies(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to build dependencies", "error", err)
		return 1
	}
	defer deps.close()

	switch {
	case *testOnly:
		return runConnectionTest(ctx, deps.agent)
	case *query != "":
		return runQuery(ctx, deps.agent, *query)
	case *interactive:
		if err := runREPL(ctx, deps.agent); err != nil {
			appLogger.Error("interactive session failed", "error", err)
			return 1
		}
		return 0
	default:
		if !*serve {
			appLogger.Debug("no mode selected, starting HTTP API")
		}
		if err := runServer(ctx, cfg, deps, appLogger); err != nil {
			appLogger.Error("server failed", "error", err)
			return 1
		}
		return 0
	}
}

// Dependencies はアプリケーション依存関係
type Dependencies struct {
	agent          *agent.Agent
	handler        http.Handler
	watcher        *healthwatch.Watcher
	sessions       *sessionrepo.MemorySessionRepository
	shutdownTracer func(context.Context) error
}

func (d *Dependencies) close() {
	d.agent.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.shutdownTracer(ctx); err != nil {
		slog.Warn("failed to shut down tracer", "error", err)
	}
}

// buildDependencies は依存関係を構築
func buildDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// 1. Tracing
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := router.NewMetrics(registry)

	// 3. Decision Oracle
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	guarded := guard.New(provider, cfg.Oracle.Guard, logger)
	catalog := domainmcp.DefaultCatalog()
	oracle := infrarouting.NewOracle(guarded,
		infrarouting.WithCatalog(catalog),
		infrarouting.WithRestrictions(infrarouting.DefaultRestrictions()),
		infrarouting.WithLogger(logger),
	)
	logger.Info("oracle configured", "provider", provider.Name(), "model", provider.Model())

	// 4. Backends
	backendRegistry := inframcp.NewRegistry()
	factory := inframcp.NewConnectorFactory(cfg.CallTimeout(), catalog, version, logger)
	r := router.New(backendRegistry, oracle, factory,
		router.WithCallTimeout(cfg.CallTimeout()),
		router.WithMetrics(metrics),
		router.WithLogger(logger),
	)

	// 5. Agent
	sessions := sessionrepo.NewMemorySessionRepository()
	a := agent.New(backendRegistry, r, oracle, sessions, agent.Config{
		Backends: cfg.Backends,
		Primary:  cfg.MCP.Primary,
	}, logger)

	// 6. Health watch
	var watcher *healthwatch.Watcher
	if cfg.Health.Enabled {
		watcher, err = healthwatch.New(cfg.Health.Schedule, logger)
		if err != nil {
			return nil, err
		}
		for _, d := range cfg.Backends {
			watcher.Register("backend:"+d.Name, healthwatch.BackendCheck(a, d.Name))
			if d.HealthURL != "" {
				watcher.Register("http:"+d.Name, healthwatch.HTTPCheck(d.HealthURL, cfg.CallTimeout()))
			}
		}
	}

	// 7. Adapter (HTTP API)
	opts := httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SSEKeepalive:   cfg.Server.SSEKeepalive,
		Gatherer:       registry,
		Logger:         logger,
	}
	if watcher != nil {
		opts.Health = watcher
	}
	handler := httpapi.NewHandler(a, opts)

	logger.Info("dependency injection complete")

	return &Dependencies{
		agent:          a,
		handler:        handler,
		watcher:        watcher,
		sessions:       sessions,
		shutdownTracer: shutdownTracer,
	}, nil
}

// buildProvider は設定に従ってOracle用のLLMプロバイダーを作成
func buildProvider(cfg *config.Config) (llm.LLMProvider, error) {
	oc := cfg.Oracle
	switch oc.Provider {
	case config.ProviderAzure:
		return openai.NewOpenAIProviderWithConfig(openai.Config{
			APIKey:          oc.Azure.APIKey,
			Model:           oc.Azure.Deployment,
			AzureEndpoint:   oc.Azure.Endpoint,
			AzureAPIVersion: oc.Azure.APIVersion,
			MaxRetries:      oc.MaxRetries,
			Timeout:         oc.Timeout,
		}), nil
	case config.ProviderOpenAI:
		return openai.NewOpenAIProviderWithConfig(openai.Config{
			APIKey:     oc.OpenAI.APIKey,
			Model:      oc.OpenAI.Model,
			BaseURL:    oc.OpenAI.BaseURL,
			MaxRetries: oc.MaxRetries,
			Timeout:    oc.Timeout,
		}), nil
	case config.ProviderClaude:
		p := claude.NewClaudeProvider(oc.Claude.APIKey, oc.Claude.Model)
		p.SetMaxRetries(oc.MaxRetries)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", oc.Provider)
	}
}

// runServer はHTTPサーバーを起動し、シグナルを受けたら停止する
func runServer(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	if !deps.agent.Initialize(ctx) {
		return fmt.Errorf("failed to initialize storefront agent")
	}

	if deps.watcher != nil {
		go deps.watcher.Run(ctx)
	}
	go pruneSessions(ctx, deps.sessions, cfg.Session.IdleTimeout, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           deps.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting storefront agent API", "addr", srv.Addr, "version", version)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pruneSessions はアイドル状態のセッションを定期的に削除する
func pruneSessions(ctx context.Context, repo *sessionrepo.MemorySessionRepository, idle time.Duration, logger *slog.Logger) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.Prune(ctx, idle)
			if err != nil {
				logger.Warn("failed to prune sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned idle sessions", "count", n)
			}
		}
	}
}

// runConnectionTest は接続テストを行い、終了コードを返す
func runConnectionTest(ctx context.Context, a *agent.Agent) int {
	if !a.Initialize(ctx) || !a.TestConnection(ctx) {
		fmt.Printf("❌ Connection to %s failed\n", a.PrimaryBackend())
		return 1
	}
	fmt.Printf("✅ Connected to %s\n", a.PrimaryBackend())
	return 0
}

// runQuery は1件のリクエストを処理して結果を表示する
func runQuery(ctx context.Context, a *agent.Agent, query string) int {
	if !a.Initialize(ctx) {
		fmt.Fprintf(os.Stderr, "Failed to connect to %s\n", a.PrimaryBackend())
		return 1
	}

	resp := a.Process(ctx, query)
	fmt.Println(resp.FinalResponse)
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "(%s) %s\n", resp.Outcome.State, resp.Error)
		return 1
	}
	return 0
}
