// Command orchestrator boots the conversation execution engine: it loads
// configuration, connects the durable Postgres store and (optionally)
// Redis, wires the executor registry and flow engine runtime, and serves
// the WebSocket and webhook channel gateways over HTTP (spec §6).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/flowtalk/engine/pkg/auth"
	"github.com/flowtalk/engine/pkg/auth/redisauth"
	"github.com/flowtalk/engine/pkg/cleanup"
	"github.com/flowtalk/engine/pkg/config"
	"github.com/flowtalk/engine/pkg/engine"
	"github.com/flowtalk/engine/pkg/engine/statemachine"
	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/executor/address"
	"github.com/flowtalk/engine/pkg/executor/distance"
	"github.com/flowtalk/engine/pkg/executor/externalsearch"
	"github.com/flowtalk/engine/pkg/executor/llm"
	"github.com/flowtalk/engine/pkg/executor/nlu"
	"github.com/flowtalk/engine/pkg/executor/order"
	"github.com/flowtalk/engine/pkg/executor/phpapi"
	"github.com/flowtalk/engine/pkg/executor/pricing"
	"github.com/flowtalk/engine/pkg/executor/response"
	"github.com/flowtalk/engine/pkg/executor/search"
	"github.com/flowtalk/engine/pkg/executor/selection"
	"github.com/flowtalk/engine/pkg/executor/zone"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/gateway/webhook"
	"github.com/flowtalk/engine/pkg/gateway/ws"
	"github.com/flowtalk/engine/pkg/orchestrator"
	"github.com/flowtalk/engine/pkg/rpcclient"
	"github.com/flowtalk/engine/pkg/session"
	"github.com/flowtalk/engine/pkg/session/redisstore"
	"github.com/flowtalk/engine/pkg/store/postgres"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./deploy/config.yaml"), "path to the YAML config file")
	flowDir := flag.String("flow-dir", getEnv("FLOW_DIR", "./deploy/flows"), "directory of flow definition YAML files")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	dbClient, err := postgres.NewClient(ctx, postgres.Config{DSN: cfg.Database.PostgresDSN})
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer dbClient.Close()
	slog.Info("connected to postgres")

	flowStore := postgres.NewFlowStore(dbClient)
	runStore := postgres.NewRunStore(dbClient)

	sessions, authSvc := buildSessionAndAuth(ctx, cfg)

	registry := executor.NewRegistry()
	registerExecutors(registry, cfg)
	registry.Close()

	flows, err := flowdef.LoadDir(*flowDir, registry)
	if err != nil {
		log.Fatalf("load flow definitions: %v", err)
	}
	for _, f := range flows {
		if err := flowStore.Upsert(ctx, f); err != nil {
			log.Fatalf("persist flow %s: %v", f.ID, err)
		}
	}

	flowCache := engine.NewFlowCache(flowStore, registry, 5*time.Minute)
	if err := flowCache.Load(ctx); err != nil {
		log.Fatalf("prime flow cache: %v", err)
	}

	machine := statemachine.New(registry)
	machine.AutoAdvanceMax = cfg.Engine.AutoAdvanceMax
	machine.TurnBudget = cfg.Engine.TurnBudget()
	machine.ExecutorTimeouts = executorTimeouts(cfg)

	runtime := engine.New(flowCache, runStore, machine)

	nluClient := &rpcclient.NLUHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.NLU.URL, cfg.Services.NLU.Credentials, 5*time.Second)}
	llmClient := buildFallbackLLM(cfg)

	router := orchestrator.New(sessions, authSvc, runtime, nluAdapter{nluClient}, clarifierAdapter{llmClient})
	router.TauStart = cfg.Router.TriggerThreshold
	router.DedupWindow = cfg.Engine.DedupWindow()
	router.LockWait = cfg.Engine.LockWait()

	hub := ws.NewHub(router, sessions, authSvc)

	var asrClient rpcclient.ASRClient
	if cfg.Services.ASR.URL != "" {
		asrClient = &rpcclient.ASRHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.ASR.URL, cfg.Services.ASR.Credentials, 15*time.Second)}
	}
	gw := webhook.New(router, &webhook.TextSender{Transport: newChannelTransport()}, asrClient)
	gw.Register(webhook.WhatsAppAdapter{})
	gw.Register(webhook.TelegramAdapter{})

	cleanupSvc := cleanup.NewService(runStore)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	gin.SetMode(getEnv("GIN_MODE", "release"))
	httpRouter := gin.Default()

	httpRouter.GET("/health", func(c *gin.Context) {
		if err := dbClient.Pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "flows": len(flows)})
	})

	httpRouter.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"flowsLoaded":       len(flows),
			"postgresPoolStat":  dbClient.Pool.Stat().TotalConns(),
			"postgresIdleConns": dbClient.Pool.Stat().IdleConns(),
		})
	})

	httpRouter.GET(cfg.Listen.WS.Path, func(c *gin.Context) {
		hub.HandleWS(c.Writer, c.Request, c.Query("sessionId"))
	})

	httpRouter.POST("/webhook/:channel", func(c *gin.Context) {
		gw.Handle(c.Param("channel"))(c.Writer, c.Request)
	})

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Listen.HTTP.Port), Handler: httpRouter}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("orchestrator listening", "addr", srv.Addr, "wsPath", cfg.Listen.WS.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-stop
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// buildSessionAndAuth wires Redis-backed stores when database.redisAddr is
// set (multi-process deployments), falling back to the in-memory
// implementations for single-process/dev use (spec §6.3).
func buildSessionAndAuth(ctx context.Context, cfg *config.Config) (session.Store, *auth.Service) {
	if cfg.Database.RedisAddr == "" {
		slog.Warn("database.redisAddr not set, using in-memory session and auth stores (single-process only)")
		return session.NewManagerWithTTL(cfg.Store.Session.TTL()), auth.New(auth.NewMemoryStore(), auth.NewMemoryPubSub())
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Database.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect to redis: %v", err)
	}
	slog.Info("connected to redis", "addr", cfg.Database.RedisAddr)

	sessions := redisstore.New(client, cfg.Store.Session.TTL())
	authSvc := auth.New(redisauth.NewStore(client), redisauth.NewPubSub(client))
	return sessions, authSvc
}

// registerExecutors constructs and registers every action handler the
// flow loader's referential-integrity checks validate against (spec §4.2,
// §6.2). external_search is skipped when no places endpoint is configured;
// flows that reference it then fail validation loudly at boot rather than
// at first invocation. Every other executor is always registered.
func registerExecutors(registry *executor.Registry, cfg *config.Config) {
	must := func(name string, e executor.Executor) {
		if err := registry.Register(name, e); err != nil {
			log.Fatalf("register executor %s: %v", name, err)
		}
	}

	must("response", response.New())
	must("selection", selection.New())

	timeout := func(name string, fallback time.Duration) time.Duration { return cfg.ExecutorTimeout(name, fallback) }

	must("nlu", nlu.New(
		&rpcclient.NLUHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.NLU.URL, cfg.Services.NLU.Credentials, timeout("nlu", 5*time.Second))},
		buildFallbackLLM(cfg),
		cfg.NLU.ConfidenceThreshold,
	))
	must("llm", llm.New(buildFallbackLLM(cfg)))
	must("search", search.New(&rpcclient.SearchHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Search.URL, cfg.Services.Search.Credentials, timeout("search", 5*time.Second))}))
	must("address", address.New(&rpcclient.ZoneHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Zone.URL, cfg.Services.Zone.Credentials, timeout("address", 5*time.Second))}))
	must("distance", distance.New(&rpcclient.RoutingHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Routing.URL, cfg.Services.Routing.Credentials, timeout("distance", 5*time.Second))}))
	must("zone", zone.New(&rpcclient.ZoneHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Zone.URL, cfg.Services.Zone.Credentials, timeout("zone", 5*time.Second))}))
	must("pricing", pricing.New(&rpcclient.PricingHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Pricing.URL, cfg.Services.Pricing.Credentials, timeout("pricing", 5*time.Second))}))
	must("order", order.New(&rpcclient.OrderHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Order.URL, cfg.Services.Order.Credentials, timeout("order", 10*time.Second))}))
	must("php_api", phpapi.New(&rpcclient.PHPAPIHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.PHPAPI.URL, cfg.Services.PHPAPI.Credentials, timeout("php_api", 10*time.Second))}))

	if cfg.Services.Places.URL != "" {
		must("external_search", externalsearch.New(&rpcclient.PlacesHTTPClient{HTTP: rpcclient.NewHTTPClient(cfg.Services.Places.URL, cfg.Services.Places.Credentials, timeout("external_search", 5*time.Second))}))
	}
}

// buildFallbackLLM wires one LLMHTTPClient per declared provider in
// config order, tried in sequence until one succeeds (spec §6.2).
func buildFallbackLLM(cfg *config.Config) rpcclient.LLMClient {
	providers := make([]rpcclient.LLMClient, 0, len(cfg.Services.LLM))
	for _, ep := range cfg.Services.LLM {
		providers = append(providers, &rpcclient.LLMHTTPClient{HTTP: rpcclient.NewHTTPClient(ep.URL, ep.Credentials, 20*time.Second)})
	}
	return &rpcclient.FallbackLLMClient{Providers: providers}
}

// executorTimeouts flattens the config.Executor map into the plain
// name->Duration map the state machine engine consults per invocation.
func executorTimeouts(cfg *config.Config) map[string]time.Duration {
	out := make(map[string]time.Duration, len(cfg.Executor))
	for name, ec := range cfg.Executor {
		if ec.TimeoutMs > 0 {
			out[name] = ec.Timeout()
		}
	}
	return out
}

