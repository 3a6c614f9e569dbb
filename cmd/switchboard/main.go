// Command switchboard runs the request router as an interactive console
// session against the configured backends.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mirako/switchboard"
	"github.com/mirako/switchboard/datasource/jsonfile"
	"github.com/mirako/switchboard/datasource/postgres"
	"github.com/mirako/switchboard/datasource/remote"
	"github.com/mirako/switchboard/internal/config"
	"github.com/mirako/switchboard/observer"
	"github.com/mirako/switchboard/provider/openaicompat"
	kafkasink "github.com/mirako/switchboard/sink/kafka"
	redisstore "github.com/mirako/switchboard/store/redis"
	"github.com/mirako/switchboard/store/sqlite"
	"github.com/mirako/switchboard/tools/order"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 1. Load config
	cfg := config.Load(os.Getenv("SWITCHBOARD_CONFIG"))

	intents, err := config.LoadIntents(cfg.Server.IntentsPath)
	if err != nil {
		log.Fatalf("load intents: %v", err)
	}
	rules, err := config.LoadPolicy(cfg.Server.PolicyPath)
	if err != nil {
		log.Fatalf("load policy: %v", err)
	}
	registry := switchboard.NewRegistry(intents)
	for _, it := range registry.All() {
		logger.Info("intent registered", "id", it.ID, "tool", it.Tool,
			"required_params", strings.Join(it.RequiredParams, ","))
	}

	// 2. Session store
	store, cleanup := buildStore(ctx, cfg, logger)
	defer cleanup()

	// 3. Telemetry pipeline
	var exempt []string
	for _, it := range intents {
		exempt = append(exempt, it.RedactExempt...)
	}
	pipelineOpts := []switchboard.PipelineOption{
		switchboard.WithPipelineLogger(logger),
		switchboard.WithSink(switchboard.NewSlogSink(logger)),
		switchboard.WithExemptParams(exempt...),
	}
	if sink, ok := store.(switchboard.TelemetrySink); ok {
		// The sqlite store doubles as a durable telemetry event log.
		pipelineOpts = append(pipelineOpts, switchboard.WithSink(sink))
	}
	if len(cfg.Telemetry.KafkaBrokers) > 0 {
		sink := kafkasink.New(cfg.Telemetry.KafkaBrokers, cfg.Telemetry.KafkaTopic,
			kafkasink.WithLogger(logger))
		defer sink.Close()
		pipelineOpts = append(pipelineOpts, switchboard.WithSink(sink))
	}

	var tracer switchboard.Tracer
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("init observer: %v", err)
		}
		defer shutdown(ctx)
		tracer = observer.NewTracer()
		pipelineOpts = append(pipelineOpts, switchboard.WithSink(observer.NewMetricSink(inst)))
	}
	telemetry := switchboard.NewPipeline(pipelineOpts...)

	// 4. Domain data + tools
	src, dataCleanup := buildDataSource(ctx, cfg)
	defer dataCleanup()
	tools := switchboard.NewToolRegistry(switchboard.WithToolLogger(logger))
	tools.Register("check_order_status", order.CheckStatus(src))
	tools.RegisterMutating("issue_refund", order.IssueRefund(src))
	tools.RegisterMutating("create_ticket", order.CreateTicket(src))

	// 5. Policy
	var policy switchboard.PolicyEngine = switchboard.AllowAll{}
	if len(rules) > 0 {
		policy = switchboard.NewRulePolicy(rules, switchboard.WithPolicyLogger(logger))
	}

	// 6. Classifier: LLM-backed when an API key is configured, regex otherwise.
	var classifier switchboard.Classifier = switchboard.NewRegexClassifier(intents,
		switchboard.WithRegexLogger(logger))
	var fallback switchboard.Provider
	if cfg.LLM.APIKey != "" {
		provider := openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
			openaicompat.WithTemperature(0))
		classifier = switchboard.NewLLMClassifier(provider,
			switchboard.WithClassifierLogger(logger))
		fallback = provider
	}

	// 7. Router
	runnerOpts := []switchboard.RunnerOption{
		switchboard.WithSummarizer(order.Summarize),
		switchboard.WithRunnerLogger(logger),
	}
	routerOpts := []switchboard.RouterOption{
		switchboard.WithRouterLogger(logger),
		switchboard.WithMaxHistory(cfg.Server.MaxHistory),
		switchboard.WithMaxAskAttempts(cfg.Server.MaxAsks),
	}
	if tracer != nil {
		runnerOpts = append(runnerOpts, switchboard.WithRunnerTracer(tracer))
		routerOpts = append(routerOpts, switchboard.WithRouterTracer(tracer))
	}
	if fallback != nil {
		routerOpts = append(routerOpts, switchboard.WithFallbackProvider(fallback))
	}
	runner := switchboard.NewPlanRunner(policy, tools, telemetry, runnerOpts...)
	router := switchboard.NewRouter(store, registry, classifier,
		switchboard.NewTemplatePlanner(), runner, telemetry, routerOpts...)

	repl(ctx, router)
}

// buildStore selects the session backend from config.
func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (switchboard.SessionStore, func()) {
	switch cfg.Session.Backend {
	case "sqlite":
		s := sqlite.New(cfg.Session.SQLitePath, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			log.Fatalf("init sqlite store: %v", err)
		}
		return s, func() { _ = s.Close() }
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Session.RedisAddr})
		ttl := time.Duration(cfg.Session.TTLSeconds) * time.Second
		return redisstore.New(client, ttl), func() { _ = client.Close() }
	default:
		return switchboard.NewMemoryStore(), func() {}
	}
}

// buildDataSource selects the domain data backend from config.
func buildDataSource(ctx context.Context, cfg config.Config) (switchboard.DataSource, func()) {
	switch cfg.Data.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Data.PostgresURL)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		src := postgres.New(pool)
		if err := src.Init(ctx); err != nil {
			log.Fatalf("init postgres source: %v", err)
		}
		return src, pool.Close
	case "remote":
		return remote.New(cfg.Data.RemoteURL), func() {}
	default:
		return jsonfile.New(cfg.Data.OrdersPath, ""), func() {}
	}
}

// repl reads messages from stdin and prints router replies until EOF.
func repl(ctx context.Context, router *switchboard.Router) {
	sessionID := switchboard.NewID()
	fmt.Println("switchboard console (ctrl-d to exit)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		resp, err := router.Handle(ctx, switchboard.Interaction{
			ID:   switchboard.NewID(),
			Text: text,
			Context: map[string]string{
				switchboard.CtxSessionID: sessionID,
				switchboard.CtxChannel:   "chat",
			},
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(resp.Text)
	}
}
