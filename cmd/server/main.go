// Command server is the composition root wiring the Scenario Executor, the
// Task Scheduler, the concrete plugins, and the HTTP API into a running
// process: it loads configuration, dials Mongo and Redis, constructs every
// capability plugin, registers their handlers, and starts the scheduler and
// HTTP server side by side until a signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/api"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/config"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/eventstream"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/handler"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/llmplugin"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/messagingplugin"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugins"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/ragplugin"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/repository"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/scenario"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/scheduler"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/storageplugin"
	"github.com/goa-ai-labs/scenario-orchestrator/runtime/agent/telemetry"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	mongoClient, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoClient.Disconnect(context.Background())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	var (
		scenarioRepo repository.ScenarioRepository
		agentRepo    repository.AgentRepository
		mongoRepo    *repository.MongoStore
	)
	if cfg.FixtureDir != "" {
		fixtures, err := repository.NewFixtureRepository(cfg.FixtureDir)
		if err != nil {
			return fmt.Errorf("build fixture repository: %w", err)
		}
		scenarioRepo = fixtures
		agentRepo = fixtures.Agents()
		logger.Info(ctx, "loaded scenario/agent documents from fixtures", "dir", cfg.FixtureDir)
	} else {
		mongoRepo, err = repository.NewMongoStore(repository.MongoOptions{
			Client: mongoClient, Database: cfg.MongoDatabase,
		})
		if err != nil {
			return fmt.Errorf("build scenario repository: %w", err)
		}
		scenarioRepo = mongoRepo
		agentRepo = repository.AgentRepositoryAdapter{Store: mongoRepo}
	}

	taskStore, err := scheduler.NewMongoTaskStore(scheduler.MongoStoreOptions{
		Client: mongoClient, Database: cfg.MongoDatabase, Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build task store: %w", err)
	}

	storage, err := storageplugin.NewProvider(storageplugin.Options{
		Client: mongoClient, Database: cfg.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("build storage plugin: %w", err)
	}

	ragBackend, err := ragplugin.NewMongoBackend(ragplugin.MongoBackendOptions{
		Client: mongoClient, Database: cfg.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("build rag backend: %w", err)
	}
	rag, err := ragplugin.NewProvider(ragBackend)
	if err != nil {
		return fmt.Errorf("build rag plugin: %w", err)
	}

	// messaging stays a nil plugin.Messaging interface value (not a non-nil
	// interface wrapping a nil *TelegramProvider) when no bot token is
	// configured, so plugins.Register's nil-check correctly skips
	// registering the telegram_* handlers.
	var messaging plugin.Messaging
	if cfg.TelegramBotToken != "" {
		tg, err := messagingplugin.NewTelegramProviderFromToken(cfg.TelegramBotToken)
		if err != nil {
			return fmt.Errorf("build messaging plugin: %w", err)
		}
		messaging = tg
	}

	llm, err := buildLLM(cfg)
	if err != nil {
		return fmt.Errorf("build llm plugin: %w", err)
	}

	eventClient, err := eventstream.NewClient(eventstream.ClientOptions{Redis: redisClient})
	if err != nil {
		return fmt.Errorf("build event stream client: %w", err)
	}
	publisher, err := eventstream.NewPublisher(eventstream.PublisherOptions{Client: eventClient})
	if err != nil {
		return fmt.Errorf("build event publisher: %w", err)
	}
	defer publisher.Close(context.Background())

	registry := handler.NewRegistry(func(tag string) {
		logger.Warn(ctx, "duplicate handler registration", "step_type", tag)
	})

	dispatcher := scheduler.NewHTTPDispatcher(fmt.Sprintf("http://localhost%s", cfg.HTTPAddr), "", nil)
	sched := scheduler.New(scheduler.Options{
		Store: taskStore, Dispatcher: dispatcher, Logger: logger, Metrics: metrics,
		Events:       publisher,
		TickInterval: cfg.SchedulerTickInterval,
	})

	executor := scenario.New(scenario.Dependencies{
		Registry:     registry,
		ScenarioRepo: scenarioRepo,
		AgentRepo:    agentRepo,
		Scheduling:   scheduler.PluginAdapter{Scheduler: sched},
		Logger:       logger,
		Metrics:      metrics,
		Events:       publisher,
	})
	defer executor.Close()

	plugins.Register(registry, plugins.Dependencies{
		Messaging: messaging,
		LLM:       llm,
		RAG:       rag,
		Storage:   storage,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pingers := []api.Pinger{taskStore, storage, ragBackend}
	if mongoRepo != nil {
		pingers = append(pingers, mongoRepo)
	}
	srv := api.New(api.Options{
		Executor:     executor,
		Scheduler:    sched,
		Agents:       agentRepo,
		Pingers:      pingers,
		LifecycleCtx: runCtx,
	})

	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", cfg.HTTPAddr)
		errc <- srv.Run(cfg.HTTPAddr)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-sigc:
		logger.Info(ctx, "shutting down", "signal", sig.String())
		time.Sleep(100 * time.Millisecond) // let in-flight responses drain
		return nil
	}
}

// buildLLM wires whichever of the two providers has credentials configured
// behind a Router; config.Load already rejects a configuration with neither
// key set.
func buildLLM(cfg config.Config) (*llmplugin.Router, error) {
	var opts llmplugin.RouterOptions
	opts.DefaultModel = cfg.AnthropicModel
	if cfg.AnthropicAPIKey != "" {
		p, err := llmplugin.NewAnthropicProviderFromAPIKey(cfg.AnthropicAPIKey, llmplugin.AnthropicOptions{
			DefaultModel: cfg.AnthropicModel, MaxTokens: cfg.LLMMaxTokens,
		})
		if err != nil {
			return nil, err
		}
		opts.Anthropic = p
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := llmplugin.NewOpenAIProviderFromAPIKey(cfg.OpenAIAPIKey, llmplugin.OpenAIOptions{
			DefaultModel: cfg.OpenAIModel, MaxTokens: cfg.LLMMaxTokens,
		})
		if err != nil {
			return nil, err
		}
		opts.OpenAI = p
		if cfg.LLMDefaultProvider == "openai" {
			opts.DefaultModel = cfg.OpenAIModel
		}
	}
	return llmplugin.NewRouter(opts)
}
