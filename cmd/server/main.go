package main

import (
	"context"
	"fmt"
	"net/http"

	"clinical-simulator/internal/config"
	"clinical-simulator/internal/core"
	"clinical-simulator/internal/db"
	httpserver "clinical-simulator/internal/http"
	"clinical-simulator/internal/llm"
	"clinical-simulator/internal/observability"
	"clinical-simulator/internal/session"
)

func main() {
	if err := run(); err != nil {
		observability.Logger().Fatalf("server exited: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := observability.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		observability.Logger().Warnf("invalid LOG_LEVEL %q: %v", cfg.LogLevel, err)
	}
	return serve(context.Background(), cfg)
}

// serve wires the stores and providers and blocks in ListenAndServe.  Every
// resource it opens is closed before it returns.
func serve(ctx context.Context, cfg *config.Config) error {
	log := observability.Logger()

	// Case store: JSON file by default, Postgres when configured
	var cases db.CaseRepository
	switch cfg.CasesBackend {
	case config.BackendPostgres:
		conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialise case database: %w", err)
		}
		defer conn.Close()
		repo := db.NewPostgresCaseRepository(conn)
		if err := repo.SeedIfEmpty(ctx, db.SampleCases()); err != nil {
			return fmt.Errorf("failed to seed cases: %w", err)
		}
		cases = repo
		log.Info("using Postgres case store")
	default:
		repo, err := db.NewJSONCaseRepository(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to initialise case file: %w", err)
		}
		cases = repo
		log.WithField("path", repo.Path).Info("using JSON case store")
	}

	// Session store
	var store session.Store
	switch cfg.SessionBackend {
	case config.BackendBadger:
		badgerStore, err := session.NewBadgerStore(cfg.BadgerPath, cfg.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		store = badgerStore
		log.WithField("path", cfg.BadgerPath).Info("using badger session store")
	default:
		store = session.NewMemoryStore(cfg.SessionTTL)
		log.Info("using in-memory session store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("failed to close session store")
		}
	}()

	// Models: speech always uses OpenAI, chat may use another provider
	var (
		chatClient   llm.Client
		speechClient llm.SpeechClient
	)
	switch cfg.LLMProvider {
	case config.ProviderMock:
		mock := llm.NewMockClient()
		chatClient, speechClient = mock, mock
		log.Warn("using MOCK LLM client")
	case config.ProviderAnthropic:
		chatClient = llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		speechClient = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIChatModel)
	default:
		oa := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIChatModel)
		chatClient, speechClient = oa, oa
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Cases:    cases,
		Sessions: session.NewManager(store),
		Chat:     core.NewChatService(chatClient),
		Scorer:   core.NewEvaluator(chatClient, cfg.ScoreDefault),
		Speech:   core.NewSpeechService(speechClient, cfg.TTSDefaultVoice),
		Efficiency: core.EfficiencyPolicy{
			Baseline: cfg.EfficiencyBaseline,
			Penalty:  cfg.EfficiencyPenalty,
		},
		DataDir: cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to construct server: %w", err)
	}

	addr := ":" + cfg.Port
	log.WithField("addr", addr).WithField("llm_provider", cfg.LLMProvider).Info("listening")
	if err := http.ListenAndServe(addr, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
