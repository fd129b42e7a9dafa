// Package app wires configuration, storage, the generation provider and the
// study services into one application context.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ana-joker/FULLSTUDY/internal/cache"
	"github.com/ana-joker/FULLSTUDY/internal/config"
	"github.com/ana-joker/FULLSTUDY/internal/events"
	"github.com/ana-joker/FULLSTUDY/internal/llm"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/repositories/memory"
	"github.com/ana-joker/FULLSTUDY/internal/repositories/postgres"
	"github.com/ana-joker/FULLSTUDY/internal/repositories/sqlite"
	"github.com/ana-joker/FULLSTUDY/internal/services"
	"github.com/ana-joker/FULLSTUDY/internal/utils"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
	"github.com/ana-joker/FULLSTUDY/pkg"
)

// App owns every long-lived dependency. Services are replaced as a set by
// RestoreBackup, so hold the App rather than individual services.
type App struct {
	config    *config.Config
	logger    *slog.Logger
	backend   repositories.Backend
	repo      repositories.Repository
	generator services.GenerationService
	publisher events.EventPublisher
	cache     cache.CacheService
	validator *validator.Validator

	quiz      services.QuizService
	recall    services.RecallService
	chat      services.ChatService
	knowledge services.KnowledgeService
	settings  services.SettingsService
	export    services.ExportService

	closers []func() error
}

type options struct {
	logger    *slog.Logger
	generator services.GenerationService
	backend   repositories.Backend
	publisher events.EventPublisher
}

type Option func(*options)

// WithGenerationService replaces the OpenAI compatible provider.
func WithGenerationService(g services.GenerationService) Option {
	return func(o *options) { o.generator = g }
}

// WithBackend skips opening the configured storage driver. The caller keeps
// ownership of backend.
func WithBackend(b repositories.Backend) Option {
	return func(o *options) { o.backend = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithPublisher(p events.EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = utils.NewLogger(cfg.Environment)
	}

	a := &App{
		config:    cfg,
		logger:    o.logger,
		validator: validator.New(),
	}

	if err := a.init(ctx, o); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			a.logger.Error("Failed to release resources after startup error", "error", closeErr)
		}
		return nil, err
	}

	a.buildServices()
	a.logger.Info("Study core ready",
		"storage", cfg.Storage.Driver,
		"events", cfg.Events.Enabled,
		"cache", a.cache != nil)
	return a, nil
}

func (a *App) init(ctx context.Context, o *options) error {
	a.backend = o.backend
	if a.backend == nil {
		backend, err := a.openBackend(ctx)
		if err != nil {
			return err
		}
		a.backend = backend
		a.closers = append(a.closers, backend.Close)
	}
	a.repo = repositories.NewBackendRepository(a.backend)

	a.publisher = o.publisher
	if a.publisher == nil {
		publisher, err := a.config.Events.CreateEventPublisher(a.logger)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		if publisher != nil {
			a.publisher = publisher
			a.closers = append(a.closers, publisher.Close)
		}
	}

	if a.config.Cache.Enabled {
		client, err := pkg.NewRedisClient(ctx, a.config.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect cache: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.cache = cache.NewRedisCache(client, a.config.Cache.Prefix, a.logger)
	}

	a.generator = o.generator
	if a.generator == nil {
		provider, err := llm.NewProvider(llm.Config{
			BaseURL:           a.config.AI.BaseURL,
			APIKey:            a.config.AI.APIKey,
			Model:             a.config.AI.Model,
			RequestsPerMinute: a.config.AI.RequestsPerMinute,
			MaxRetries:        a.config.AI.MaxRetries,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create generation provider: %w", err)
		}
		a.generator = provider
	}
	return nil
}

func (a *App) openBackend(ctx context.Context) (repositories.Backend, error) {
	storage := a.config.Storage
	switch storage.Driver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case config.StorageSQLite:
		return sqlite.Open(ctx, storage.SQLitePath)
	case config.StoragePostgres:
		db, err := pkg.InitDatabase(a.config)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStorePostgreSQL(db)
		if err := store.AutoMigrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		client, err := pkg.NewRedisClient(ctx, storage.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisStore(client, storage.RedisPrefix, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", storage.Driver)
	}
}

// buildServices constructs the service set over the current repository.
func (a *App) buildServices() {
	a.settings = services.NewSettingsService(a.repo, a.validator, a.logger)
	a.recall = services.NewRecallService(a.repo, a.publisher, services.SchedulerConfig{
		MaximumInterval: a.config.Recall.MaximumInterval,
	}, a.logger)
	a.quiz = services.NewQuizService(a.repo, a.generator, a.recall, a.publisher, a.cache, a.validator, a.logger)
	a.knowledge = services.NewKnowledgeService(a.repo, a.validator, a.logger)
	a.chat = services.NewChatService(a.repo, a.generator, a.knowledge, a.settings, a.publisher, a.validator, services.ChatConfig{
		TokenLimit: a.config.Chat.TokenLimit,
	}, a.logger)
	a.export = services.NewExportService(a.repo, a.quiz, a.recall, a.logger)
}

// RestoreBackup writes the backup to storage and rebuilds every service so
// no stale in-memory state survives. An in-flight generation is cancelled.
func (a *App) RestoreBackup(ctx context.Context, data []byte) error {
	a.quiz.CancelGeneration()
	if err := a.export.RestoreBackup(ctx, data); err != nil {
		return err
	}
	a.buildServices()
	a.logger.Info("Services rebuilt from backup")
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Config() *config.Config                { return a.config }
func (a *App) Logger() *slog.Logger                  { return a.logger }
func (a *App) Repository() repositories.Repository   { return a.repo }
func (a *App) Publisher() events.EventPublisher      { return a.publisher }
func (a *App) Quiz() services.QuizService            { return a.quiz }
func (a *App) Recall() services.RecallService        { return a.recall }
func (a *App) Chat() services.ChatService            { return a.chat }
func (a *App) Knowledge() services.KnowledgeService  { return a.knowledge }
func (a *App) Settings() services.SettingsService    { return a.settings }
func (a *App) Export() services.ExportService        { return a.export }
func (a *App) Generator() services.GenerationService { return a.generator }
