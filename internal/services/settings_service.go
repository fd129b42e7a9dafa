package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

type settingsService struct {
	repo      repositories.Repository
	validator *validator.Validator
	logger    *ServiceLogger

	mu sync.Mutex
}

func NewSettingsService(repo repositories.Repository, validator *validator.Validator, logger *slog.Logger) SettingsService {
	return &settingsService{
		repo:      repo,
		validator: validator,
		logger:    NewServiceLogger(logger, LogConfig{Service: "settings", Component: "preferences"}),
	}
}

func (s *settingsService) Load(ctx context.Context) (models.Settings, error) {
	settings, err := s.repo.Settings().Load(ctx)
	if err != nil {
		return models.DefaultSettings(), persistenceError("load", repositories.KeySettings, err)
	}
	return settings, nil
}

func (s *settingsService) Save(ctx context.Context, settings models.Settings) error {
	op := s.logger.WithOperation(ctx, "save_settings")

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.save(ctx, settings)
	op.LogResult(repositories.KeySettings, "settings", err)
	return err
}

func (s *settingsService) save(ctx context.Context, settings models.Settings) error {
	if err := s.validator.Validate(&settings); err != nil {
		return err
	}
	if err := s.repo.Settings().Save(ctx, settings); err != nil {
		return persistenceError("save", repositories.KeySettings, err)
	}
	return nil
}

// Update applies fn to the stored settings and saves the result atomically
// with respect to other Update calls.
func (s *settingsService) Update(ctx context.Context, fn func(*models.Settings)) (models.Settings, error) {
	op := s.logger.WithOperation(ctx, "update_settings")

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.Load(ctx)
	if err != nil {
		op.LogResult(repositories.KeySettings, "settings", err)
		return settings, err
	}
	fn(&settings)
	if err := s.save(ctx, settings); err != nil {
		op.LogResult(repositories.KeySettings, "settings", err)
		return models.Settings{}, err
	}
	op.LogResult(repositories.KeySettings, "settings", nil)
	return settings, nil
}
