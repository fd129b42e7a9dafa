package repositories

import (
	"context"
	"encoding/json"
	"fmt"
)

type repository struct {
	store Store
	blobs BlobStore

	session   SessionRepository
	history   HistoryRepository
	recall    RecallRepository
	settings  SettingsRepository
	chat      ChatRepository
	knowledge KnowledgeRepository
}

// NewRepository serializes every entity as JSON into store. Blobs go to blobs.
func NewRepository(store Store, blobs BlobStore) Repository {
	return &repository{
		store:     store,
		blobs:     blobs,
		session:   &sessionRepository{store: store},
		history:   &historyRepository{store: store},
		recall:    &recallRepository{store: store},
		settings:  &settingsRepository{store: store},
		chat:      &chatRepository{store: store},
		knowledge: &knowledgeRepository{store: store},
	}
}

// NewBackendRepository is NewRepository for a backend that holds both.
func NewBackendRepository(backend Backend) Repository {
	return NewRepository(backend, backend)
}

func (r *repository) Session() SessionRepository { return r.session }
func (r *repository) History() HistoryRepository { return r.history }
func (r *repository) Recall() RecallRepository { return r.recall }
func (r *repository) Settings() SettingsRepository { return r.settings }
func (r *repository) Chat() ChatRepository { return r.chat }
func (r *repository) Knowledge() KnowledgeRepository { return r.knowledge }
func (r *repository) Blobs() BlobStore { return r.blobs }
func (r *repository) Store() Store { return r.store }

func saveJSON(ctx context.Context, store Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := store.Save(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// loadJSON decodes key into dst. A missing key reports found=false.
func loadJSON(ctx context.Context, store Store, key string, dst any) (bool, error) {
	data, err := store.Load(ctx, key)
	if err != nil {
		if IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
