package repositories

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

type sessionRepository struct {
	store Store
}

func (r *sessionRepository) Save(ctx context.Context, session *models.QuizSession) error {
	return saveJSON(ctx, r.store, KeySession, session)
}

// storedSession holds the image undecoded so a damaged attachment cannot take
// the rest of the checkpoint down with it.
type storedSession struct {
	*models.QuizSession
	Image json.RawMessage `json:"image,omitempty"`
}

// Load returns the checkpointed session. An image that fails to decode comes
// back as an attachment without data, which callers treat as unreadable.
func (r *sessionRepository) Load(ctx context.Context) (*models.QuizSession, error) {
	stored := storedSession{QuizSession: &models.QuizSession{}}
	found, err := loadJSON(ctx, r.store, KeySession, &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	session := stored.QuizSession
	session.Image = decodeAttachment(stored.Image)
	return session, nil
}

func decodeAttachment(raw json.RawMessage) *models.Attachment {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var image models.Attachment
	if err := json.Unmarshal(raw, &image); err == nil {
		return &image
	}

	// Keep whatever metadata survived.
	var meta struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
	}
	_ = json.Unmarshal(raw, &meta)
	return &models.Attachment{Name: meta.Name, MimeType: meta.MimeType}
}

func (r *sessionRepository) Clear(ctx context.Context) error {
	return r.store.Remove(ctx, KeySession)
}

type historyRepository struct {
	store Store
}

func (r *historyRepository) Prepend(ctx context.Context, entry models.HistoryEntry) error {
	entries, err := r.List(ctx)
	if err != nil {
		return err
	}
	entries = append([]models.HistoryEntry{entry}, entries...)
	return saveJSON(ctx, r.store, KeyHistory, entries)
}

func (r *historyRepository) List(ctx context.Context) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	if _, err := loadJSON(ctx, r.store, KeyHistory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *historyRepository) Clear(ctx context.Context) error {
	return r.store.Remove(ctx, KeyHistory)
}

type recallRepository struct {
	store Store
}

func (r *recallRepository) SaveDeck(ctx context.Context, deck []models.RecallItem) error {
	if deck == nil {
		deck = []models.RecallItem{}
	}
	return saveJSON(ctx, r.store, KeyRecallDeck, deck)
}

func (r *recallRepository) LoadDeck(ctx context.Context) ([]models.RecallItem, error) {
	var deck []models.RecallItem
	if _, err := loadJSON(ctx, r.store, KeyRecallDeck, &deck); err != nil {
		return nil, err
	}
	return deck, nil
}

type settingsRepository struct {
	store Store
}

func (r *settingsRepository) Save(ctx context.Context, settings models.Settings) error {
	return saveJSON(ctx, r.store, KeySettings, settings)
}

func (r *settingsRepository) Load(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()
	if _, err := loadJSON(ctx, r.store, KeySettings, &settings); err != nil {
		return models.DefaultSettings(), err
	}
	return settings, nil
}
