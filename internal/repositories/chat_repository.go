package repositories

import (
	"context"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

type chatRepository struct {
	store Store
}

func (r *chatRepository) SaveSessions(ctx context.Context, sessions []models.ChatSession) error {
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	return saveJSON(ctx, r.store, KeyChatSessions, sessions)
}

func (r *chatRepository) LoadSessions(ctx context.Context) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	if _, err := loadJSON(ctx, r.store, KeyChatSessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

type knowledgeRepository struct {
	store Store
}

// SaveBases persists metadata only; item payloads live in the BlobStore.
func (r *knowledgeRepository) SaveBases(ctx context.Context, bases []models.KnowledgeBase) error {
	if bases == nil {
		bases = []models.KnowledgeBase{}
	}
	return saveJSON(ctx, r.store, KeyKnowledge, bases)
}

func (r *knowledgeRepository) LoadBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	var bases []models.KnowledgeBase
	if _, err := loadJSON(ctx, r.store, KeyKnowledge, &bases); err != nil {
		return nil, err
	}
	return bases, nil
}

func (r *knowledgeRepository) SaveActive(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	return saveJSON(ctx, r.store, KeyActiveKnowledge, ids)
}

func (r *knowledgeRepository) LoadActive(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := loadJSON(ctx, r.store, KeyActiveKnowledge, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
