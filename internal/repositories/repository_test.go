package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo() (repositories.Repository, *memory.Store) {
	store := memory.NewStore()
	return repositories.NewBackendRepository(store), store
}

func TestSessionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	_, err := repo.Session().Load(ctx)
	assert.True(t, repositories.IsNotFoundError(err))

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	summary := "cells are small"
	value := models.ItemsValue("b", "a")
	session := &models.QuizSession{
		Questions: []models.Question{
			{QuestionType: models.QuestionTypeOrdering, Text: "order", Options: []string{"a", "b"}, CorrectAnswer: models.ItemsValue("a", "b")},
			{QuestionType: models.QuestionTypeShortAnswer, Text: "name it", CorrectAnswer: models.TextValue("mitochondria")},
		},
		Answers:      []*models.Answer{{QuestionIndex: 0, Value: &value, IsCorrect: false}, nil},
		Title:        "Biology",
		CurrentIndex: 1,
		StartedAt:    &started,
		Summary:      &summary,
		PageState:    models.PageActive,
	}

	require.NoError(t, repo.Session().Save(ctx, session))

	loaded, err := repo.Session().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Questions, loaded.Questions)
	assert.Equal(t, session.Answers, loaded.Answers)
	assert.Equal(t, 1, loaded.CurrentIndex)
	assert.Equal(t, models.PageActive, loaded.PageState)
	assert.True(t, started.Equal(*loaded.StartedAt))

	require.NoError(t, repo.Session().Clear(ctx))
	_, err = repo.Session().Load(ctx)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSessionRepository_UndecodableImageKeepsSession(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()
	raw := `{"title":"Biology","pageState":"landing","questions":[],"answers":[],` +
		`"image":{"name":"cell.png","mimeType":"image/png","data":"%%%not-base64"}}`
	require.NoError(t, store.Save(ctx, repositories.KeySession, []byte(raw)))

	loaded, err := repo.Session().Load(ctx)

	require.NoError(t, err)
	assert.Equal(t, "Biology", loaded.Title)
	require.NotNil(t, loaded.Image)
	assert.Equal(t, "cell.png", loaded.Image.Name)
	assert.Empty(t, loaded.Image.Data)
}

func TestHistoryRepository_NewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	entries, err := repo.History().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, repo.History().Prepend(ctx, models.HistoryEntry{Title: "first"}))
	require.NoError(t, repo.History().Prepend(ctx, models.HistoryEntry{Title: "second"}))

	entries, err = repo.History().List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Title)
	assert.Equal(t, "first", entries[1].Title)
}

func TestSettingsRepository_OverlaysDefaults(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()

	settings, err := repo.Settings().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), settings)

	require.NoError(t, store.Save(ctx, repositories.KeySettings, []byte(`{"theme":"light","topK":10}`)))

	settings, err = repo.Settings().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", settings.Theme)
	assert.Equal(t, 10, settings.TopK)
	assert.Equal(t, float32(0.95), settings.TopP)
	assert.True(t, settings.AutoCreateTitle)
}

func TestLoad_CorruptJSON(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo()

	require.NoError(t, store.Save(ctx, repositories.KeyRecallDeck, []byte("{not json")))

	_, err := repo.Recall().LoadDeck(ctx)
	assert.Error(t, err)
	assert.False(t, repositories.IsNotFoundError(err))
}

func TestMemoryBlobs_DigestChecked(t *testing.T) {
	ctx := context.Background()
	_, store := newRepo()

	digest, err := store.Put(ctx, "item-1", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, repositories.Digest([]byte("hello")), digest)

	data, err := store.Get(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	store.Corrupt("item-1", []byte("tampered"))
	_, err = store.Get(ctx, "item-1")
	assert.ErrorIs(t, err, repositories.ErrBlobCorrupt)

	require.NoError(t, store.Delete(ctx, "item-1"))
	_, err = store.Get(ctx, "item-1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}
