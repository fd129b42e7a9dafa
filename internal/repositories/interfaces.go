package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

// ===== LOGICAL KEYS =====

const (
	KeySession         = "quiz:session"
	KeyHistory         = "quiz:history"
	KeyRecallDeck      = "recall:deck"
	KeySettings        = "settings"
	KeyChatSessions    = "chat:sessions"
	KeyKnowledge       = "kb:bases"
	KeyActiveKnowledge = "kb:active"
)

// AllKeys lists every logical store, used by backups and wipes.
func AllKeys() []string {
	return []string{
		KeySession,
		KeyHistory,
		KeyRecallDeck,
		KeySettings,
		KeyChatSessions,
		KeyKnowledge,
		KeyActiveKnowledge,
	}
}

var (
	ErrNotFound    = errors.New("record not found")
	ErrBlobCorrupt = errors.New("blob content does not match its digest")
)

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Digest is the content address recorded alongside every blob.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ===== STORAGE CONTRACTS =====

// Store is durable key-value persistence. It owns no semantics, only bytes.
type Store interface {
	Save(ctx context.Context, key string, value []byte) error
	// Load returns ErrNotFound when the key is absent.
	Load(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// BlobStore keeps large binary attachments keyed by item id.
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) (digest string, err error)
	// Get returns ErrNotFound when absent and ErrBlobCorrupt when the stored
	// bytes no longer hash to the recorded digest.
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// Backend is a store that can also hold blobs and be closed.
type Backend interface {
	Store
	BlobStore
	Close() error
}

// ===== TYPED REPOSITORIES =====

type SessionRepository interface {
	Save(ctx context.Context, session *models.QuizSession) error
	// Load returns ErrNotFound when no session was checkpointed.
	Load(ctx context.Context) (*models.QuizSession, error)
	Clear(ctx context.Context) error
}

type HistoryRepository interface {
	// Prepend adds entry as the newest item of the log.
	Prepend(ctx context.Context, entry models.HistoryEntry) error
	List(ctx context.Context) ([]models.HistoryEntry, error)
	Clear(ctx context.Context) error
}

type RecallRepository interface {
	SaveDeck(ctx context.Context, deck []models.RecallItem) error
	LoadDeck(ctx context.Context) ([]models.RecallItem, error)
}

type SettingsRepository interface {
	Save(ctx context.Context, settings models.Settings) error
	// Load overlays stored values on models.DefaultSettings.
	Load(ctx context.Context) (models.Settings, error)
}

type ChatRepository interface {
	SaveSessions(ctx context.Context, sessions []models.ChatSession) error
	LoadSessions(ctx context.Context) ([]models.ChatSession, error)
}

type KnowledgeRepository interface {
	SaveBases(ctx context.Context, bases []models.KnowledgeBase) error
	LoadBases(ctx context.Context) ([]models.KnowledgeBase, error)
	SaveActive(ctx context.Context, ids []string) error
	LoadActive(ctx context.Context) ([]string, error)
}

// Repository groups every typed repository over a single backend.
type Repository interface {
	Session() SessionRepository
	History() HistoryRepository
	Recall() RecallRepository
	Settings() SettingsRepository
	Chat() ChatRepository
	Knowledge() KnowledgeRepository
	Blobs() BlobStore
	Store() Store
}
