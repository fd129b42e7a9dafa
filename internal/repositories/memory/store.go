package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/ana-joker/FULLSTUDY/internal/repositories"
)

type blob struct {
	digest string
	data   []byte
}

// Store keeps everything in process memory. Used for tests and for the
// "memory" storage driver.
type Store struct {
	mu    sync.RWMutex
	kv    map[string][]byte
	blobs map[string]blob
}

var _ repositories.Backend = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		kv:    make(map[string][]byte),
		blobs: make(map[string]blob),
	}
}

func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = slices.Clone(value)
	return nil
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.kv[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return slices.Clone(value), nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *Store) Put(ctx context.Context, id string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	digest := repositories.Digest(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = blob{digest: digest, data: slices.Clone(data)}
	return digest, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if repositories.Digest(b.data) != b.digest {
		return nil, repositories.ErrBlobCorrupt
	}
	return slices.Clone(b.data), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

// Corrupt overwrites a blob without updating its digest.
func (s *Store) Corrupt(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blobs[id]; ok {
		b.data = slices.Clone(data)
		s.blobs[id] = b
	}
}

// Keys returns the stored keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.kv))
	for k := range s.kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *Store) Close() error {
	return nil
}
