package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestStore(t *testing.T) *StorePostgreSQL {
	t.Helper()
	dsn := os.Getenv("FULLSTUDY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FULLSTUDY_TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	store := NewStorePostgreSQL(db)
	require.NoError(t, store.AutoMigrate(context.Background()))
	t.Cleanup(func() {
		db.Exec("DELETE FROM study_kv")
		db.Exec("DELETE FROM study_blob")
		store.Close()
	})
	return store
}

func TestStorePostgreSQL_KeyValue(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Load(ctx, repositories.KeySettings)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, store.Save(ctx, repositories.KeySettings, []byte(`{"theme":"dark"}`)))
	require.NoError(t, store.Save(ctx, repositories.KeySettings, []byte(`{"theme":"light"}`)))

	value, err := store.Load(ctx, repositories.KeySettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"light"}`, string(value))

	assert.Error(t, store.Save(ctx, "raw", []byte("not json")))
}

func TestStorePostgreSQL_Blobs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Put(ctx, "kb-item", []byte("notes"))
	require.NoError(t, err)

	data, err := store.Get(ctx, "kb-item")
	require.NoError(t, err)
	assert.Equal(t, []byte("notes"), data)

	require.NoError(t, store.Delete(ctx, "kb-item"))
	_, err = store.Get(ctx, "kb-item")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}
