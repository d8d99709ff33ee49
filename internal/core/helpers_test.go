package core

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/store"
)

func newTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *store.SQLiteStore, id string, credits int) {
	t.Helper()
	ctx := context.Background()
	_, err := db.UpsertUser(ctx, &store.User{ID: id, Email: id + "@example.com"})
	require.NoError(t, err)
	require.NoError(t, db.UpdateUserCredits(ctx, id, credits))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestUploads(t *testing.T, db *store.SQLiteStore) *UploadService {
	t.Helper()
	svc, err := NewUploadService(db, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return svc
}
