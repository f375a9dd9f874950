// Package local_test tests the local filesystem tier store.
package local_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		require.ErrorContains(t, err, "base directory is required")
	})
	t.Run("CreatesBaseDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "tiers")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})
	t.Run("BaseDirIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestTierRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	tier, err := store.Open(ctx, "tfstream-thumbs-v1")
	require.NoError(t, err)
	assert.Equal(t, "tfstream-thumbs-v1", tier.Name())

	url := "https://cdn.example/img/naruto.png"
	_, err = tier.Match(ctx, url)
	require.ErrorIs(t, err, offline.ErrNotFound)

	require.NoError(t, tier.Put(ctx, url, &offline.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"image/png"}},
		Body:       []byte("png"),
		Type:       offline.ResponseOpaque,
	}))
	got, err := tier.Match(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, url, got.URL)
	assert.Equal(t, []byte("png"), got.Body)
	assert.Equal(t, offline.ResponseOpaque, got.Type)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))

	keys, err := tier.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{url}, keys)

	require.NoError(t, tier.Delete(ctx, url))
	require.NoError(t, tier.Delete(ctx, url))
	_, err = tier.Match(ctx, url)
	require.ErrorIs(t, err, offline.ErrNotFound)
}

func TestDeleteTierClosesHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{"tfstream-shell-v1", "tfstream-shell-v0"} {
		_, err := store.Open(ctx, name)
		require.NoError(t, err)
	}
	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tfstream-shell-v0", "tfstream-shell-v1"}, names)

	stale, err := store.Open(ctx, "tfstream-shell-v0")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "tfstream-shell-v0"))

	err = stale.Put(ctx, "https://app.example/", &offline.Response{StatusCode: http.StatusOK})
	require.ErrorIs(t, err, offline.ErrTierClosed)

	names, err = store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tfstream-shell-v1"}, names)
}

func TestOpenRejectsTraversal(t *testing.T) {
	t.Parallel()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape", "a/b"} {
		_, err := store.Open(context.Background(), name)
		assert.Error(t, err, name)
	}
}
