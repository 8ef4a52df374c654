package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyStorePutGetList(t *testing.T) {
	ks := NewMemoryKeyStore()
	_, ok, err := ks.Get("N0CALL")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ks.Put("N0CALL", []byte("pem-bytes")))
	pem, ok, err := ks.Get("N0CALL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("pem-bytes"), pem)

	all, err := ks.List()
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"N0CALL": []byte("pem-bytes")}, all)
}

func TestMemoryPageCachePutGetList(t *testing.T) {
	pc := NewMemoryPageCache()
	meta := PageMeta{ContentType: "text/html", ETag: "abc", StoredAt: time.Unix(1000, 0)}
	require.NoError(t, pc.Put("/index", []byte("<html></html>"), meta))

	blob, got, ok, err := pc.Get("/index")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<html></html>"), blob)
	assert.Equal(t, meta, got)

	paths, err := pc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"/index"}, paths)
}

func TestFileKeyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewFileKeyStore(dir)
	require.NoError(t, err)

	require.NoError(t, ks.Put("W1AW", []byte("-----BEGIN PUBLIC KEY-----")))
	pem, ok, err := ks.Get("W1AW")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), pem)

	all, err := ks.List()
	require.NoError(t, err)
	assert.Contains(t, all, "W1AW")
}

func TestFileKeyStoreMissingCallsign(t *testing.T) {
	ks, err := NewFileKeyStore(t.TempDir())
	require.NoError(t, err)
	_, ok, err := ks.Get("NOBODY")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilePageCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pc, err := NewFilePageCache(dir)
	require.NoError(t, err)

	meta := PageMeta{ContentType: "text/html", ETag: "v1", StoredAt: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}
	require.NoError(t, pc.Put("/page", []byte("hello"), meta))

	blob, got, ok, err := pc.Get("/page")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), blob)
	assert.Equal(t, meta, got)

	indexPath := filepath.Join(dir, "pages-2026-01-02.idx")
	assert.FileExists(t, indexPath)
}

func TestFilePageCacheDoesNotReplayIndexAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	pc, err := NewFilePageCache(dir)
	require.NoError(t, err)
	meta := PageMeta{ContentType: "text/plain", StoredAt: time.Now()}
	require.NoError(t, pc.Put("/a", []byte("data"), meta))

	// A freshly constructed cache over the same directory starts with an
	// empty in-memory index; it does not replay the on-disk snapshot.
	pc2, err := NewFilePageCache(dir)
	require.NoError(t, err)
	_, _, ok, err := pc2.Get("/a")
	require.NoError(t, err)
	assert.False(t, ok)
}
