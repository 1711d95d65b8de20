package cache

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteBuckets(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	b, err := NewSQLiteBuckets(dbPath)
	require.NoError(t, err)
	defer b.Close()

	names, err := b.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = b.Open("")
	assert.Error(t, err, "empty bucket name rejected")

	_, err = b.Open("offsite-v2")
	require.NoError(t, err)
	_, err = b.Open("offsite-v1")
	require.NoError(t, err)

	names, err = b.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"offsite-v1", "offsite-v2"}, names, "sorted")

	require.NoError(t, b.Delete("offsite-v1"))
	names, err = b.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"offsite-v2"}, names)
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	b, err := NewSQLiteBuckets(dbPath)
	require.NoError(t, err)
	defer b.Close()

	st, err := b.Open("offsite-v1")
	require.NoError(t, err)

	_, ok := st.Get("GET /missing")
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len())

	e := Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": []string{"text/html; charset=utf-8"}, "X-Custom": []string{"a", "b"}},
		Body:     []byte("<html>home</html>"),
		StoredAt: time.Unix(1700000000, 0),
	}
	require.NoError(t, st.Set("GET /", e))
	require.NoError(t, st.Set("GET /pricing", Entry{Status: 200, Header: http.Header{}, Body: []byte("pricing")}))
	assert.Equal(t, 2, st.Len())

	got, ok := st.Get("GET /")
	require.True(t, ok)
	assert.Equal(t, e.Status, got.Status)
	assert.Equal(t, e.Header, got.Header)
	assert.Equal(t, e.Body, got.Body)
	assert.Equal(t, e.StoredAt.Unix(), got.StoredAt.Unix())

	keys, err := st.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /", "GET /pricing"}, keys)

	// overwrite is last-write-wins
	require.NoError(t, st.Set("GET /", Entry{Status: 200, Header: http.Header{}, Body: []byte("updated")}))
	got, ok = st.Get("GET /")
	require.True(t, ok)
	assert.Equal(t, []byte("updated"), got.Body)
	assert.Equal(t, 2, st.Len())
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	b, err := NewSQLiteBuckets(dbPath)
	require.NoError(t, err)
	st, err := b.Open("offsite-v1")
	require.NoError(t, err)
	require.NoError(t, st.Set("GET /", Entry{Status: 200, Header: http.Header{}, Body: []byte("persisted")}))
	require.NoError(t, b.Close())

	b2, err := NewSQLiteBuckets(dbPath)
	require.NoError(t, err)
	defer b2.Close()

	names, err := b2.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"offsite-v1"}, names)

	st2, err := b2.Open("offsite-v1")
	require.NoError(t, err)
	got, ok := st2.Get("GET /")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got.Body)
}

func TestSQLiteBuckets_DeleteRemovesEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	b, err := NewSQLiteBuckets(dbPath)
	require.NoError(t, err)
	defer b.Close()

	st, err := b.Open("offsite-v1")
	require.NoError(t, err)
	require.NoError(t, st.Set("GET /", Entry{Status: 200, Header: http.Header{}, Body: []byte("x")}))
	require.NoError(t, b.Delete("offsite-v1"))

	// re-opening the deleted bucket starts empty
	st2, err := b.Open("offsite-v1")
	require.NoError(t, err)
	assert.Equal(t, 0, st2.Len())
}
