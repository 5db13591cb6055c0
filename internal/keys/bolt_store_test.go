package keys

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBoltStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStore_Load_EmptyReturnsNotFound(t *testing.T) {
	s := openTestBoltStore(t, filepath.Join(t.TempDir(), "keys.db"))

	_, _, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_CreateIfAbsent_KeepsFirstValue(t *testing.T) {
	ctx := context.Background()
	s := openTestBoltStore(t, filepath.Join(t.TempDir(), "keys.db"))

	priv, pub, err := s.CreateIfAbsent(ctx, []byte("priv-1"), []byte("pub-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("priv-1"), priv)
	assert.Equal(t, []byte("pub-1"), pub)

	priv, pub, err = s.CreateIfAbsent(ctx, []byte("priv-2"), []byte("pub-2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("priv-1"), priv, "second create must return the stored value")
	assert.Equal(t, []byte("pub-1"), pub)

	priv, pub, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("priv-1"), priv)
	assert.Equal(t, []byte("pub-1"), pub)
}

func TestBoltStore_ConcurrentCreate_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestBoltStore(t, filepath.Join(t.TempDir(), "keys.db"))

	const workers = 10
	got := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			priv, _, err := s.CreateIfAbsent(ctx, []byte{byte(i)}, []byte{byte(i)})
			assert.NoError(t, err)
			got[i] = priv
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, got[0], got[i])
	}
}

func TestManager_WithBoltStore_PersistsAcrossReopen(t *testing.T) {
	keys := fixedKeys(t)
	path := filepath.Join(t.TempDir(), "keys.db")

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	first, err := newTestManager(t, s, keys[0]).LoadOrCreate(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTestBoltStore(t, path)
	second, err := newTestManager(t, reopened, keys[1]).LoadOrCreate(context.Background())
	require.NoError(t, err)
	assert.True(t, first.PrivateKey().Equal(second.PrivateKey()))
}
