package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(filepath.Join(t.TempDir(), "previews"))
	require.NoError(t, err)
	return s
}

func listKeys(t *testing.T, s Store) []models.CacheKey {
	t.Helper()
	var keys []models.CacheKey
	require.NoError(t, s.List(context.Background(), func(e models.CacheEntry) error {
		keys = append(keys, e.Key)
		return nil
	}))
	return keys
}

func TestFSStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFSStore(t)
	key := DeriveKey([]byte("source"), "docx")
	pdf := []byte("%PDF-1.7\nbody\n%%EOF")

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	put, err := s.Put(ctx, key, pdf)
	require.NoError(t, err)
	assert.Equal(t, key, put.Key)
	assert.Equal(t, filepath.Join(s.Dir(), string(key)+".pdf"), put.Location)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, pdf, got.PDF)
	assert.Equal(t, int64(len(pdf)), got.Size)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := s.Stat(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, meta.PDF)
	assert.Equal(t, put.Location, meta.Location)
	assert.Equal(t, int64(len(pdf)), meta.Size)
}

func TestFSStore_PutOverwritesAtomically(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFSStore(t)
	key := DeriveKey([]byte("x"), "odt")

	_, err := s.Put(ctx, key, []byte("first"))
	require.NoError(t, err)
	_, err = s.Put(ctx, key, []byte("second"))
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got.PDF)
	assert.Len(t, listKeys(t, s), 1)
}

func TestFSStore_ConcurrentReadersNeverSeePartialEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFSStore(t)
	key := DeriveKey([]byte("big"), "pptx")
	a := make([]byte, 256<<10)
	b := make([]byte, 256<<10)
	for i := range a {
		a[i] = 'a'
		b[i] = 'b'
	}
	_, err := s.Put(ctx, key, a)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			payload := a
			if i%2 == 0 {
				payload = b
			}
			_, err := s.Put(ctx, key, payload)
			assert.NoError(t, err)
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.Len(t, got.PDF, len(a))
		assert.True(t, got.PDF[0] == got.PDF[len(got.PDF)-1], "mixed content observed")
	}
}

func TestFSStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := newFSStore(t)

	_, err := s.Get(context.Background(), "0000000000000000")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.Stat(context.Background(), "0000000000000000")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFSStore_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFSStore(t)
	key := DeriveKey([]byte("gone"), "rtf")

	_, err := s.Put(ctx, key, []byte("pdf"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFSStore_PutRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	s := newFSStore(t)

	_, err := s.Put(context.Background(), "../escape", []byte("pdf"))
	assert.ErrorIs(t, err, models.ErrCacheWrite)
}

func TestFSStore_ListSkipsTempAndForeignFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFSStore(t)
	key := DeriveKey([]byte("kept"), "xls")
	_, err := s.Put(ctx, key, []byte("pdf"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".tmp-"+string(key)+"-123"), []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "short.pdf"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "0123456789abcdef.pdf"), 0o700))

	assert.Equal(t, []models.CacheKey{key}, listKeys(t, s))
}

func TestFSStore_CleanTemp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFSStore(t)

	oldTmp := filepath.Join(s.Dir(), ".tmp-0123456789abcdef-1")
	newTmp := filepath.Join(s.Dir(), ".tmp-0123456789abcdef-2")
	require.NoError(t, os.WriteFile(oldTmp, []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(newTmp, []byte("partial"), 0o600))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldTmp, past, past))

	removed, err := s.CleanTemp(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldTmp)
	assert.FileExists(t, newTmp)
}
