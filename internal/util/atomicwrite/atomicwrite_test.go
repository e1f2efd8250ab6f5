package atomicwrite

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFile_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "a.json")
	require.NoError(t, WriteFile(path, []byte("one"), 0o600))
	require.NoError(t, WriteFile(path, []byte("two"), 0o600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestCreateExclusive_DoesNotClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot")
	require.NoError(t, CreateExclusive(path, []byte("first"), 0o600))
	require.ErrorIs(t, CreateExclusive(path, []byte("second"), 0o600), ErrExists)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))
}

func TestCreateExclusive_OneWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot")
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := CreateExclusive(path, []byte("x"), 0o600); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}
