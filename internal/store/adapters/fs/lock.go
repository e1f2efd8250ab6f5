package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetry = 10 * time.Millisecond

// fileLock serializa los read-modify-write entre goroutines (mu) y entre
// procesos que comparten el directorio (flock). Los lectores de un único
// archivo no lo necesitan: toda escritura es un rename atómico.
type fileLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

func newFileLock(path string) *fileLock {
	return &fileLock{fl: flock.New(path)}
}

func (l *fileLock) withLock(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return fmt.Errorf("fs: lock dir: %w", err)
	}
	ok, err := l.fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("fs: lock %s: %w", filepath.Base(l.fl.Path()), err)
	}
	if !ok {
		return fmt.Errorf("fs: lock %s: not acquired", filepath.Base(l.fl.Path()))
	}
	defer func() { _ = l.fl.Unlock() }()
	return fn()
}
