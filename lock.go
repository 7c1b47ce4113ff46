// Sentinel lock file for cross-process coordination.
//
// The lock is advisory: a sibling file ".{basename}.lock" whose mere
// existence signals exclusive ownership. O_CREATE|O_EXCL makes creation the
// atomic existence check, so two processes racing for the lock cannot both
// win. Waiters poll for removal rather than blocking in the kernel.
//
// lockGuard is an explicit resource: acquired with a timeout, released
// exactly once via release(), never left to process-exit hooks. Every
// failure path after acquisition must call release() so no stale lock file
// survives an aborted open.
package tabfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// lockPollInterval is how often a waiter re-checks for lock removal.
	lockPollInterval = 250 * time.Millisecond

	// DefaultLockTimeout bounds how long open waits for a held lock.
	DefaultLockTimeout = 5 * time.Second
)

// lockPath returns the sentinel path for a table file:
// /dir/table.tbf -> /dir/.table.tbf.lock
func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

// lockGuard owns one sentinel lock file.
type lockGuard struct {
	path string
	mu   sync.Mutex
	held bool
}

// acquireLock creates the sentinel for path, polling every lockPollInterval
// while another owner holds it. Returns ErrLocked once timeout elapses.
func acquireLock(path string, timeout time.Duration) (*lockGuard, error) {
	sentinel := lockPath(path)
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return &lockGuard{path: sentinel, held: true}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("%w: lock file: %w", ErrUnknown, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held past %s", ErrLocked, sentinel, timeout)
		}
		time.Sleep(lockPollInterval)
	}
}

// release removes the sentinel. Idempotent: only the first call touches the
// filesystem.
func (g *lockGuard) release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return nil
	}
	g.held = false
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: unlock: %w", ErrUnknown, err)
	}
	return nil
}
