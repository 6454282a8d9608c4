// Package repolock implements the advisory repository-wide file lock that
// serializes writers while permitting concurrent readers.
package repolock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/forgeline/core/pkg/coreerr"
	"github.com/forgeline/core/pkg/log"
	"github.com/forgeline/core/pkg/metrics"
)

// Mode selects shared (Read) or exclusive (Write) locking.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// RepositoryLock is a handle to the advisory lock file inside a repository's
// control directory. It holds no lock state itself; every Acquire/TryAcquire
// call opens a fresh OS-level lock so concurrent goroutines in the same
// process can hold independent guards.
type RepositoryLock struct {
	path string
}

// Open resolves the lock file path inside controlDir, creating the
// directory on first use. The lock file itself is created lazily by the
// underlying flock call.
func Open(controlDir string) (*RepositoryLock, error) {
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		return nil, coreerr.Storage(false, err, "creating control directory %s", controlDir)
	}
	return &RepositoryLock{path: filepath.Join(controlDir, "lock")}, nil
}

// Guard represents a held lock. The caller must call Release exactly once,
// typically via defer immediately after a successful Acquire/TryAcquire, to
// guarantee release on every exit path including error returns.
type Guard struct {
	fl   *flock.Flock
	mode Mode
}

// Release drops the lock. Safe to call once; logs rather than panics if the
// underlying unlock fails, since a lock file ceasing to exist underneath a
// live guard is not itself a correctness problem for this process.
func (g *Guard) Release() {
	if err := g.fl.Unlock(); err != nil {
		log.WithComponent("repolock").Warn().Err(err).Msg("failed to release repository lock")
	}
}

// Acquire blocks until the lock is available in the given mode.
func (l *RepositoryLock) Acquire(mode Mode) (*Guard, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LockWaitDuration, mode.String())

	fl := flock.New(l.path)
	var err error
	if mode == Write {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		return nil, coreerr.Storage(false, err, "acquiring %s lock", mode)
	}
	return &Guard{fl: fl, mode: mode}, nil
}

// TryAcquire attempts to acquire the lock without blocking. If the lock is
// currently held by an incompatible mode, it returns a Conflict error the
// caller can distinguish from other failures.
func (l *RepositoryLock) TryAcquire(mode Mode) (*Guard, error) {
	fl := flock.New(l.path)
	var ok bool
	var err error
	if mode == Write {
		ok, err = fl.TryLock()
	} else {
		ok, err = fl.TryRLock()
	}
	if err != nil {
		return nil, coreerr.Storage(false, err, "attempting %s lock", mode)
	}
	if !ok {
		return nil, coreerr.Conflict("repository %s lock would block", mode)
	}
	return &Guard{fl: fl, mode: mode}, nil
}
