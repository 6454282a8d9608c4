package repolock

import (
	"testing"

	"github.com/forgeline/core/pkg/coreerr"
)

func TestWriteExcludesReadAndWrite(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	writer, err := l.TryAcquire(Write)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Release()

	if _, err := l.TryAcquire(Write); err == nil {
		t.Fatal("expected a concurrent write try_acquire to fail")
	} else if ce, ok := err.(*coreerr.Error); !ok || ce.Kind != coreerr.KindConflict {
		t.Fatalf("expected a conflict error, got %v", err)
	}

	if _, err := l.TryAcquire(Read); err == nil {
		t.Fatal("expected a concurrent read try_acquire to fail while writer holds the lock")
	}
}

func TestConcurrentReadersCoexist(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	r1, err := l.TryAcquire(Read)
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Release()

	r2, err := l.TryAcquire(Read)
	if err != nil {
		t.Fatalf("expected a second reader to succeed: %v", err)
	}
	defer r2.Release()
}

func TestReleaseAllowsSubsequentAcquire(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	writer, err := l.TryAcquire(Write)
	if err != nil {
		t.Fatal(err)
	}
	writer.Release()

	if _, err := l.TryAcquire(Write); err != nil {
		t.Fatalf("expected write to succeed after release: %v", err)
	}
}
