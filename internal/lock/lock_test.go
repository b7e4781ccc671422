//go:build unix

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xw.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	owner, ok := Owner(path)
	if !ok || owner != os.Getpid() {
		t.Fatalf("owner=%d ok=%v, want %d", owner, ok, os.Getpid())
	}

	if _, err := Acquire(path); !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire err=%v, want ErrHeld", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file still present after release")
	}
	if err := l.Release(); err != nil {
		t.Fatalf("double Release: %v", err)
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xw.lock")
	// pid far above any default pid_max
	if err := os.WriteFile(path, []byte(strconv.Itoa(1<<30)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	defer l.Release()
	if owner, _ := Owner(path); owner != os.Getpid() {
		t.Fatalf("owner=%d, want %d", owner, os.Getpid())
	}
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xw.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}

	// someone rewrote the file with another owner
	if err := os.WriteFile(path, []byte("1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("foreign lock file was removed")
	}
}
