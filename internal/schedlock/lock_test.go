package schedlock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	l := New(path)

	ok, err := l.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if !l.IsHeld() {
		t.Error("expected lock to be held after acquire by this live process")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed after release")
	}
}

func TestAcquireFailsAgainstLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	first := New(path)
	if ok, err := first.Acquire(); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	defer first.Release()

	second := New(path)
	ok, err := second.Acquire()
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Error("second acquire against a live holder should fail")
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")
	// A pid that is vanishingly unlikely to be alive.
	deadPID := 999999
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	l := New(path)
	ok, err := l.Acquire()
	if err != nil {
		t.Fatalf("acquire over stale lock: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire to reclaim a lock held by a dead pid")
	}
}
