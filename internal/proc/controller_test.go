package proc_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/shellqueue/jobmgr/internal/jobstore"
	"github.com/shellqueue/jobmgr/internal/proc"
)

func newTestController(t *testing.T) (*proc.Controller, *jobstore.Store, string) {
	t.Helper()

	dir := t.TempDir()
	pidsPath := filepath.Join(dir, "pids")

	store := jobstore.New(
		filepath.Join(dir, "jobs"),
		filepath.Join(dir, "status"),
	)

	return proc.NewController(pidsPath, store), store, pidsPath
}

func startSleep(t *testing.T) int {
	t.Helper()

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	return cmd.Process.Pid
}

func TestControllerBindLookupUnbind(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.Bind(1, 4242); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	pid, err := c.Lookup(1)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if pid != 4242 {
		t.Errorf("expected pid: got '%d', want '4242'", pid)
	}

	if err := c.Unbind(1); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if _, err := c.Lookup(1); !errors.Is(err, jobstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound: got '%v'", err)
	}
}

func TestControllerLookupUnbound(t *testing.T) {
	c, _, _ := newTestController(t)

	if _, err := c.Lookup(7); !errors.Is(err, jobstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound: got '%v'", err)
	}
}

func TestControllerBindingSurvivesRestart(t *testing.T) {
	c, store, pidsPath := newTestController(t)

	if err := c.Bind(2, 999); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	// A new controller over the same table, as when pause runs in a fresh
	// CLI process.
	c2 := proc.NewController(pidsPath, store)

	pid, err := c2.Lookup(2)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if pid != 999 {
		t.Errorf("expected pid: got '%d', want '999'", pid)
	}
}

func TestControllerPauseResume(t *testing.T) {
	c, store, _ := newTestController(t)

	id, err := store.Add("sleep 30", "/tmp")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := store.UpdateStatus(id, jobstore.StatusRunning); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	pid := startSleep(t)

	if err := c.Bind(id, pid); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := c.Pause(id); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	job, err := store.Get(id)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if job.Status != jobstore.StatusPaused {
		t.Errorf("expected status: got '%s', want '%s'", job.Status, jobstore.StatusPaused)
	}

	if err := c.Resume(id); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	job, err = store.Get(id)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if job.Status != jobstore.StatusRunning {
		t.Errorf("expected status: got '%s', want '%s'", job.Status, jobstore.StatusRunning)
	}

	if job.ID != id || job.Command != "sleep 30" {
		t.Errorf("expected id and command unchanged: got '%+v'", job)
	}
}

func TestControllerPauseUnbound(t *testing.T) {
	c, store, _ := newTestController(t)

	if _, err := store.Add("echo hi", "/tmp"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := c.Pause(1); !errors.Is(err, jobstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound: got '%v'", err)
	}
}

func TestControllerClear(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.Bind(1, 100); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if _, err := c.Lookup(1); !errors.Is(err, jobstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound: got '%v'", err)
	}
}

func TestControllerCorruptTable(t *testing.T) {
	c, _, pidsPath := newTestController(t)

	if err := os.WriteFile(pidsPath, []byte("not-a-binding\n"), 0o644); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if _, err := c.Lookup(1); !errors.As(err, &jobstore.CorruptError{}) {
		t.Errorf("expected CorruptError: got '%v'", err)
	}
}
