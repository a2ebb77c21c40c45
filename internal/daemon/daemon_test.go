package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/shellqueue/jobmgr/internal/daemon"
	"github.com/shellqueue/jobmgr/internal/jobstore"
	"github.com/shellqueue/jobmgr/internal/output"
	"github.com/shellqueue/jobmgr/internal/proc"
	"github.com/shellqueue/jobmgr/internal/worker"
)

type testEnv struct {
	dir      string
	lockPath string
	store    *jobstore.Store
	daemon   *daemon.Daemon
}

func newTestEnv(t *testing.T, interval time.Duration) *testEnv {
	t.Helper()

	dir := t.TempDir()
	jobsPath := filepath.Join(dir, "jobs")
	lockPath := filepath.Join(dir, "daemon.lock")

	store := jobstore.New(jobsPath, filepath.Join(dir, "status"))
	sink := output.NewSink(filepath.Join(dir, "output"))
	ctl := proc.NewController(filepath.Join(dir, "pids"), store)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := worker.NewPool(2, store, sink, ctl, "/bin/sh", logger)

	d := daemon.New(daemon.Config{
		LockPath: lockPath,
		JobsPath: jobsPath,
		LogPath:  filepath.Join(dir, "jobmgr.log"),
		Store:    store,
		Pool:     pool,
		Interval: interval,
		Logger:   logger,
	})

	return &testEnv{
		dir:      dir,
		lockPath: lockPath,
		store:    store,
		daemon:   d,
	}
}

// runDaemon runs the dispatch loop in the background and returns once the
// lock exists. The loop is stopped and drained via t.Cleanup.
func runDaemon(t *testing.T, e *testEnv) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- e.daemon.Run(ctx)
	}()

	waitFor(t, 2*time.Second, "daemon lock to appear", func() bool {
		return e.daemon.Running()
	})

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}
	})

	return cancel
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (e *testEnv) waitForStatus(t *testing.T, id int, want jobstore.Status) {
	t.Helper()

	waitFor(t, 5*time.Second, fmt.Sprintf("job %d to become %s", id, want), func() bool {
		job, err := e.store.Get(id)
		return err == nil && job.Status == want
	})
}

func TestDaemonLockLifecycle(t *testing.T) {
	e := newTestEnv(t, 50*time.Millisecond)

	cancel := runDaemon(t, e)

	if !e.daemon.Running() {
		t.Errorf("expected daemon to report running")
	}

	cancel()

	waitFor(t, 2*time.Second, "daemon lock to be released", func() bool {
		return !e.daemon.Running()
	})
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	e := newTestEnv(t, 50*time.Millisecond)

	runDaemon(t, e)

	if err := e.daemon.Run(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning: got '%v'", err)
	}
}

func TestDaemonStopWithoutLock(t *testing.T) {
	e := newTestEnv(t, 50*time.Millisecond)

	if err := e.daemon.Stop(); !errors.Is(err, daemon.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning: got '%v'", err)
	}
}

func TestDaemonStopSignalsAndRemovesLock(t *testing.T) {
	e := newTestEnv(t, 50*time.Millisecond)

	// A process of our own stands in for the daemon.
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	lock := fmt.Sprintf("%d", cmd.Process.Pid)
	if err := os.WriteFile(e.lockPath, []byte(lock), 0o644); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := e.daemon.Stop(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if e.daemon.Running() {
		t.Errorf("expected lock to be removed")
	}

	if err := cmd.Wait(); err == nil {
		t.Errorf("expected process to have been signalled")
	}
}

func TestDaemonStopCorruptLock(t *testing.T) {
	e := newTestEnv(t, 50*time.Millisecond)

	if err := os.WriteFile(e.lockPath, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if err := e.daemon.Stop(); !errors.As(err, &jobstore.CorruptError{}) {
		t.Errorf("expected CorruptError: got '%v'", err)
	}
}

func TestDaemonDispatchesPendingJobs(t *testing.T) {
	e := newTestEnv(t, 50*time.Millisecond)

	id, err := e.store.Add("echo hi", t.TempDir())
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	runDaemon(t, e)

	e.waitForStatus(t, id, jobstore.StatusCompleted)
}

func TestDaemonDoesNotDoubleDispatch(t *testing.T) {
	e := newTestEnv(t, 30*time.Millisecond)

	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	id, err := e.store.Add(fmt.Sprintf("echo run >> %s", marker), dir)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	runDaemon(t, e)

	e.waitForStatus(t, id, jobstore.StatusCompleted)

	// Leave several poll cycles to pass after completion.
	time.Sleep(200 * time.Millisecond)

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	if string(data) != "run\n" {
		t.Errorf("expected job to run exactly once: marker contains '%s'", data)
	}
}

func TestDaemonWakesOnJobsFileChange(t *testing.T) {
	// A deliberately long poll interval: only the jobs-file watcher can
	// explain the job completing quickly.
	e := newTestEnv(t, 30*time.Second)

	runDaemon(t, e)

	id, err := e.store.Add("echo hi", t.TempDir())
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	e.waitForStatus(t, id, jobstore.StatusCompleted)
}
