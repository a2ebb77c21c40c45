// Package daemon manages the singleton background process that dispatches
// pending jobs on a fixed poll interval.
//
// A lock file containing the daemon's pid is the liveness token: it is
// created when the loop starts and removed by stop or by the loop's own
// shutdown. Whether the recorded pid is actually alive is not verified, so a
// crashed daemon leaves a stale lock that has to be removed by hand before
// start succeeds again.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/shellqueue/jobmgr/internal/jobstore"
	"github.com/shellqueue/jobmgr/internal/worker"
)

var (
	ErrAlreadyRunning = errors.New("daemon is already running")
	ErrNotRunning     = errors.New("daemon is not running")
)

// DefaultPollInterval is the period between scans for pending jobs.
const DefaultPollInterval = 10 * time.Second

// Config holds the dependencies for a Daemon.
type Config struct {
	LockPath string
	JobsPath string
	LogPath  string
	Store    *jobstore.Store
	Pool     *worker.Pool
	Interval time.Duration // defaults to DefaultPollInterval if zero
	Logger   *slog.Logger
}

// Daemon owns the dispatch loop and its singleton lifecycle.
type Daemon struct {
	lockPath string
	jobsPath string
	logPath  string
	store    *jobstore.Store
	pool     *worker.Pool
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Daemon from cfg.
func New(cfg Config) *Daemon {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Daemon{
		lockPath: cfg.LockPath,
		jobsPath: cfg.JobsPath,
		logPath:  cfg.LogPath,
		store:    cfg.Store,
		pool:     cfg.Pool,
		interval: interval,
		logger:   logger,
	}
}

// Running reports whether the daemon lock exists.
func (d *Daemon) Running() bool {
	_, err := os.Stat(d.lockPath)
	return err == nil
}

// Start launches the current executable as a detached background process
// running the given subcommand arguments (the dispatch loop) and returns
// without waiting for it. The child acquires the lock itself.
func (d *Daemon) Start(args []string) error {
	if d.Running() {
		return ErrAlreadyRunning
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	logFile, err := os.OpenFile(d.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	// Deliberately not waited on; the child outlives this process.
	return cmd.Process.Release()
}

// Stop signals the recorded daemon process to terminate and removes the
// lock. It does not wait for the target to exit: the lock is removed even if
// signal delivery silently fails.
func (d *Daemon) Stop() error {
	data, err := os.ReadFile(d.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotRunning
		}

		return fmt.Errorf("read daemon lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return jobstore.CorruptError{File: d.lockPath, Reason: "lock does not contain a pid"}
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		d.logger.Warn("signal daemon", "pid", pid, "err", err)
	}

	if err := os.Remove(d.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove daemon lock: %w", err)
	}

	return nil
}

// Run is the body of the daemon process. It acquires the lock, then scans
// for pending jobs on every interval tick, or earlier when the jobs file
// changes, until ctx is cancelled. Each pending job is submitted
// fire-and-forget; the loop never blocks on job completion.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	d.logger.Info("daemon started", "pid", os.Getpid(), "interval", d.interval)

	wake := d.watchJobs(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.scan()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return nil
		case <-ticker.C:
			d.scan()
		case <-wake:
			d.scan()
		}
	}
}

// scan submits every currently pending job. A full pool leaves jobs PENDING
// for the next scan; a store error skips the cycle rather than ending the
// loop.
func (d *Daemon) scan() {
	jobs, err := d.store.List()
	if err != nil {
		d.logger.Error("scan jobs", "err", err)
		return
	}

	for _, job := range jobs {
		if job.Status != jobstore.StatusPending {
			continue
		}

		if !d.pool.TrySubmit(job) {
			d.logger.Debug("pool full, leaving job pending", "id", job.ID)
		}
	}
}

// watchJobs wakes the loop early when the jobs file changes, cutting
// dispatch latency below the poll interval. The watcher is an optimisation:
// if it cannot be set up, the fixed-interval ticker still drives every scan.
// The parent directory is watched because the store replaces the file by
// rename.
func (d *Daemon) watchJobs(ctx context.Context) <-chan struct{} {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("jobs watcher unavailable, relying on polling", "err", err)
		return nil
	}

	if err := watcher.Add(filepath.Dir(d.jobsPath)); err != nil {
		d.logger.Warn("jobs watcher unavailable, relying on polling", "err", err)
		watcher.Close()
		return nil
	}

	wake := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Name != d.jobsPath {
					continue
				}

				if !event.Op.Has(fsnotify.Create | fsnotify.Write | fsnotify.Rename) {
					continue
				}

				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				d.logger.Warn("jobs watcher", "err", err)
			}
		}
	}()

	return wake
}

// acquireLock atomically creates the lock file with this process's pid.
func (d *Daemon) acquireLock() error {
	f, err := os.OpenFile(d.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyRunning
		}

		return fmt.Errorf("create daemon lock: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		return fmt.Errorf("write daemon lock: %w", err)
	}

	return nil
}

// releaseLock removes the lock on the way out of Run so a clean shutdown
// never leaves it dangling. Stop may have already removed it.
func (d *Daemon) releaseLock() {
	if err := os.Remove(d.lockPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("remove daemon lock", "err", err)
	}
}
