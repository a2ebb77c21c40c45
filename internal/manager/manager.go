// Package manager wires the job store, output sink, process controller,
// worker pool and daemon together behind the operations the CLI dispatches
// to.
package manager

import (
	"fmt"
	"log/slog"

	"github.com/shellqueue/jobmgr/internal/config"
	"github.com/shellqueue/jobmgr/internal/daemon"
	"github.com/shellqueue/jobmgr/internal/jobstore"
	"github.com/shellqueue/jobmgr/internal/output"
	"github.com/shellqueue/jobmgr/internal/proc"
	"github.com/shellqueue/jobmgr/internal/worker"
)

// Manager composes the components of the job manager over a single state
// directory.
type Manager struct {
	store  *jobstore.Store
	sink   *output.Sink
	ctl    *proc.Controller
	pool   *worker.Pool
	daemon *daemon.Daemon
	logger *slog.Logger
}

// New creates a Manager for cfg. The state directories must already exist
// (see config.EnsureDirs).
func New(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	store := jobstore.New(cfg.JobsFile(), cfg.StatusFile())
	sink := output.NewSink(cfg.OutputDir())
	ctl := proc.NewController(cfg.PIDsFile(), store)
	pool := worker.NewPool(cfg.Capacity, store, sink, ctl, cfg.Shell, logger)

	d := daemon.New(daemon.Config{
		LockPath: cfg.LockFile(),
		JobsPath: cfg.JobsFile(),
		LogPath:  cfg.LogFile(),
		Store:    store,
		Pool:     pool,
		Interval: cfg.PollInterval,
		Logger:   logger,
	})

	return &Manager{
		store:  store,
		sink:   sink,
		ctl:    ctl,
		pool:   pool,
		daemon: d,
		logger: logger,
	}
}

// Add queues command for execution from workdir and returns the new job's
// id.
func (m *Manager) Add(command, workdir string) (int, error) {
	id, err := m.store.Add(command, workdir)
	if err != nil {
		return 0, err
	}

	m.logger.Info("added job", "id", id, "command", command, "workdir", workdir)

	return id, nil
}

// List returns a snapshot of every job in id order.
func (m *Manager) List() ([]jobstore.Job, error) {
	return m.store.List()
}

// View returns the stored output of a job. A missing job id is
// jobstore.ErrNotFound; a job that exists but has not completed an execution
// is output.ErrNoOutput.
func (m *Manager) View(id int) (string, error) {
	if _, err := m.store.Get(id); err != nil {
		return "", err
	}

	return m.sink.Read(id)
}

// Pause suspends a running job's process.
func (m *Manager) Pause(id int) error {
	if err := m.ctl.Pause(id); err != nil {
		return err
	}

	m.logger.Info("paused job", "id", id)

	return nil
}

// Resume continues a paused job's process.
func (m *Manager) Resume(id int) error {
	if err := m.ctl.Resume(id); err != nil {
		return err
	}

	m.logger.Info("resumed job", "id", id)

	return nil
}

// Delete removes a single job. Ids above the deleted one shift down.
func (m *Manager) Delete(id int) error {
	return m.store.Delete(id)
}

// Clean removes every job record, all pid bindings, and all stored output.
// Refused with jobstore.ErrBusy while the daemon is active or any job has a
// live process, in which case nothing is touched.
func (m *Manager) Clean() error {
	if m.daemon.Running() {
		return fmt.Errorf("daemon is active: %w", jobstore.ErrBusy)
	}

	if err := m.store.DeleteAll(); err != nil {
		return err
	}

	if err := m.ctl.Clear(); err != nil {
		return err
	}

	return m.sink.RemoveAll()
}

// RunPending performs a one-shot scan for use without a daemon: every
// pending job is dispatched and the call blocks until all dispatched jobs
// have finished. Jobs beyond the pool capacity stay PENDING and need
// another call.
func (m *Manager) RunPending() error {
	jobs, err := m.store.List()
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.Status != jobstore.StatusPending {
			continue
		}

		if !m.pool.TrySubmit(job) {
			m.logger.Warn("pool full, job left pending", "id", job.ID)
		}
	}

	m.pool.Wait()

	return nil
}

// Daemon exposes the daemon lifecycle (start, stop, run, running).
func (m *Manager) Daemon() *daemon.Daemon {
	return m.daemon
}
