// Package worker executes queued jobs with bounded concurrency.
package worker

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/shellqueue/jobmgr/internal/jobstore"
	"github.com/shellqueue/jobmgr/internal/output"
	"github.com/shellqueue/jobmgr/internal/proc"
)

// DefaultCapacity is the number of jobs that may execute simultaneously.
const DefaultCapacity = 10

// Pool runs job commands in the user's shell, at most capacity at a time.
// Each accepted job is executed in its own goroutine: the pool spawns the
// process, registers its pid, blocks until it exits, stores the captured
// output, and records the terminal status.
type Pool struct {
	store  *jobstore.Store
	sink   *output.Sink
	ctl    *proc.Controller
	shell  string
	logger *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool creates a Pool with the given capacity. A non-positive capacity
// falls back to DefaultCapacity; an empty shell falls back to /bin/sh.
func NewPool(
	capacity int,
	store *jobstore.Store,
	sink *output.Sink,
	ctl *proc.Controller,
	shell string,
	logger *slog.Logger,
) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if shell == "" {
		shell = "/bin/sh"
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		store:  store,
		sink:   sink,
		ctl:    ctl,
		shell:  shell,
		logger: logger,
		slots:  make(chan struct{}, capacity),
	}
}

// TrySubmit dispatches the job for execution if a slot is free. The job is
// marked RUNNING before TrySubmit returns, so a scan that runs after
// dispatch never sees it as PENDING and never double-submits it.
//
// When the pool is at capacity TrySubmit returns false and the job stays
// PENDING; a later scan picks it up once a slot frees.
func (p *Pool) TrySubmit(job jobstore.Job) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}

	if err := p.store.UpdateStatus(job.ID, jobstore.StatusRunning); err != nil {
		p.logger.Error("mark job running", "id", job.ID, "err", err)
		<-p.slots
		return false
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()

		p.run(job)
	}()

	return true
}

// Wait blocks until every dispatched job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// run executes a single job to completion. A failure anywhere in the
// sequence marks the job ERROR and is contained to this job; the pool and
// other in-flight jobs are unaffected.
func (p *Pool) run(job jobstore.Job) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(p.shell, "-c", job.Command)
	cmd.Dir = job.Workdir
	cmd.Env = os.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.Info("starting job", "id", job.ID, "shell", p.shell, "command", job.Command)

	if err := cmd.Start(); err != nil {
		p.logger.Error("start job", "id", job.ID, "err", err)
		p.fail(job.ID)
		return
	}

	// Bind before blocking on completion so pause/resume work for the whole
	// running window.
	pid := cmd.Process.Pid
	if err := p.ctl.Bind(job.ID, pid); err != nil {
		p.logger.Warn("bind job process", "id", job.ID, "pid", pid, "err", err)
	}

	waitErr := cmd.Wait()

	if err := p.ctl.Unbind(job.ID); err != nil {
		p.logger.Warn("unbind job process", "id", job.ID, "err", err)
	}

	if err := p.sink.Write(job.ID, stdout.String(), stderr.String()); err != nil {
		p.logger.Error("write job output", "id", job.ID, "err", err)
		p.fail(job.ID)
		return
	}

	if waitErr != nil {
		p.logger.Error(
			"job failed",
			"id", job.ID,
			"exit_code", cmd.ProcessState.ExitCode(),
			"err", waitErr,
		)
		p.fail(job.ID)
		return
	}

	p.logger.Info("job completed", "id", job.ID)

	if err := p.store.UpdateStatus(job.ID, jobstore.StatusCompleted); err != nil {
		p.logger.Error("mark job completed", "id", job.ID, "err", err)
	}
}

func (p *Pool) fail(id int) {
	if err := p.store.UpdateStatus(id, jobstore.StatusError); err != nil {
		p.logger.Error("mark job failed", "id", id, "err", err)
	}
}
