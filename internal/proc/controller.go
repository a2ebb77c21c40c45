// Package proc tracks the OS processes of running jobs and delivers
// suspend/resume signals to them.
//
// The binding table is persisted because pause and resume are issued from a
// different process than the daemon that spawned the job.
package proc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/shellqueue/jobmgr/internal/fsutil"
	"github.com/shellqueue/jobmgr/internal/jobstore"
)

// Controller binds job ids to live process ids for the duration of a job's
// execution. A binding exists exactly while the job is RUNNING or PAUSED.
type Controller struct {
	path  string
	store *jobstore.Store

	mu sync.Mutex
}

// NewController creates a Controller persisting bindings at path and
// recording status transitions in store.
func NewController(path string, store *jobstore.Store) *Controller {
	return &Controller{
		path:  path,
		store: store,
	}
}

// Bind records pid as the live process of the given job. Called by the
// worker immediately after spawn, before it blocks on completion.
func (c *Controller) Bind(id, pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bindings, err := c.load()
	if err != nil {
		return err
	}

	bindings[id] = pid

	return c.save(bindings)
}

// Unbind removes the binding for a job that reached a terminal status.
// Unbinding an id that is not bound is a no-op.
func (c *Controller) Unbind(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bindings, err := c.load()
	if err != nil {
		return err
	}

	if _, ok := bindings[id]; !ok {
		return nil
	}

	delete(bindings, id)

	return c.save(bindings)
}

// Lookup returns the pid bound to the given job or ErrNotFound.
func (c *Controller) Lookup(id int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bindings, err := c.load()
	if err != nil {
		return 0, err
	}

	pid, ok := bindings[id]
	if !ok {
		return 0, fmt.Errorf("job %d has no bound process: %w", id, jobstore.ErrNotFound)
	}

	return pid, nil
}

// Pause suspends the process of a running job with SIGSTOP and marks the job
// PAUSED. The worker waiting on the process stays blocked; the process just
// stops being scheduled.
func (c *Controller) Pause(id int) error {
	pid, err := c.Lookup(id)
	if err != nil {
		return err
	}

	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("suspend pid %d: %w", pid, err)
	}

	return c.store.UpdateStatus(id, jobstore.StatusPaused)
}

// Resume delivers SIGCONT to the process of a paused job and marks the job
// RUNNING again.
func (c *Controller) Resume(id int) error {
	pid, err := c.Lookup(id)
	if err != nil {
		return err
	}

	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("continue pid %d: %w", pid, err)
	}

	return c.store.UpdateStatus(id, jobstore.StatusRunning)
}

// Clear drops every binding. Used by clean after all jobs are gone, so a
// stale table from a crashed daemon does not outlive the jobs it refers to.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.save(nil)
}

// load parses the binding table. Callers hold the mutex.
func (c *Controller) load() (map[int]int, error) {
	lines, err := fsutil.ReadLines(c.path)
	if err != nil {
		return nil, fmt.Errorf("read pid bindings: %w", err)
	}

	bindings := make(map[int]int, len(lines))
	for i, line := range lines {
		idField, pidField, ok := strings.Cut(line, ":")
		if !ok {
			return nil, jobstore.CorruptError{
				File:   c.path,
				Line:   i + 1,
				Reason: "want 'id:pid'",
			}
		}

		id, err := strconv.Atoi(idField)
		if err != nil {
			return nil, jobstore.CorruptError{File: c.path, Line: i + 1, Reason: "id is not a number"}
		}

		pid, err := strconv.Atoi(pidField)
		if err != nil {
			return nil, jobstore.CorruptError{File: c.path, Line: i + 1, Reason: "pid is not a number"}
		}

		bindings[id] = pid
	}

	return bindings, nil
}

// save rewrites the binding table in id order. Callers hold the mutex.
func (c *Controller) save(bindings map[int]int) error {
	ids := make([]int, 0, len(bindings))
	for id := range bindings {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%d:%d\n", id, bindings[id])
	}

	if err := fsutil.WriteFileAtomic(c.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write pid bindings: %w", err)
	}

	return nil
}
