// Package jobstore persists job records as two positionally aligned flat
// files: one job record per line and one status keyword per line. A job's id
// is its 1-based line position, so deleting a record shifts the ids of every
// record after it down by one. Callers must re-list after any delete.
package jobstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shellqueue/jobmgr/internal/fsutil"
)

// fieldSep joins the command and workdir fields of a job record. The ASCII
// unit separator is not expected to appear in either field.
const fieldSep = "\x1f"

// Job is a single queued shell command with its captured working directory
// and lifecycle status.
type Job struct {
	ID      int
	Command string
	Workdir string
	Status  Status
}

// Store reads and mutates the job and status files. Every operation takes a
// consistent snapshot of both files and, for mutations, rewrites them
// atomically, with the whole read-modify-write cycle under a single mutex so
// concurrent workers cannot clobber each other's status updates.
type Store struct {
	jobsPath   string
	statusPath string

	mu sync.Mutex
}

// New creates a Store over the given jobs and status file paths. The files
// are created lazily on first mutation; a missing file reads as empty.
func New(jobsPath, statusPath string) *Store {
	return &Store{
		jobsPath:   jobsPath,
		statusPath: statusPath,
	}
}

type record struct {
	command string
	workdir string
}

// Add appends a job with status PENDING and returns its 1-based id.
func (s *Store) Add(command, workdir string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, statuses, err := s.load()
	if err != nil {
		return 0, err
	}

	records = append(records, record{command: command, workdir: workdir})
	statuses = append(statuses, StatusPending)

	if err := s.save(records, statuses); err != nil {
		return 0, err
	}

	return len(records), nil
}

// List returns a snapshot of every job in id order.
func (s *Store) List() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, statuses, err := s.load()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, len(records))
	for i, r := range records {
		jobs[i] = Job{
			ID:      i + 1,
			Command: r.command,
			Workdir: r.workdir,
			Status:  statuses[i],
		}
	}

	return jobs, nil
}

// Get returns the job with the given id or ErrNotFound.
func (s *Store) Get(id int) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, statuses, err := s.load()
	if err != nil {
		return Job{}, err
	}

	if id < 1 || id > len(records) {
		return Job{}, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}

	return Job{
		ID:      id,
		Command: records[id-1].command,
		Workdir: records[id-1].workdir,
		Status:  statuses[id-1],
	}, nil
}

// UpdateStatus rewrites the status of exactly one job.
func (s *Store) UpdateStatus(id int, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, statuses, err := s.load()
	if err != nil {
		return err
	}

	if id < 1 || id > len(statuses) {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}

	statuses[id-1] = status

	return s.save(records, statuses)
}

// Delete removes the job and its status at the given position. Jobs after it
// shift down by one id.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, statuses, err := s.load()
	if err != nil {
		return err
	}

	if id < 1 || id > len(records) {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}

	records = append(records[:id-1], records[id:]...)
	statuses = append(statuses[:id-1], statuses[id:]...)

	return s.save(records, statuses)
}

// DeleteAll clears every job and status. It fails with ErrBusy while any
// job still has a live process (RUNNING or PAUSED), leaving both files
// untouched.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statuses, err := s.load()
	if err != nil {
		return err
	}

	for i, status := range statuses {
		if status.Active() {
			return fmt.Errorf("job %d is %s: %w", i+1, status, ErrBusy)
		}
	}

	return s.save(nil, nil)
}

// load reads both files and verifies they parse and align. Callers hold the
// mutex.
func (s *Store) load() ([]record, []Status, error) {
	jobLines, err := fsutil.ReadLines(s.jobsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read jobs file: %w", err)
	}

	statusLines, err := fsutil.ReadLines(s.statusPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read status file: %w", err)
	}

	if len(jobLines) != len(statusLines) {
		return nil, nil, CorruptError{
			File:   s.statusPath,
			Reason: fmt.Sprintf("%d job records but %d statuses", len(jobLines), len(statusLines)),
		}
	}

	records := make([]record, len(jobLines))
	for i, line := range jobLines {
		command, workdir, ok := strings.Cut(line, fieldSep)
		if !ok {
			return nil, nil, CorruptError{
				File:   s.jobsPath,
				Line:   i + 1,
				Reason: "want 2 fields separated by 0x1f",
			}
		}

		records[i] = record{command: command, workdir: workdir}
	}

	statuses := make([]Status, len(statusLines))
	for i, line := range statusLines {
		status := Status(line)
		if !status.Valid() {
			return nil, nil, CorruptError{
				File:   s.statusPath,
				Line:   i + 1,
				Reason: fmt.Sprintf("unknown status %q", line),
			}
		}

		statuses[i] = status
	}

	return records, statuses, nil
}

// save rewrites both files. Each file is replaced atomically; a reader never
// observes a half-written file. Callers hold the mutex.
func (s *Store) save(records []record, statuses []Status) error {
	var jobs strings.Builder
	for _, r := range records {
		jobs.WriteString(r.command)
		jobs.WriteString(fieldSep)
		jobs.WriteString(r.workdir)
		jobs.WriteByte('\n')
	}

	var status strings.Builder
	for _, st := range statuses {
		status.WriteString(string(st))
		status.WriteByte('\n')
	}

	if err := fsutil.WriteFileAtomic(s.jobsPath, []byte(jobs.String()), 0o644); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.statusPath, []byte(status.String()), 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}

	return nil
}
