// Package output stores the captured stdout/stderr of completed jobs, one
// file per job id.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shellqueue/jobmgr/internal/fsutil"
)

// errSeparator delimits the stderr section from the stdout section in a
// stored output file. It is only written when stderr is non-empty.
const errSeparator = "\n--- Errors ---\n"

// ErrNoOutput is returned when reading output for a job that has not
// completed an execution yet.
var ErrNoOutput = errors.New("no output for job")

// Sink writes and reads per-job output files. Files are keyed by job id, so
// concurrent writers for different jobs never contend; writes for the same
// id are atomic and last-write-wins.
type Sink struct {
	dir string
}

// NewSink creates a Sink storing output files under dir.
func NewSink(dir string) *Sink {
	return &Sink{dir: dir}
}

// Write stores the captured output of a completed execution. Re-running the
// same job id overwrites the previous file.
func (s *Sink) Write(id int, stdout, stderr string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var b strings.Builder
	b.WriteString(stdout)
	if stderr != "" {
		b.WriteString(errSeparator)
		b.WriteString(stderr)
	}

	if err := fsutil.WriteFileAtomic(s.path(id), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write output for job %d: %w", id, err)
	}

	return nil
}

// Read returns the stored output for a job or ErrNoOutput if it has not
// completed an execution.
func (s *Sink) Read(id int) (string, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("job %d: %w", id, ErrNoOutput)
		}

		return "", fmt.Errorf("read output for job %d: %w", id, err)
	}

	return string(data), nil
}

// RemoveAll deletes every stored output file.
func (s *Sink) RemoveAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read output dir: %w", err)
	}

	for _, entry := range entries {
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("remove output file: %w", err)
		}
	}

	return nil
}

func (s *Sink) path(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("job_%d.txt", id))
}
