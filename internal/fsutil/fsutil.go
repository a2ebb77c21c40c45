// Package fsutil provides filesystem helpers shared by the persistence
// layers.
package fsutil

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// WriteFileAtomic writes data to path by writing a uniquely named temporary
// file in the same directory and renaming it over the target. A concurrent
// reader observes either the old contents or the new contents, never a
// partial write. The temporary name carries a random suffix so writers in
// separate processes cannot collide on it.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// ReadLines reads path and returns its lines without trailing newlines. A
// missing file is treated as empty. Line contents are returned verbatim;
// callers decide what a blank or malformed line means.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(data) == 0 {
		return nil, nil
	}

	text := string(data)
	if text[len(text)-1] == '\n' {
		text = text[:len(text)-1]
	}

	var lines []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}

	return lines, nil
}
