package casestore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// atomicWrite writes data via a temp file in the same directory, fsyncs it,
// and renames over the target. Concurrent readers see either the old or the
// new document, never a partial one.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".caseward-tmp-*")
	if err != nil {
		return fmt.Errorf("casestore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("casestore: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("casestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("casestore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("casestore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("casestore: rename: %w", err)
	}
	success = true
	return nil
}

// AppendLine appends one JSON line to path under an exclusive advisory lock,
// then flushes. The short-lived flock prevents interleaved partial lines when
// several processes append to the same log over a shared filesystem.
func AppendLine(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("casestore: marshal log entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("casestore: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("casestore: open log %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("casestore: lock log %s: %w", path, err)
	}
	// The flock is released when f is closed.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("casestore: append log %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("casestore: fsync log %s: %w", path, err)
	}
	return nil
}

// ReadLines decodes every well-formed JSON line in path, skipping corrupt
// lines. A missing file yields an empty slice.
func ReadLines[T any](path string) ([]T, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("casestore: open log %s: %w", path, err)
	}
	defer f.Close()

	var out []T
	corrupt := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			corrupt++
			continue
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, corrupt, fmt.Errorf("casestore: scan log %s: %w", path, err)
	}
	return out, corrupt, nil
}
