// Package lock enforces one daemon per session via an exclusive flock on a
// LOCK file in the session directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// HeldError reports the process that already owns the session.
type HeldError struct {
	Path    string
	PID     int
	Started time.Time
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("session in use by pid %d since %s", e.PID, e.Started.Format(time.RFC3339))
	}
	return "session in use (" + e.Path + ")"
}

// Lock is a held session lock. The zero value is released.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the exclusive session lock, creating the directory if
// needed. A *HeldError is returned when another daemon owns the session.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := readHolder(path)
		_ = f.Close()
		return nil, held
	}

	if err := stamp(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes the file. Idempotent, nil-safe.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Remove while still holding the flock so a racing Acquire never sees
	// an unlocked stale file.
	_ = os.Remove(l.path)
	err := l.f.Close()
	l.f = nil
	return err
}

// stamp records the holder's pid and start time for diagnostics.
func stamp(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid %d\nstarted %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// readHolder parses the holder stamp out of an existing lock file. Fields
// it cannot parse stay zero; the error is still returned either way.
func readHolder(path string) *HeldError {
	held := &HeldError{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return held
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "pid "); ok {
			held.PID, _ = strconv.Atoi(strings.TrimSpace(v))
		}
		if v, ok := strings.CutPrefix(line, "started "); ok {
			held.Started, _ = time.Parse(time.RFC3339, strings.TrimSpace(v))
		}
	}
	return held
}
