// Package runlock keeps two CLI invocations from mutating the same
// data directory at once. The lock is an advisory lock file created
// with O_EXCL; a file older than the lease is treated as a leftover
// from a crashed run and broken.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const lockName = "run.lock"

// Lock is a held run lock. Release it when the run ends.
type Lock struct {
	path string
}

// Acquire takes the run lock for dir, breaking a stale one whose
// mtime is older than lease. It fails if another live run holds it.
func Acquire(dir string, lease time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlock: creating data dir: %w", err)
	}
	path := filepath.Join(dir, lockName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("runlock: creating %s: %w", path, err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue // holder released between OpenFile and Stat
			}
			return nil, fmt.Errorf("runlock: inspecting %s: %w", path, statErr)
		}
		if time.Since(info.ModTime()) < lease {
			return nil, fmt.Errorf("runlock: another run holds %s (started %s ago)",
				path, time.Since(info.ModTime()).Round(time.Second))
		}

		log.Warn().Str("path", path).Time("mtime", info.ModTime()).Msg("breaking stale run lock")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("runlock: breaking stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("runlock: could not acquire %s", path)
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runlock: releasing: %w", err)
	}
	return nil
}
