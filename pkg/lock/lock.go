// Package lock provides marker-file mutual exclusion between sync runs.
// Concurrent runs against the same document would corrupt line-number
// anchors and double-create remote tasks, so acquisition is mandatory
// before any mutation.
package lock

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Defaults for Acquire.
const (
	DefaultStaleThreshold = time.Hour
	pollInterval          = time.Second
)

// Lock is a file-based lock recording the owning pid and start time.
type Lock struct {
	path     string
	logger   *log.Logger
	acquired bool
}

// New creates a lock around the given marker file path.
func New(path string, logger *log.Logger) *Lock {
	return &Lock{path: path, logger: logger}
}

// Acquire attempts to take the lock. With timeout zero it fails immediately
// when the lock is held; otherwise it polls once per second until the
// timeout elapses. A held marker older than staleThreshold is presumed to
// belong to a dead process and is removed before retrying.
func (l *Lock) Acquire(timeout, staleThreshold time.Duration) bool {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	start := time.Now()

	for {
		info, err := os.Stat(l.path)
		if err == nil {
			age := time.Since(info.ModTime())
			if age > staleThreshold {
				l.logger.Printf("Lock file is stale (%s old), removing", age.Round(time.Second))
				if err := os.Remove(l.path); err != nil {
					l.logger.Printf("Failed to remove stale lock: %v", err)
					return false
				}
			} else {
				if timeout == 0 {
					l.logger.Printf("Another sync is already running. Lock file: %s", l.path)
					return false
				}
				if time.Since(start) >= timeout {
					l.logger.Printf("Timeout waiting for lock after %s", time.Since(start).Round(time.Second))
					return false
				}
				time.Sleep(pollInterval)
				continue
			}
		}

		if err := l.create(); err != nil {
			if os.IsExist(err) {
				// Lost the race to another process; re-evaluate.
				continue
			}
			l.logger.Printf("Failed to create lock file: %v", err)
			return false
		}
		l.acquired = true
		return true
	}
}

func (l *Lock) create() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "PID: %d\nStarted: %s\n", os.Getpid(), time.Now().Format("2006-01-02 15:04:05"))
	return err
}

// Release removes the marker file. Safe to call multiple times and on a
// lock that was never acquired.
func (l *Lock) Release() {
	if !l.acquired {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Printf("Failed to remove lock file: %v", err)
	}
	l.acquired = false
}
