package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockFilePermissions matches the store file permissions (owner rw, group/other r).
const lockFilePermissions = 0o644

// lockDirPermissions matches the store directory permissions.
const lockDirPermissions = 0o755

// storeLockPath returns the lock file guarding storePath.
func storeLockPath(storePath string) string {
	return storePath + ".lock"
}

// lockStore takes an exclusive flock on the store's lock file and writes
// the current PID into it. Returns a release function that removes the file
// and drops the lock. Fails immediately when another process is writing the
// same store, naming that process when its PID is readable.
func lockStore(storePath string) (release func(), err error) {
	if storePath == "" {
		return nil, fmt.Errorf("store path is empty, nothing to lock")
	}

	path := storeLockPath(storePath)

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, lockDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating store directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening store lock: %w", err)
	}

	// Non-blocking exclusive lock: fails immediately if another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, perr := readLockPID(path); perr == nil {
			return nil, fmt.Errorf("store %s is being updated by another layoutstats process (PID %d)", storePath, pid)
		}

		return nil, fmt.Errorf("store %s is being updated by another layoutstats process (could not lock %s)", storePath, path)
	}

	// Truncate and write current PID.
	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating store lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing store lock: %w", err)
	}

	// Sync to disk so a competing process can name us.
	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing store lock: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readLockPID reads the PID recorded in a lock file.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading store lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
