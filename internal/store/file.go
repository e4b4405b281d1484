package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FilePerms for the store file. The document is published as site data, so
// it is world-readable.
const FilePerms = 0o644

// DirPerms is used when creating the store's parent directory.
const DirPerms = 0o755

// LoadState tells the caller how the document returned by Load came to be.
type LoadState int

const (
	// Loaded means the file existed and decoded cleanly.
	Loaded LoadState = iota
	// Missing means there was no file; the document is new.
	Missing
	// Recovered means the file existed but could not be read or decoded.
	// The document is empty and every prior measurement is treated as
	// absent.
	Recovered
)

func (s LoadState) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Missing:
		return "missing"
	case Recovered:
		return "recovered"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// Load reads the document at path. A missing file yields an empty
// document. An unreadable or undecodable file also yields an empty document
// so a run can still proceed, but the file is first copied (or, when it
// cannot be read, renamed) to path.corrupt-<timestamp> and the fallback is
// logged at error level. Failing to set it aside is an error.
func Load(path string, logger *slog.Logger) (*Document, LoadState, error) {
	data, err := readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no existing store, starting empty", slog.String("path", path))
		return New(), Missing, nil
	}

	if err != nil {
		// The content cannot be copied, so the file itself is moved aside
		// before a checkpoint can replace it.
		moved, merr := moveAside(path, time.Now())
		if merr != nil {
			return nil, Recovered, fmt.Errorf("store: %s is unreadable (%v) and could not be moved aside: %w", path, err, merr)
		}

		logger.Error("store unreadable, treating all prior measurements as absent",
			slog.String("path", path),
			slog.String("backup", moved),
			slog.String("error", err.Error()),
		)

		return New(), Recovered, nil
	}

	doc := New()
	if derr := json.Unmarshal(data, doc); derr != nil {
		backup, berr := backupCorrupt(path, data, time.Now())
		if berr != nil {
			return nil, Recovered, fmt.Errorf("store: %s is corrupt (%v) and could not be backed up: %w", path, derr, berr)
		}

		logger.Error("store corrupt, treating all prior measurements as absent",
			slog.String("path", path),
			slog.String("backup", backup),
			slog.String("error", derr.Error()),
		)

		return New(), Recovered, nil
	}

	logger.Debug("store loaded",
		slog.String("path", path),
		slog.Int("layouts", len(doc.Layouts)),
	)

	return doc, Loaded, nil
}

// readFile is os.ReadFile; tests replace it to simulate I/O errors.
var readFile = os.ReadFile

func corruptName(path string, now time.Time) string {
	return fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
}

// backupCorrupt writes data next to path under a timestamped name.
func backupCorrupt(path string, data []byte, now time.Time) (string, error) {
	backup := corruptName(path, now)
	if err := writeAtomic(backup, data); err != nil {
		return "", err
	}

	return backup, nil
}

// moveAside renames path to its timestamped corrupt name.
func moveAside(path string, now time.Time) (string, error) {
	backup := corruptName(path, now)
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}

	return backup, nil
}

// Encode renders doc exactly as Save writes it.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("store: encoding: %w", err)
	}

	return buf.Bytes(), nil
}

// Save writes doc to path atomically: a temp file in the same directory is
// written, synced and renamed over path. A crash at any point leaves either
// the previous file or the new one, never a partial write.
func Save(path string, doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("store: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("store: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: renaming: %w", err)
	}

	success = true

	return nil
}
