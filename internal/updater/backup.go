package updater

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	backupBinary = AppName + ".backup"
	backupMeta   = "backup.json"
)

type backupRecord struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
}

// backup keeps a single copy of the binary that was running before the
// last install.
type backup struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	record *backupRecord
}

func defaultBackupDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cache", AppName, "backup"), nil
}

func openBackup(dir string, logger *slog.Logger) (*backup, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	b := &backup{dir: dir, logger: logger}
	b.load()
	return b, nil
}

// load picks up a backup left by a previous run. Metadata without the
// binary next to it is ignored.
func (b *backup) load() {
	data, err := os.ReadFile(filepath.Join(b.dir, backupMeta))
	if err != nil {
		return
	}
	var rec backupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		b.logger.Warn("Failed to parse backup info", "error", err)
		return
	}
	if _, err := os.Stat(filepath.Join(b.dir, backupBinary)); err != nil {
		b.logger.Warn("Backup binary missing", "dir", b.dir)
		return
	}

	b.mu.Lock()
	b.record = &rec
	b.mu.Unlock()
	b.logger.Info("Loaded backup info", "version", rec.Version)
}

// save copies execPath into the backup directory as version.
func (b *backup) save(execPath, version string) error {
	if err := copyFile(execPath, filepath.Join(b.dir, backupBinary), 0o755); err != nil {
		return fmt.Errorf("failed to copy executable: %w", err)
	}

	rec := backupRecord{Version: version, CreatedAt: time.Now(), ExecPath: execPath}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(b.dir, backupMeta), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup info: %w", err)
	}

	b.mu.Lock()
	b.record = &rec
	b.mu.Unlock()
	b.logger.Info("Backup created", "version", version, "dir", b.dir)
	return nil
}

// restore puts the backed up binary back where it was taken from.
func (b *backup) restore() error {
	b.mu.RLock()
	rec := b.record
	b.mu.RUnlock()
	if rec == nil {
		return errors.New("no backup available")
	}

	if err := copyFile(filepath.Join(b.dir, backupBinary), rec.ExecPath, 0o755); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	b.logger.Info("Backup restored", "version", rec.Version, "path", rec.ExecPath)
	return nil
}

// version returns the backed up version and whether there is a backup.
func (b *backup) version() (string, bool) {
	if b == nil {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.record == nil {
		return "", false
	}
	return b.record.Version, true
}

// copyFile writes src to a temporary file next to dst and renames it into
// place. Renaming works over a running executable where writing to it
// fails with ETXTBSY.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
