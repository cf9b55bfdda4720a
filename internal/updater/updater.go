// Package updater replaces the running capturenode binary with a newer
// GitHub release and keeps one backup to roll back to. Every install ends
// in a restart so the service manager starts the new binary.
package updater

import (
	"context"
	"time"
)

// AppName prefixes release assets and names the backup directory.
const AppName = "capturenode"

// DefaultRepository is the GitHub repository releases are fetched from.
const DefaultRepository = "smazurov/capturenode"

// State is the position of the updater in its install cycle.
type State string

// Updater states.
const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateAvailable   State = "available"
	StateDownloading State = "downloading"
	StateApplying    State = "applying"
	StateRestarting  State = "restarting"
	StateError       State = "error"
	StateRolledBack  State = "rolled_back"
)

// Service checks for and installs releases.
type Service interface {
	// CheckForUpdate asks the release source for the latest version.
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)
	// ApplyUpdate installs the release found by the last check, checking
	// first when none is known, then restarts.
	ApplyUpdate(ctx context.Context) error
	// Rollback reinstalls the backed up binary, then restarts.
	Rollback(ctx context.Context) error
	GetStatus(ctx context.Context) *Status
	// IsEnabled is false when the binary cannot be replaced in place.
	IsEnabled() bool
	DisabledReason() string
}

// Restarter is implemented by the service returned from NewService.
type Restarter interface {
	Restart(ctx context.Context) error
	ApplyDevBuild(ctx context.Context) error
	IsRestartPending() bool
}

// UpdateInfo describes the result of a release check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes"`
	ReleaseURL      string    `json:"release_url"`
	PublishedAt     time.Time `json:"published_at"`
	AssetSize       int       `json:"asset_size"`
	UpdateAvailable bool      `json:"update_available"`
}

// Status is a snapshot of the updater.
type Status struct {
	State           State      `json:"state"`
	CurrentVersion  string     `json:"current_version"`
	TargetVersion   string     `json:"target_version,omitempty"`
	Progress        int        `json:"progress,omitempty"`
	Error           string     `json:"error,omitempty"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	BackupAvailable bool       `json:"backup_available"`
	BackupVersion   string     `json:"backup_version,omitempty"`
}

// Options configures NewService.
type Options struct {
	// Repository is the GitHub "owner/name" slug, DefaultRepository when
	// empty.
	Repository string
	Prerelease bool
	// BackupDir holds the previous binary, ~/.cache/capturenode/backup
	// when empty.
	BackupDir string
	// Restart is called once an install finished. The default sends
	// SIGTERM to this process so systemd starts it again.
	Restart func()
}
