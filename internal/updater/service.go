package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/smazurov/capturenode/internal/version"
)

const restartDelay = 500 * time.Millisecond

// releaseSource is the part of *selfupdate.Updater the service uses.
type releaseSource interface {
	DetectLatest(ctx context.Context, repo selfupdate.Repository) (*selfupdate.Release, bool, error)
	UpdateTo(ctx context.Context, rel *selfupdate.Release, cmdPath string) error
}

type service struct {
	source     releaseSource
	repo       selfupdate.Repository
	slug       string
	backup     *backup
	restart    func()
	executable func() (string, error)
	fetchURL   func(ctx context.Context, url, asset, cmdPath string) error
	logger     *slog.Logger

	enabled        bool
	disabledReason string

	mu             sync.RWMutex
	state          State
	latest         *selfupdate.Release
	lastChecked    *time.Time
	lastErr        error
	restartPending bool
}

// NewService creates the updater. When the executable's directory is not
// writable the returned service is disabled and every operation fails
// with ErrCodeDisabled.
func NewService(opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &service{
		slug:       opts.Repository,
		restart:    opts.Restart,
		executable: selfupdate.ExecutablePath,
		fetchURL:   selfupdate.UpdateTo,
		logger:     logging.GetLogger("updater"),
		state:      StateIdle,
	}
	if s.slug == "" {
		s.slug = DefaultRepository
	}
	if s.restart == nil {
		s.restart = s.signalRestart
	}

	if reason := checkWritePermission(); reason != "" {
		s.logger.Warn("Update service disabled", "reason", reason)
		s.disabledReason = reason
		return s, nil
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	s.source = updater
	s.repo = selfupdate.ParseSlug(s.slug)

	dir := opts.BackupDir
	if dir == "" {
		if dir, err = defaultBackupDir(); err != nil {
			s.logger.Warn("Backups disabled", "error", err)
		}
	}
	if dir != "" {
		if s.backup, err = openBackup(dir, s.logger); err != nil {
			s.logger.Warn("Backups disabled", "error", err)
		}
	}

	s.enabled = true
	return s, nil
}

// checkWritePermission returns why the running binary cannot be replaced,
// or "" when it can.
func checkWritePermission() string {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Sprintf("failed to get executable path: %v", err)
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return fmt.Sprintf("failed to resolve symlinks: %v", err)
	}

	dir := filepath.Dir(exe)
	f, err := os.CreateTemp(dir, "."+AppName+".update.*")
	if err != nil {
		return fmt.Sprintf("no write permission to %s: %v", dir, err)
	}
	f.Close()
	os.Remove(f.Name())
	return ""
}

func (s *service) IsEnabled() bool { return s.enabled }

func (s *service) DisabledReason() string { return s.disabledReason }

func (s *service) CheckForUpdate(ctx context.Context) (*UpdateInfo, error) {
	if !s.enabled {
		return nil, newError(ErrCodeDisabled, s.disabledReason, nil)
	}
	if !s.transitionTo(StateChecking, StateIdle, StateAvailable, StateError, StateRolledBack) {
		return nil, newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot check for updates in state %s", s.getState()), nil)
	}

	release, found, err := s.source.DetectLatest(ctx, s.repo)
	now := time.Now()
	s.mu.Lock()
	s.lastChecked = &now
	s.mu.Unlock()

	switch {
	case err != nil:
		s.setError(err)
		return nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	case !found:
		err := errors.New("repository not found or has no releases")
		s.setError(err)
		return nil, newError(ErrCodeNotFound, err.Error(), nil)
	}

	build := version.Get()
	info := &UpdateInfo{
		CurrentVersion: build.Version,
		LatestVersion:  release.Version(),
	}

	// Development builds always take the latest release
	if !build.IsDev() && !release.GreaterThan(build.Version) {
		s.transitionTo(StateIdle)
		return info, nil
	}

	s.mu.Lock()
	s.latest = release
	s.mu.Unlock()
	s.transitionTo(StateAvailable)

	info.ReleaseNotes = release.ReleaseNotes
	info.ReleaseURL = release.URL
	info.PublishedAt = release.PublishedAt
	info.AssetSize = release.AssetByteSize
	info.UpdateAvailable = true
	return info, nil
}

func (s *service) ApplyUpdate(ctx context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}

	if state := s.getState(); state == StateIdle || state == StateRolledBack {
		info, err := s.CheckForUpdate(ctx)
		if err != nil {
			return err
		}
		if !info.UpdateAvailable {
			return newError(ErrCodeNoUpdate, "no update available", nil)
		}
	}

	s.mu.RLock()
	release := s.latest
	s.mu.RUnlock()
	if release == nil {
		return newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot apply update in state %s", s.getState()), nil)
	}

	return s.install(release.Version(), []State{StateAvailable}, func(exe string) error {
		return s.source.UpdateTo(ctx, release, exe)
	})
}

// ApplyDevBuild installs the asset for this architecture from the rolling
// "dev" release.
func (s *service) ApplyDevBuild(ctx context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}

	asset := devAssetName(runtime.GOARCH)
	url := fmt.Sprintf("https://github.com/%s/releases/download/dev/%s", s.slug, asset)
	from := []State{StateIdle, StateAvailable, StateError, StateRolledBack}
	return s.install("dev", from, func(exe string) error {
		s.logger.Info("Downloading dev build", "url", url)
		return s.fetchURL(ctx, url, asset, exe)
	})
}

// install backs up the running binary, replaces it with apply and
// restarts. A failed apply restores the backup.
func (s *service) install(target string, from []State, apply func(exe string) error) error {
	if !s.transitionTo(StateDownloading, from...) {
		return newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot install %s in state %s", target, s.getState()), nil)
	}

	exe, err := s.executable()
	if err != nil {
		s.setError(err)
		return newError(ErrCodeApplyFailed, "failed to get executable path", err)
	}

	if s.backup != nil {
		if err := s.backup.save(exe, version.Version); err != nil {
			s.setError(err)
			return newError(ErrCodeBackupFailed, "failed to create backup", err)
		}
	}

	s.transitionTo(StateApplying)
	if err := apply(exe); err != nil {
		s.setError(err)
		s.rollbackAfterFailure()
		return newError(ErrCodeApplyFailed, "failed to install "+target, err)
	}

	s.transitionTo(StateRestarting)
	s.logger.Info("Update installed, restarting", "from", version.Version, "to", target)
	s.restartSoon()
	return nil
}

func (s *service) Rollback(_ context.Context) error {
	if !s.enabled {
		return newError(ErrCodeDisabled, s.disabledReason, nil)
	}
	if _, ok := s.backup.version(); !ok {
		return newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}
	if err := s.backup.restore(); err != nil {
		return newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}

	s.transitionTo(StateRolledBack)
	s.logger.Info("Rollback completed, restarting")
	s.restartSoon()
	return nil
}

// rollbackAfterFailure keeps the error state visible when there is
// nothing to restore.
func (s *service) rollbackAfterFailure() {
	if _, ok := s.backup.version(); !ok {
		s.logger.Error("No backup available for automatic rollback")
		return
	}
	if err := s.backup.restore(); err != nil {
		s.logger.Error("Automatic rollback failed", "error", err)
		return
	}
	s.transitionTo(StateRolledBack)
	s.logger.Info("Automatic rollback completed")
}

func (s *service) GetStatus(_ context.Context) *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &Status{
		State:          s.state,
		CurrentVersion: version.Version,
		LastChecked:    s.lastChecked,
	}
	if s.latest != nil {
		status.TargetVersion = s.latest.Version()
	}
	if s.lastErr != nil {
		status.Error = s.lastErr.Error()
	}
	status.BackupVersion, status.BackupAvailable = s.backup.version()
	return status
}

// transitionTo moves to next when the current state is one of from, or
// unconditionally when from is empty. A transition clears the last error.
func (s *service) transitionTo(next State, from ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(from) > 0 && !slices.Contains(from, s.state) {
		return false
	}
	s.logger.Debug("State transition", "from", s.state, "to", next)
	s.state = next
	s.lastErr = nil
	return true
}

func (s *service) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *service) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.state = StateError
	s.mu.Unlock()
}

func (s *service) IsRestartPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartPending
}

func (s *service) Restart(_ context.Context) error {
	s.logger.Info("Restart requested")
	s.restartSoon()
	return nil
}

// restartSoon lets the API response that asked for the restart go out
// first.
func (s *service) restartSoon() {
	s.mu.Lock()
	s.restartPending = true
	s.mu.Unlock()
	time.AfterFunc(restartDelay, s.restart)
}

func (s *service) signalRestart() {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		s.logger.Error("Failed to find own process", "error", err)
		return
	}
	s.logger.Info("Sending SIGTERM to trigger restart")
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Error("Failed to send SIGTERM", "error", err)
	}
}

func devAssetName(arch string) string {
	return fmt.Sprintf("%s_linux_%s.tar.gz", AppName, arch)
}
