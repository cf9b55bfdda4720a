package models

import "time"

// UpdateCheckData describes the newest release compared to the running build.
type UpdateCheckData struct {
	CurrentVersion  string    `json:"current_version" example:"1.0.0" doc:"Currently installed version"`
	LatestVersion   string    `json:"latest_version" example:"1.1.0" doc:"Latest available version"`
	ReleaseNotes    string    `json:"release_notes" doc:"Markdown release notes"`
	ReleaseURL      string    `json:"release_url" doc:"URL to the release page"`
	PublishedAt     time.Time `json:"published_at" doc:"When the release was published"`
	AssetSize       int       `json:"asset_size" example:"5242880" doc:"Size of the update in bytes"`
	UpdateAvailable bool      `json:"update_available" example:"true" doc:"Whether an update is available"`
}

type UpdateCheckResponse struct {
	Body UpdateCheckData
}

// UpdateStatusData is the updater state machine as seen by the UI.
type UpdateStatusData struct {
	State           string     `json:"state" example:"idle" enum:"idle,checking,available,downloading,applying,restarting,error,rolled_back" doc:"Current update state"`
	CurrentVersion  string     `json:"current_version" example:"1.0.0" doc:"Running version"`
	TargetVersion   string     `json:"target_version,omitempty" example:"1.1.0" doc:"Version being installed"`
	Progress        int        `json:"progress,omitempty" example:"45" minimum:"0" maximum:"100" doc:"Download progress percentage"`
	Error           string     `json:"error,omitempty" doc:"Last error, set in the error state"`
	LastChecked     *time.Time `json:"last_checked,omitempty" doc:"When releases were last checked"`
	BackupAvailable bool       `json:"backup_available" example:"true" doc:"Whether a rollback is possible"`
	BackupVersion   string     `json:"backup_version,omitempty" example:"1.0.0" doc:"Version held in the backup"`
}

type UpdateStatusResponse struct {
	Body UpdateStatusData
}

// UpdateActionData acknowledges an operation that ends in a restart.
type UpdateActionData struct {
	Message    string `json:"message" example:"Update applied, restarting..." doc:"Status message"`
	Restarting bool   `json:"restarting" example:"true" doc:"Whether the process is about to exit"`
}

type UpdateActionResponse struct {
	Body UpdateActionData
}

// Restarting builds the response for an accepted restart.
func Restarting(message string) *UpdateActionResponse {
	return &UpdateActionResponse{Body: UpdateActionData{Message: message, Restarting: true}}
}
