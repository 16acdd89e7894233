package repository

import (
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/versions"
)

// Display statuses in the order they are derived.
const (
	StatusNew            = "new"
	StatusPendingRestart = "pending-restart"
	StatusPendingUpgrade = "pending-upgrade"
	StatusInstalled      = "installed"
	StatusDefault        = "default"
)

// Primary actions shown to operators.
const (
	ActionInstall   = "INSTALL"
	ActionReinstall = "REINSTALL"
	ActionUpgrade   = "UPGRADE"
)

// Status is a read-only view of a repository with its derived fields.
type Status struct {
	*models.Repository
	State            string   `json:"state"`
	CanDownload      bool     `json:"can_download"`
	PendingUpdate    bool     `json:"pending_update"`
	PendingRestart   bool     `json:"pending_restart"`
	DisplayName      string   `json:"display_name"`
	DisplayStatus    string   `json:"display_status"`
	StatusText       string   `json:"status_description"`
	InstalledDisplay string   `json:"display_installed_version,omitempty"`
	AvailableDisplay string   `json:"display_available_version,omitempty"`
	MainAction       string   `json:"main_action"`
	Errors           []string `json:"errors,omitempty"`
}

func (l *Lifecycle) canDownload() bool {
	return CanDownload(l.repo, l.env.HostVersion, l.env.ManagerVersion)
}

// CanDownload reports whether the running host and manager satisfy the
// minimum versions the manifest declares.
func CanDownload(r *models.Repository, hostVersion, managerVersion string) bool {
	if r.Manifest.Homeassistant != "" && !versions.AtLeast(hostVersion, r.Manifest.Homeassistant) {
		return false
	}
	if r.Manifest.Hacs != "" && !versions.AtLeast(managerVersion, r.Manifest.Hacs) {
		return false
	}
	return true
}

// PendingUpdate is true only for an installed, downloadable repository
// with an upgrade available.
func PendingUpdate(r *models.Repository, canDownload bool) bool {
	if !r.Installed || !canDownload {
		return false
	}
	return versions.UpgradeAvailable(r)
}

// DisplayStatus derives the single status shown for a repository.
func DisplayStatus(r *models.Repository, canDownload bool) string {
	switch {
	case r.New && !r.Installed:
		return StatusNew
	case r.PendingRestart:
		return StatusPendingRestart
	case PendingUpdate(r, canDownload):
		return StatusPendingUpgrade
	case r.Installed:
		return StatusInstalled
	}
	return StatusDefault
}

// DisplayStatusDescription is the operator facing text for a status.
func DisplayStatusDescription(status string) string {
	switch status {
	case StatusNew:
		return "This is a newly added repository."
	case StatusPendingRestart:
		return "Restart pending."
	case StatusPendingUpgrade:
		return "Upgrade pending."
	case StatusInstalled:
		return "No action required."
	}
	return "Not installed."
}

// MainAction picks the primary operator action from the display status.
func MainAction(r *models.Repository, canDownload bool) string {
	switch DisplayStatus(r, canDownload) {
	case StatusPendingUpgrade:
		return ActionUpgrade
	case StatusInstalled, StatusPendingRestart:
		return ActionReinstall
	}
	return ActionInstall
}

// Status returns the derived view of the repository.
func (l *Lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r := copyRecord(l.repo)
	can := CanDownload(r, l.env.HostVersion, l.env.ManagerVersion)
	status := DisplayStatus(r, can)
	return Status{
		Repository:       r,
		State:            l.state.String(),
		CanDownload:      can,
		PendingUpdate:    PendingUpdate(r, can),
		PendingRestart:   r.PendingRestart,
		DisplayName:      r.DisplayName(),
		DisplayStatus:    status,
		StatusText:       DisplayStatusDescription(status),
		InstalledDisplay: r.DisplayInstalledVersion(),
		AvailableDisplay: r.DisplayAvailableVersion(),
		MainAction:       MainAction(r, can),
		Errors:           append([]string(nil), l.errors...),
	}
}
