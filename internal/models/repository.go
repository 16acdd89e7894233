package models

import (
	"strings"
	"time"
)

// Category names the kind of content a repository ships.
type Category string

const (
	CategoryIntegration  Category = "integration"
	CategoryPlugin       Category = "plugin"
	CategoryTheme        Category = "theme"
	CategoryPythonScript Category = "python_script"
	CategoryAppDaemon    Category = "appdaemon"
	CategoryNetDaemon    Category = "netdaemon"
)

// Categories lists every supported category in display order.
var Categories = []Category{
	CategoryIntegration,
	CategoryPlugin,
	CategoryTheme,
	CategoryPythonScript,
	CategoryAppDaemon,
	CategoryNetDaemon,
}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Repository is the tracked state of one remote repository.
// Empty strings stand in for absent optional values.
type Repository struct {
	ID       string   `json:"id"`
	FullName string   `json:"full_name"`
	Category Category `json:"category"`

	Description   string    `json:"description,omitempty"`
	Topics        []string  `json:"topics,omitempty"`
	Stars         int       `json:"stars,omitempty"`
	Archived      bool      `json:"archived,omitempty"`
	DefaultBranch string    `json:"default_branch,omitempty"`
	PushedAt      time.Time `json:"pushed_at,omitzero"`
	ETag          string    `json:"etag_repository,omitempty"`
	LastFetched   time.Time `json:"last_fetched,omitzero"`

	Installed        bool   `json:"installed,omitempty"`
	InstalledVersion string `json:"installed_version,omitempty"`
	InstalledCommit  string `json:"installed_commit,omitempty"`
	AvailableVersion string `json:"last_version,omitempty"`
	AvailableCommit  string `json:"last_commit,omitempty"`

	Releases      bool     `json:"releases,omitempty"`
	PublishedTags []string `json:"published_tags,omitempty"`
	SelectedRef   string   `json:"selected_tag,omitempty"`
	ShowBeta      bool     `json:"show_beta,omitempty"`

	New            bool `json:"new,omitempty"`
	PendingRestart bool `json:"-"`

	// Content layout resolved from the remote tree.
	LocalPath  string `json:"local_path,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`
	FileName   string `json:"file_name,omitempty"`

	// Integration details read from the component manifest.
	Domain          string `json:"domain,omitempty"`
	IntegrationName string `json:"integration_name,omitempty"`
	ConfigFlow      bool   `json:"config_flow,omitempty"`

	Manifest Manifest `json:"manifest,omitzero"`
}

// Name is the repository part of FullName.
func (r *Repository) Name() string {
	if i := strings.LastIndex(r.FullName, "/"); i >= 0 {
		return r.FullName[i+1:]
	}
	return r.FullName
}

// DisplayName picks the friendliest available name.
func (r *Repository) DisplayName() string {
	if r.Manifest.Name != "" {
		return r.Manifest.Name
	}
	if r.IntegrationName != "" {
		return r.IntegrationName
	}
	name := strings.NewReplacer("-", " ", "_", " ").Replace(r.Name())
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// DisplayInstalledVersion is the installed version, or a short commit when
// the repository was installed from a branch.
func (r *Repository) DisplayInstalledVersion() string {
	if r.InstalledVersion != "" {
		return r.InstalledVersion
	}
	return shortCommit(r.InstalledCommit)
}

// DisplayAvailableVersion is the newest release, or a short commit when the
// repository does not publish releases.
func (r *Repository) DisplayAvailableVersion() string {
	if r.Releases && r.AvailableVersion != "" {
		return r.AvailableVersion
	}
	return shortCommit(r.AvailableCommit)
}

// IgnoredByCountry reports whether the manifest restricts the repository to
// other countries than the configured one. Installed repositories are never hidden.
func (r *Repository) IgnoredByCountry(country string) bool {
	if r.Installed || country == "" || strings.EqualFold(country, "all") || len(r.Manifest.Country) == 0 {
		return false
	}
	for _, c := range r.Manifest.Country {
		if strings.EqualFold(c, country) {
			return false
		}
	}
	return true
}

func shortCommit(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
