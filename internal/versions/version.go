// Package versions decides whether an installed repository is behind its
// remote and which ref an install should fetch.
package versions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/vrsandeep/repokeep/internal/models"
)

// looseVersion matches host style versions such as "2023.12.0b1".
var looseVersion = regexp.MustCompile(`^(\d+(?:\.\d+){0,2})[.-]?([A-Za-z][0-9A-Za-z.]*)?$`)

// Parse reads a version string, tolerating a leading "v", missing minor or
// patch components and an undelimited pre-release suffix.
func Parse(v string) (*semver.Version, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if sv, err := semver.NewVersion(v); err == nil {
		return sv, nil
	}
	if m := looseVersion.FindStringSubmatch(v); m != nil {
		normalized := m[1]
		if m[2] != "" {
			normalized += "-" + m[2]
		}
		if sv, err := semver.NewVersion(normalized); err == nil {
			return sv, nil
		}
	}
	return nil, fmt.Errorf("invalid version %q", v)
}

// Compare compares two version strings semantically.
// Returns -1, 0 or 1 like strings.Compare, or an error when either side
// is not a version.
func Compare(v1, v2 string) (int, error) {
	version1, err := Parse(v1)
	if err != nil {
		return 0, err
	}
	version2, err := Parse(v2)
	if err != nil {
		return 0, err
	}
	return version1.Compare(version2), nil
}

// IsNewer reports whether available is strictly newer than installed.
func IsNewer(installed, available string) (bool, error) {
	c, err := Compare(installed, available)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// AtLeast reports whether running satisfies the minimum required version.
// An empty requirement is always satisfied; an unparsable one never blocks.
func AtLeast(running, required string) bool {
	if required == "" || running == "" {
		return true
	}
	c, err := Compare(running, required)
	if err != nil {
		return true
	}
	return c >= 0
}

// IsUpgradeAvailable reports whether available should replace installed.
// Release based repositories compare by precedence and fall back to plain
// inequality when either side does not parse; commit based ones always use
// inequality.
func IsUpgradeAvailable(installed, available string, usesReleases bool) bool {
	if available == "" || installed == available {
		return false
	}
	if usesReleases {
		newer, err := IsNewer(installed, available)
		if err == nil {
			return newer
		}
	}
	return installed != available
}

// UpgradeAvailable applies IsUpgradeAvailable to a tracked repository.
// A repository pinned to its default branch is compared by commit.
func UpgradeAvailable(r *models.Repository) bool {
	if r.SelectedRef != "" && r.SelectedRef == r.DefaultBranch {
		return r.AvailableCommit != "" && r.InstalledCommit != r.AvailableCommit
	}
	if r.Releases {
		return IsUpgradeAvailable(installedRef(r), r.AvailableVersion, true)
	}
	return IsUpgradeAvailable(r.InstalledCommit, r.AvailableCommit, false)
}

func installedRef(r *models.Repository) string {
	if r.InstalledVersion != "" {
		return r.InstalledVersion
	}
	return r.InstalledCommit
}

// VersionToDownload is the version or branch an install fetches when the
// caller did not ask for a specific ref.
func VersionToDownload(r *models.Repository) string {
	if r.SelectedRef != "" {
		return r.SelectedRef
	}
	if r.Releases && r.AvailableVersion != "" {
		return r.AvailableVersion
	}
	return r.DefaultBranch
}

// RefToFetch turns VersionToDownload into a git ref, prefixing release tags
// with "tags/".
func RefToFetch(r *models.Repository) string {
	v := VersionToDownload(r)
	if v == "" || v == r.DefaultBranch {
		return v
	}
	for _, tag := range r.PublishedTags {
		if tag == v {
			return "tags/" + v
		}
	}
	if r.Releases && v == r.AvailableVersion {
		return "tags/" + v
	}
	return v
}
