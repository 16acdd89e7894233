// Package hosting talks to the remote code host that repositories live on.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotModified is returned when a conditional request matched the
	// caching token the caller already holds.
	ErrNotModified = errors.New("not modified")
	// ErrNotFound is returned for missing repositories, files and refs.
	ErrNotFound = errors.New("not found")
)

// RenamedError reports that a repository moved to a new full name.
type RenamedError struct {
	From string
	To   string
}

func (e *RenamedError) Error() string {
	return fmt.Sprintf("repository %s was renamed to %s", e.From, e.To)
}

// TransientError wraps failures worth retrying: transport errors, server
// errors and rate limiting.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Repository holds the remote attributes of a repository.
type Repository struct {
	ID            string
	FullName      string
	Description   string
	Topics        []string
	Stars         int
	Archived      bool
	Fork          bool
	DefaultBranch string
	PushedAt      time.Time
}

// Release is a published release and its downloadable assets.
type Release struct {
	Tag         string
	Name        string
	Prerelease  bool
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is one downloadable release file.
type Asset struct {
	Name string
	URL  string
	Size int64
}

// Client is the code host contract the lifecycle depends on.
type Client interface {
	// GetRepository fetches attributes. When etag matches the current
	// state it returns ErrNotModified; the second result is the new etag.
	GetRepository(ctx context.Context, fullName, etag string) (*Repository, string, error)
	GetLatestCommit(ctx context.Context, fullName, ref string) (string, error)
	GetFileContent(ctx context.Context, fullName, path, ref string) ([]byte, error)
	// GetDirectoryTree lists every file path in the tree at ref.
	GetDirectoryTree(ctx context.Context, fullName, ref string) ([]string, error)
	// GetReleases lists published releases, newest first.
	GetReleases(ctx context.Context, fullName string) ([]Release, error)
	DownloadAsset(ctx context.Context, url string) ([]byte, error)
	RemainingQuota(ctx context.Context) (int, error)
}
