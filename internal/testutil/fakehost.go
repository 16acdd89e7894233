package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/models"
)

// FakeRepo is the remote state of one repository on a FakeHost.
type FakeRepo struct {
	Attributes hosting.Repository
	ETag       string
	// Commits maps branch names to head commits.
	Commits map[string]string
	// Files maps a ref (branch or tag) to its files.
	Files    map[string]map[string]string
	Releases []hosting.Release
}

// FakeHost is an in-memory hosting.Client.
type FakeHost struct {
	mu       sync.Mutex
	repos    map[string]*FakeRepo
	renamed  map[string]string
	assets   map[string][]byte
	failures map[string][]error
	calls    map[string]int
	quota    int
}

func NewFakeHost() *FakeHost {
	return &FakeHost{
		repos:    make(map[string]*FakeRepo),
		renamed:  make(map[string]string),
		assets:   make(map[string][]byte),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		quota:    5000,
	}
}

// AddRepository publishes a repository. Missing attribute fields are filled in.
func (f *FakeHost) AddRepository(fullName string, repo *FakeRepo) *FakeRepo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if repo.Attributes.FullName == "" {
		repo.Attributes.FullName = fullName
	}
	if repo.Attributes.ID == "" {
		repo.Attributes.ID = fmt.Sprintf("%d", len(f.repos)+1000)
	}
	if repo.Attributes.DefaultBranch == "" {
		repo.Attributes.DefaultBranch = "main"
	}
	if repo.ETag == "" {
		repo.ETag = `"etag-1"`
	}
	if repo.Commits == nil {
		repo.Commits = map[string]string{}
	}
	if repo.Files == nil {
		repo.Files = map[string]map[string]string{}
	}
	f.repos[strings.ToLower(fullName)] = repo
	return repo
}

// Update mutates a repository under the host lock.
func (f *FakeHost) Update(fullName string, fn func(*FakeRepo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.repos[strings.ToLower(fullName)])
}

// Rename makes requests for from report a rename to to.
func (f *FakeHost) Rename(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed[strings.ToLower(from)] = to
}

// AddAsset serves data for a release asset URL.
func (f *FakeHost) AddAsset(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[url] = data
}

// FailNext queues errors returned by the next calls matching key. Keys are
// "<method>" or "<method>:<argument>", e.g. "GetFileContent:widget.js".
func (f *FakeHost) FailNext(key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], errs...)
}

// SetQuota sets the value RemainingQuota reports.
func (f *FakeHost) SetQuota(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quota = n
}

// Calls returns how often a method was called.
func (f *FakeHost) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeHost) enter(method, arg string) error {
	f.calls[method]++
	for _, key := range []string{method + ":" + arg, method} {
		if errs := f.failures[key]; len(errs) > 0 {
			f.failures[key] = errs[1:]
			return errs[0]
		}
	}
	return nil
}

func (f *FakeHost) lookup(fullName string) (*FakeRepo, error) {
	repo, ok := f.repos[strings.ToLower(fullName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", hosting.ErrNotFound, fullName)
	}
	return repo, nil
}

func (f *FakeHost) GetRepository(_ context.Context, fullName, etag string) (*hosting.Repository, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetRepository", fullName); err != nil {
		return nil, "", err
	}
	if to, ok := f.renamed[strings.ToLower(fullName)]; ok {
		return nil, "", &hosting.RenamedError{From: fullName, To: to}
	}
	repo, err := f.lookup(fullName)
	if err != nil {
		return nil, "", err
	}
	if etag != "" && etag == repo.ETag {
		return nil, "", hosting.ErrNotModified
	}
	attrs := repo.Attributes
	attrs.Topics = append([]string(nil), attrs.Topics...)
	return &attrs, repo.ETag, nil
}

func (f *FakeHost) GetLatestCommit(_ context.Context, fullName, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetLatestCommit", fullName); err != nil {
		return "", err
	}
	repo, err := f.lookup(fullName)
	if err != nil {
		return "", err
	}
	sha, ok := repo.Commits[ref]
	if !ok {
		return "", fmt.Errorf("%w: branch %s", hosting.ErrNotFound, ref)
	}
	return sha, nil
}

func (f *FakeHost) GetFileContent(_ context.Context, fullName, path, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetFileContent", path); err != nil {
		return nil, err
	}
	repo, err := f.lookup(fullName)
	if err != nil {
		return nil, err
	}
	content, ok := repo.Files[strings.TrimPrefix(ref, "tags/")][path]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", hosting.ErrNotFound, path, ref)
	}
	return []byte(content), nil
}

func (f *FakeHost) GetDirectoryTree(_ context.Context, fullName, ref string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetDirectoryTree", fullName); err != nil {
		return nil, err
	}
	repo, err := f.lookup(fullName)
	if err != nil {
		return nil, err
	}
	files, ok := repo.Files[strings.TrimPrefix(ref, "tags/")]
	if !ok {
		return nil, fmt.Errorf("%w: ref %s", hosting.ErrNotFound, ref)
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *FakeHost) GetReleases(_ context.Context, fullName string) ([]hosting.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetReleases", fullName); err != nil {
		return nil, err
	}
	repo, err := f.lookup(fullName)
	if err != nil {
		return nil, err
	}
	return append([]hosting.Release(nil), repo.Releases...), nil
}

func (f *FakeHost) DownloadAsset(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DownloadAsset", url); err != nil {
		return nil, err
	}
	data, ok := f.assets[url]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", hosting.ErrNotFound, url)
	}
	return data, nil
}

func (f *FakeHost) RemainingQuota(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemainingQuota", ""); err != nil {
		return 0, err
	}
	return f.quota, nil
}

var _ hosting.Client = (*FakeHost)(nil)

// EventRecorder is an models.EventSink that keeps every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *EventRecorder) Publish(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}
