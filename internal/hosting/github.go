package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/vrsandeep/repokeep/internal/logger"
)

const (
	headerAccept    = "application/vnd.github+json"
	headerRaw       = "application/vnd.github.raw"
	headerUserAgent = "repokeep"
	maxAssetSize    = 100 << 20
)

// Options configures a GitHub client.
type Options struct {
	APIURL  string
	GitURL  string
	Token   string
	Timeout time.Duration
	// DisableGitRemote resolves branch heads through the REST API instead
	// of a git ls-remote, which costs quota.
	DisableGitRemote bool
	HTTPClient       *http.Client
}

// GitHub implements Client against the GitHub REST API.
type GitHub struct {
	apiURL     string
	gitURL     string
	token      string
	useRemote  bool
	httpClient *http.Client
	remaining  atomic.Int64
	log        *log.Logger
}

// NewGitHub creates a client. Zero options talk to github.com anonymously.
func NewGitHub(opts Options, l *log.Logger) *GitHub {
	if opts.APIURL == "" {
		opts.APIURL = "https://api.github.com"
	}
	if opts.GitURL == "" {
		opts.GitURL = "https://github.com"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	g := &GitHub{
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		gitURL:     strings.TrimRight(opts.GitURL, "/"),
		token:      strings.TrimSpace(opts.Token),
		useRemote:  !opts.DisableGitRemote,
		httpClient: client,
		log:        logger.Component(l, "github"),
	}
	g.remaining.Store(-1)
	return g
}

type repositoryResponse struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	Topics        []string  `json:"topics"`
	Stars         int       `json:"stargazers_count"`
	Archived      bool      `json:"archived"`
	Fork          bool      `json:"fork"`
	DefaultBranch string    `json:"default_branch"`
	PushedAt      time.Time `json:"pushed_at"`
}

type releaseResponse struct {
	TagName     string          `json:"tag_name"`
	Name        string          `json:"name"`
	Draft       bool            `json:"draft"`
	Prerelease  bool            `json:"prerelease"`
	PublishedAt time.Time       `json:"published_at"`
	Assets      []assetResponse `json:"assets"`
}

type assetResponse struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

type rateLimitResponse struct {
	Resources struct {
		Core struct {
			Remaining int `json:"remaining"`
		} `json:"core"`
	} `json:"resources"`
}

func (g *GitHub) GetRepository(ctx context.Context, fullName, etag string) (*Repository, string, error) {
	resp, err := g.get(ctx, g.apiURL+"/repos/"+fullName, headerAccept, etag)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var decoded repositoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, "", fmt.Errorf("decode repository %s: %w", fullName, err)
	}
	if decoded.FullName != "" && !strings.EqualFold(decoded.FullName, fullName) {
		return nil, "", &RenamedError{From: fullName, To: decoded.FullName}
	}
	return &Repository{
		ID:            strconv.FormatInt(decoded.ID, 10),
		FullName:      decoded.FullName,
		Description:   decoded.Description,
		Topics:        decoded.Topics,
		Stars:         decoded.Stars,
		Archived:      decoded.Archived,
		Fork:          decoded.Fork,
		DefaultBranch: decoded.DefaultBranch,
		PushedAt:      decoded.PushedAt,
	}, resp.Header.Get("ETag"), nil
}

// GetLatestCommit resolves the head of a branch. A git ls-remote is tried
// first since it does not count against the API quota.
func (g *GitHub) GetLatestCommit(ctx context.Context, fullName, ref string) (string, error) {
	if g.useRemote {
		sha, err := g.lsRemote(ctx, fullName, ref)
		if err == nil {
			return sha, nil
		}
		g.log.Debug("ls-remote failed, using API", "repository", fullName, "err", err)
	}

	resp, err := g.get(ctx, g.apiURL+"/repos/"+fullName+"/commits/"+url.PathEscape(stripTagPrefix(ref)), "application/vnd.github.sha", "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", &TransientError{Err: err}
	}
	return strings.TrimSpace(string(body)), nil
}

func (g *GitHub) lsRemote(ctx context.Context, fullName, ref string) (string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{g.gitURL + "/" + fullName + ".git"},
	})
	opts := &git.ListOptions{}
	if g.token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: g.token}
	}
	refs, err := remote.ListContext(ctx, opts)
	if err != nil {
		return "", err
	}
	want := plumbing.NewBranchReferenceName(ref)
	for _, r := range refs {
		if r.Name() == want {
			return r.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("%w: branch %s", ErrNotFound, ref)
}

func (g *GitHub) GetFileContent(ctx context.Context, fullName, path, ref string) ([]byte, error) {
	u := g.apiURL + "/repos/" + fullName + "/contents/" + strings.TrimPrefix(path, "/")
	if ref != "" {
		u += "?ref=" + url.QueryEscape(stripTagPrefix(ref))
	}
	resp, err := g.get(ctx, u, headerRaw, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return data, nil
}

func (g *GitHub) GetDirectoryTree(ctx context.Context, fullName, ref string) ([]string, error) {
	u := g.apiURL + "/repos/" + fullName + "/git/trees/" + url.PathEscape(stripTagPrefix(ref)) + "?recursive=1"
	resp, err := g.get(ctx, u, headerAccept, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode tree of %s: %w", fullName, err)
	}
	if decoded.Truncated {
		g.log.Warn("Repository tree truncated", "repository", fullName)
	}
	paths := make([]string, 0, len(decoded.Tree))
	for _, entry := range decoded.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}

func (g *GitHub) GetReleases(ctx context.Context, fullName string) ([]Release, error) {
	resp, err := g.get(ctx, g.apiURL+"/repos/"+fullName+"/releases?per_page=30", headerAccept, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded []releaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode releases of %s: %w", fullName, err)
	}
	releases := make([]Release, 0, len(decoded))
	for _, r := range decoded {
		if r.Draft {
			continue
		}
		rel := Release{Tag: r.TagName, Name: r.Name, Prerelease: r.Prerelease, PublishedAt: r.PublishedAt}
		for _, a := range r.Assets {
			rel.Assets = append(rel.Assets, Asset{Name: a.Name, URL: a.BrowserDownloadURL, Size: a.Size})
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

func (g *GitHub) DownloadAsset(ctx context.Context, assetURL string) ([]byte, error) {
	resp, err := g.get(ctx, assetURL, "application/octet-stream", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", assetURL, maxAssetSize)
	}
	return data, nil
}

// RemainingQuota asks the rate limit endpoint, which is itself free.
func (g *GitHub) RemainingQuota(ctx context.Context) (int, error) {
	resp, err := g.get(ctx, g.apiURL+"/rate_limit", headerAccept, "")
	if err != nil {
		if cached := g.remaining.Load(); cached >= 0 {
			return int(cached), nil
		}
		return 0, err
	}
	defer resp.Body.Close()

	var decoded rateLimitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode rate limit: %w", err)
	}
	g.remaining.Store(int64(decoded.Resources.Core.Remaining))
	return decoded.Resources.Core.Remaining, nil
}

// get performs a GET and classifies the response. The caller closes the
// body of a successful response.
func (g *GitHub) get(ctx context.Context, u, accept, etag string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", headerUserAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			g.remaining.Store(int64(n))
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	cause := fmt.Errorf("GET %s: status=%d body=%s", u, resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, ErrNotModified
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0",
		resp.StatusCode >= 500:
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: cause}
	default:
		return nil, cause
	}
}

func stripTagPrefix(ref string) string {
	return strings.TrimPrefix(ref, "tags/")
}

var _ Client = (*GitHub)(nil)
