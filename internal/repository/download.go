package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mholt/archives"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/util"
)

// download writes the content at ref into the local path. It returns the
// written paths relative to the config dir and one message per failure.
func (l *Lifecycle) download(ctx context.Context, version, ref string, tree []string) ([]string, []string) {
	r := l.repo
	if r.Manifest.ZipRelease && r.Manifest.Filename != "" && version != r.DefaultBranch {
		if asset, ok := l.releaseAsset(version, r.Manifest.Filename); ok {
			return l.downloadZip(ctx, asset)
		}
	}
	if r.RemotePath == layout.ReleaseRemote {
		rel, ok := l.release(version)
		if !ok || !hasAsset(rel, r.FileName) {
			return nil, []string{fmt.Sprintf("release asset %s not found", r.FileName)}
		}
		return l.downloadAssets(ctx, rel.Assets)
	}
	return l.downloadTree(ctx, ref, l.contentFiles(tree))
}

// fetchJob is one file of a download.
type fetchJob struct {
	name  string
	dest  string
	fetch func(ctx context.Context) ([]byte, error)
}

// contentFiles selects the tree paths that make up the installable content.
func (l *Lifecycle) contentFiles(tree []string) []string {
	r := l.repo
	spec, _ := layout.Lookup(r.Category)
	if spec.SingleFile || (r.Category == models.CategoryPlugin && r.RemotePath == "") {
		return []string{path.Join(r.RemotePath, r.FileName)}
	}
	var files []string
	for _, p := range tree {
		if r.RemotePath != "" && !strings.HasPrefix(p, r.RemotePath+"/") {
			continue
		}
		if hidden(strings.TrimPrefix(p, r.RemotePath+"/")) {
			continue
		}
		files = append(files, p)
	}
	return files
}

func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (l *Lifecycle) release(version string) (hosting.Release, bool) {
	for _, rel := range l.releases {
		if rel.Tag == version {
			return rel, true
		}
	}
	if len(l.releases) > 0 && version == l.repo.DefaultBranch {
		return l.releases[0], true
	}
	return hosting.Release{}, false
}

func hasAsset(rel hosting.Release, name string) bool {
	_, ok := findAsset(rel, name)
	return ok
}

func findAsset(rel hosting.Release, name string) (hosting.Asset, bool) {
	for _, a := range rel.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return hosting.Asset{}, false
}

// releaseAsset looks name up in the release tagged version only.
func (l *Lifecycle) releaseAsset(version, name string) (hosting.Asset, bool) {
	for _, rel := range l.releases {
		if rel.Tag == version {
			return findAsset(rel, name)
		}
	}
	return hosting.Asset{}, false
}

// downloadTree fetches tree files at ref.
func (l *Lifecycle) downloadTree(ctx context.Context, ref string, files []string) ([]string, []string) {
	if len(files) == 0 {
		return nil, []string{"no files to download"}
	}
	var jobs []fetchJob
	var errs []string
	for _, p := range files {
		dest, err := localFile(l.repo.LocalPath, l.repo.RemotePath, p)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		jobs = append(jobs, fetchJob{name: p, dest: dest, fetch: func(ctx context.Context) ([]byte, error) {
			return l.env.Host.GetFileContent(ctx, l.repo.FullName, p, ref)
		}})
	}
	written, fetchErrs := l.runFetches(ctx, jobs)
	return written, append(errs, fetchErrs...)
}

// downloadAssets fetches every asset of a release into the local path.
func (l *Lifecycle) downloadAssets(ctx context.Context, assets []hosting.Asset) ([]string, []string) {
	var jobs []fetchJob
	var errs []string
	for _, a := range assets {
		dest, err := util.SafeJoin(l.repo.LocalPath, a.Name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		jobs = append(jobs, fetchJob{name: a.Name, dest: dest, fetch: func(ctx context.Context) ([]byte, error) {
			return l.env.Host.DownloadAsset(ctx, a.URL)
		}})
	}
	written, fetchErrs := l.runFetches(ctx, jobs)
	return written, append(errs, fetchErrs...)
}

// runFetches runs jobs with at most env.DownloadFanout requests in flight.
// Failures are collected, never returned early.
func (l *Lifecycle) runFetches(ctx context.Context, jobs []fetchJob) ([]string, []string) {
	var (
		mu      sync.Mutex
		written []string
		errs    []string
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, l.env.fanout())
	for _, job := range jobs {
		wg.Add(1)
		go func(job fetchJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, err := job.fetch(ctx)
			if err == nil {
				err = writeFile(job.dest, data)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				l.log.Warn("File download failed", "file", job.name, "err", err)
				errs = append(errs, fmt.Sprintf("%s: %v", job.name, err))
				return
			}
			written = append(written, l.relative(job.dest))
		}(job)
	}
	wg.Wait()
	sort.Strings(written)
	return written, errs
}

// downloadZip unpacks a zipped release asset into the local path. Assets
// that are not archives are written as they are.
func (l *Lifecycle) downloadZip(ctx context.Context, asset hosting.Asset) ([]string, []string) {
	data, err := l.env.Host.DownloadAsset(ctx, asset.URL)
	if err != nil {
		return nil, []string{fmt.Sprintf("%s: %v", asset.Name, err)}
	}
	format, _, err := archives.Identify(ctx, asset.Name, bytes.NewReader(data))
	if errors.Is(err, archives.NoMatch) {
		l.log.Warn("Release asset is not an archive, storing as is", "asset", asset.Name)
		return l.writeAsset(asset.Name, data)
	}
	if err != nil {
		return nil, []string{fmt.Sprintf("%s: %v", asset.Name, err)}
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, []string{fmt.Sprintf("%s: unsupported archive format", asset.Name)}
	}

	var written []string
	err = extractor.Extract(ctx, bytes.NewReader(data), func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || f.LinkTarget != "" {
			return nil
		}
		dest, err := util.SafeJoin(l.repo.LocalPath, f.NameInArchive)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		if err := writeFile(dest, content); err != nil {
			return err
		}
		written = append(written, l.relative(dest))
		return nil
	})
	if err != nil {
		return nil, []string{fmt.Sprintf("%s: %v", asset.Name, err)}
	}
	sort.Strings(written)
	return written, nil
}

func (l *Lifecycle) writeAsset(name string, data []byte) ([]string, []string) {
	dest, err := util.SafeJoin(l.repo.LocalPath, name)
	if err == nil {
		err = writeFile(dest, data)
	}
	if err != nil {
		return nil, []string{fmt.Sprintf("%s: %v", name, err)}
	}
	return []string{l.relative(dest)}, nil
}

func (l *Lifecycle) relative(p string) string {
	rel, err := filepath.Rel(l.env.ConfigDir, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}
