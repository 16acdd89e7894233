// Package layout holds the per-category content table: where content lives
// in a remote tree, where it is installed locally and what follows a change.
package layout

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/util"
)

// ErrNoContent is returned when a tree does not contain the files a
// category expects.
var ErrNoContent = errors.New("repository structure is not compliant")

// ReleaseRemote marks content that is fetched from release assets instead
// of the repository tree.
const ReleaseRemote = "release"

// AfterChange is what the host needs after content is installed or removed.
type AfterChange int

const (
	AfterNone AfterChange = iota
	// AfterRestart requires a host restart, or a reload when the
	// integration supports configuration flows.
	AfterRestart
	AfterReloadThemes
)

// Spec is one row of the category table.
type Spec struct {
	Category    models.Category
	RemoteRoot  string
	LocalRoot   string
	Extension   string
	SingleFile  bool
	Releases    bool
	AfterChange AfterChange
}

var specs = map[models.Category]Spec{
	models.CategoryIntegration: {
		Category:    models.CategoryIntegration,
		RemoteRoot:  "custom_components",
		LocalRoot:   "custom_components",
		Releases:    true,
		AfterChange: AfterRestart,
	},
	models.CategoryPlugin: {
		Category:   models.CategoryPlugin,
		LocalRoot:  filepath.Join("www", "community"),
		Extension:  ".js",
		Releases:   true,
	},
	models.CategoryTheme: {
		Category:    models.CategoryTheme,
		RemoteRoot:  "themes",
		LocalRoot:   "themes",
		Extension:   ".yaml",
		Releases:    true,
		AfterChange: AfterReloadThemes,
	},
	models.CategoryPythonScript: {
		Category:   models.CategoryPythonScript,
		RemoteRoot: "python_scripts",
		LocalRoot:  "python_scripts",
		Extension:  ".py",
		SingleFile: true,
		Releases:   true,
	},
	models.CategoryAppDaemon: {
		Category:   models.CategoryAppDaemon,
		RemoteRoot: "apps",
		LocalRoot:  filepath.Join("appdaemon", "apps"),
		Releases:   true,
	},
	models.CategoryNetDaemon: {
		Category:   models.CategoryNetDaemon,
		RemoteRoot: "apps",
		LocalRoot:  filepath.Join("netdaemon", "apps"),
		Releases:   true,
	},
}

// Lookup returns the table row for c.
func Lookup(c models.Category) (Spec, error) {
	s, ok := specs[c]
	if !ok {
		return Spec{}, fmt.Errorf("unknown category %q", c)
	}
	return s, nil
}

// Roots returns the absolute local roots managed under configDir.
// Uninstall never deletes outside of, or exactly at, one of these.
func Roots(configDir string) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, s := range specs {
		root := filepath.Join(configDir, s.LocalRoot)
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)
	return roots
}

// Content describes where a repository's installable files are.
type Content struct {
	// RemotePath is the tree directory holding the content, "" for the
	// repository root or ReleaseRemote for release assets.
	RemotePath string
	// FileName is the primary file for single file categories and plugins.
	FileName string
	// Dir is the content directory name for integrations and apps.
	Dir string
}

// Resolve locates the content of a repository in its tree. assets are the
// asset names of the newest release, used by plugins.
func Resolve(c models.Category, repoName string, tree, assets []string, m models.Manifest) (Content, error) {
	spec, err := Lookup(c)
	if err != nil {
		return Content{}, err
	}
	switch c {
	case models.CategoryIntegration:
		return resolveIntegration(tree, m)
	case models.CategoryPlugin:
		return resolvePlugin(repoName, tree, assets, m)
	case models.CategoryTheme, models.CategoryPythonScript:
		return resolveFile(spec, tree, m)
	default:
		return resolveApp(spec, tree, m)
	}
}

func resolveIntegration(tree []string, m models.Manifest) (Content, error) {
	if m.ContentInRoot {
		if contains(tree, "manifest.json") {
			return Content{}, nil
		}
		return Content{}, fmt.Errorf("%w: no manifest.json in repository root", ErrNoContent)
	}
	for _, dir := range childDirs(tree, "custom_components") {
		remote := "custom_components/" + dir
		if contains(tree, remote+"/manifest.json") {
			return Content{RemotePath: remote, Dir: dir}, nil
		}
	}
	return Content{}, fmt.Errorf("%w: no integration under custom_components", ErrNoContent)
}

// PluginFileNames lists the file names a plugin is expected to ship, in
// order of preference.
func PluginFileNames(repoName string, m models.Manifest) []string {
	if m.Filename != "" {
		return []string{m.Filename}
	}
	trimmed := strings.TrimPrefix(repoName, "lovelace-")
	names := []string{trimmed + ".js"}
	if trimmed != repoName {
		names = append(names, repoName+".js")
	}
	return append(names, repoName+".umd.js", repoName+"-bundle.js")
}

func resolvePlugin(repoName string, tree, assets []string, m models.Manifest) (Content, error) {
	candidates := PluginFileNames(repoName, m)
	locations := []string{"", ReleaseRemote, "dist"}
	if m.ContentInRoot {
		locations = []string{""}
	}
	for _, loc := range locations {
		for _, name := range candidates {
			switch loc {
			case ReleaseRemote:
				if contains(assets, name) {
					return Content{RemotePath: ReleaseRemote, FileName: name}, nil
				}
			default:
				if contains(tree, path.Join(loc, name)) {
					return Content{RemotePath: loc, FileName: path.Base(name)}, nil
				}
			}
		}
	}
	return Content{}, fmt.Errorf("%w: none of %s found", ErrNoContent, strings.Join(candidates, ", "))
}

func resolveFile(spec Spec, tree []string, m models.Manifest) (Content, error) {
	dir := spec.RemoteRoot
	if m.ContentInRoot {
		dir = ""
	}
	if m.Filename != "" {
		if contains(tree, path.Join(dir, m.Filename)) {
			return Content{RemotePath: dir, FileName: m.Filename}, nil
		}
		return Content{}, fmt.Errorf("%w: %s not found", ErrNoContent, path.Join(dir, m.Filename))
	}
	for _, p := range tree {
		if path.Dir(p) == orDot(dir) && strings.HasSuffix(p, spec.Extension) {
			return Content{RemotePath: dir, FileName: path.Base(p)}, nil
		}
	}
	return Content{}, fmt.Errorf("%w: no %s file in %s", ErrNoContent, spec.Extension, orDot(dir))
}

func resolveApp(spec Spec, tree []string, m models.Manifest) (Content, error) {
	dirs := childDirs(tree, spec.RemoteRoot)
	if len(dirs) == 0 {
		return Content{}, fmt.Errorf("%w: no application under %s", ErrNoContent, spec.RemoteRoot)
	}
	return Content{RemotePath: spec.RemoteRoot + "/" + dirs[0], Dir: dirs[0]}, nil
}

// LocalPath is the directory the repository installs into, or "" when the
// record does not carry enough detail yet (an integration without domain).
func LocalPath(configDir string, r *models.Repository) string {
	spec, err := Lookup(r.Category)
	if err != nil {
		return ""
	}
	root := filepath.Join(configDir, spec.LocalRoot)
	switch r.Category {
	case models.CategoryIntegration:
		if r.Domain == "" {
			return ""
		}
		return filepath.Join(root, r.Domain)
	case models.CategoryPythonScript:
		return root
	case models.CategoryTheme:
		if r.FileName == "" {
			return ""
		}
		return filepath.Join(root, strings.TrimSuffix(r.FileName, spec.Extension))
	case models.CategoryPlugin:
		return filepath.Join(root, util.SanitizeName(r.Name()))
	default:
		if r.RemotePath == "" {
			return filepath.Join(root, util.SanitizeName(strings.ToLower(r.Name())))
		}
		return filepath.Join(root, util.SanitizeName(path.Base(r.RemotePath)))
	}
}

// Target is the path uninstall removes: the single file for single file
// categories, otherwise the local directory.
func Target(r *models.Repository) string {
	spec, err := Lookup(r.Category)
	if err != nil || r.LocalPath == "" {
		return ""
	}
	if spec.SingleFile {
		if r.FileName == "" {
			return ""
		}
		return filepath.Join(r.LocalPath, r.FileName)
	}
	return r.LocalPath
}

func childDirs(tree []string, parent string) []string {
	prefix := parent + "/"
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range tree {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		i := strings.Index(rest, "/")
		if i <= 0 {
			continue
		}
		dir := rest[:i]
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func orDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}
