package layout_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/models"
)

func TestResolvePlugin(t *testing.T) {
	tests := []struct {
		name     string
		repo     string
		tree     []string
		assets   []string
		manifest models.Manifest
		remote   string
		file     string
	}{
		{"Root", "test", []string{"test.js"}, nil, models.Manifest{}, "", "test.js"},
		{"Dist", "test", []string{"dist/test.js"}, nil, models.Manifest{}, "dist", "test.js"},
		{"Release asset", "test", nil, []string{"test.js"}, models.Manifest{}, layout.ReleaseRemote, "test.js"},
		{"Release without assets falls back to root", "test", []string{"test.js"}, nil, models.Manifest{}, "", "test.js"},
		{"Root preferred over release and dist", "test", []string{"test.js", "dist/test.js"}, []string{"test.js"}, models.Manifest{}, "", "test.js"},
		{"Lovelace prefix stripped", "lovelace-card", []string{"dist/card.js"}, nil, models.Manifest{}, "dist", "card.js"},
		{"Bundle name", "card", []string{"card-bundle.js"}, nil, models.Manifest{}, "", "card-bundle.js"},
		{"Manifest filename", "card", []string{"dist/other.js"}, nil, models.Manifest{Filename: "other.js"}, "dist", "other.js"},
		{"Content in root ignores dist", "card", []string{"card.js", "dist/card.js"}, nil, models.Manifest{ContentInRoot: true}, "", "card.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := layout.Resolve(models.CategoryPlugin, tt.repo, tt.tree, tt.assets, tt.manifest)
			require.NoError(t, err)
			assert.Equal(t, tt.remote, content.RemotePath)
			assert.Equal(t, tt.file, content.FileName)
		})
	}

	t.Run("Missing file", func(t *testing.T) {
		_, err := layout.Resolve(models.CategoryPlugin, "card", []string{"README.md"}, nil, models.Manifest{})
		assert.True(t, errors.Is(err, layout.ErrNoContent))
	})

	t.Run("Content in root never uses dist", func(t *testing.T) {
		_, err := layout.Resolve(models.CategoryPlugin, "card", []string{"dist/card.js"}, nil, models.Manifest{ContentInRoot: true})
		assert.ErrorIs(t, err, layout.ErrNoContent)
	})
}

func TestResolveIntegration(t *testing.T) {
	tree := []string{
		"README.md",
		"custom_components/widget/__init__.py",
		"custom_components/widget/manifest.json",
	}
	content, err := layout.Resolve(models.CategoryIntegration, "widget", tree, nil, models.Manifest{})
	require.NoError(t, err)
	assert.Equal(t, "custom_components/widget", content.RemotePath)
	assert.Equal(t, "widget", content.Dir)

	content, err = layout.Resolve(models.CategoryIntegration, "widget", []string{"manifest.json", "__init__.py"}, nil, models.Manifest{ContentInRoot: true})
	require.NoError(t, err)
	assert.Equal(t, "", content.RemotePath)

	_, err = layout.Resolve(models.CategoryIntegration, "widget", []string{"custom_components/widget/__init__.py"}, nil, models.Manifest{})
	assert.ErrorIs(t, err, layout.ErrNoContent)
}

func TestResolveThemeAndScript(t *testing.T) {
	content, err := layout.Resolve(models.CategoryTheme, "dark", []string{"themes/dark.yaml", "README.md"}, nil, models.Manifest{})
	require.NoError(t, err)
	assert.Equal(t, "themes", content.RemotePath)
	assert.Equal(t, "dark.yaml", content.FileName)

	content, err = layout.Resolve(models.CategoryPythonScript, "hello", []string{"python_scripts/hello.py"}, nil, models.Manifest{})
	require.NoError(t, err)
	assert.Equal(t, "python_scripts", content.RemotePath)
	assert.Equal(t, "hello.py", content.FileName)

	content, err = layout.Resolve(models.CategoryPythonScript, "hello", []string{"hello.py"}, nil, models.Manifest{ContentInRoot: true})
	require.NoError(t, err)
	assert.Equal(t, "", content.RemotePath)

	_, err = layout.Resolve(models.CategoryTheme, "dark", []string{"themes/dark.json"}, nil, models.Manifest{})
	assert.ErrorIs(t, err, layout.ErrNoContent)
}

func TestLocalPathAndTarget(t *testing.T) {
	root := "/config"

	integration := &models.Repository{FullName: "acme/widget", Category: models.CategoryIntegration}
	assert.Equal(t, "", layout.LocalPath(root, integration), "integration without domain has no local path")
	integration.Domain = "widget"
	assert.Equal(t, filepath.Join(root, "custom_components", "widget"), layout.LocalPath(root, integration))

	plugin := &models.Repository{FullName: "acme/card", Category: models.CategoryPlugin}
	plugin.LocalPath = layout.LocalPath(root, plugin)
	assert.Equal(t, filepath.Join(root, "www", "community", "card"), plugin.LocalPath)
	assert.Equal(t, plugin.LocalPath, layout.Target(plugin))

	script := &models.Repository{FullName: "acme/hello", Category: models.CategoryPythonScript, FileName: "hello.py"}
	script.LocalPath = layout.LocalPath(root, script)
	assert.Equal(t, filepath.Join(root, "python_scripts", "hello.py"), layout.Target(script))

	theme := &models.Repository{FullName: "acme/dark-theme", Category: models.CategoryTheme, FileName: "dark.yaml"}
	assert.Equal(t, filepath.Join(root, "themes", "dark"), layout.LocalPath(root, theme))
}

func TestRoots(t *testing.T) {
	roots := layout.Roots("/config")
	assert.Contains(t, roots, filepath.Join("/config", "custom_components"))
	assert.Contains(t, roots, filepath.Join("/config", "www", "community"))
	assert.Len(t, roots, 6)
}
