package store_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/repokeep/internal/models"
	"github.com/vrsandeep/repokeep/internal/store"
	"github.com/vrsandeep/repokeep/internal/testutil"
)

func sampleRepositories() []*models.Repository {
	return []*models.Repository{
		{
			ID:               "1",
			FullName:         "acme/widget",
			Category:         models.CategoryPlugin,
			Description:      "A widget",
			Topics:           []string{"card"},
			Stars:            12,
			DefaultBranch:    "main",
			PushedAt:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			ETag:             `"abc"`,
			Installed:        true,
			InstalledVersion: "v1.0.0",
			InstalledCommit:  "abc123",
			AvailableVersion: "v1.1.0",
			AvailableCommit:  "def456",
			Releases:         true,
			PublishedTags:    []string{"v1.1.0", "v1.0.0"},
			LocalPath:        "/config/www/community/widget",
			FileName:         "widget.js",
			Manifest:         models.Manifest{Name: "Widget", Country: []string{"NO"}, Homeassistant: "2024.1.0"},
		},
		{
			ID:       "2",
			FullName: "acme/gadget",
			Category: models.CategoryIntegration,
			New:      true,
		},
	}
}

func TestSaveAndLoadRepositories(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	repos := sampleRepositories()

	require.NoError(t, st.SaveRepositories(repos))

	loaded, err := st.LoadRepositories()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	// Ordered by name.
	assert.Equal(t, repos[1], loaded[0])
	assert.Equal(t, repos[0], loaded[1])

	saved, err := st.LastSaved()
	require.NoError(t, err)
	assert.False(t, saved.IsZero())
}

func TestSaveOmitsAbsentFields(t *testing.T) {
	database := testutil.SetupTestDB(t)
	st := store.New(database)
	require.NoError(t, st.SaveRepositories(sampleRepositories()[1:]))

	var data string
	require.NoError(t, database.QueryRow("SELECT data FROM repositories WHERE id = '2'").Scan(&data))

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &doc))
	assert.ElementsMatch(t, []string{"id", "full_name", "category", "new"}, keys(doc))
}

func TestSaveIsUpsert(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	repos := sampleRepositories()
	require.NoError(t, st.SaveRepositories(repos))

	repos[0].InstalledVersion = "v1.1.0"
	repos[0].FullName = "acme/widget-renamed"
	require.NoError(t, st.SaveRepositories(repos[:1]))

	got, err := st.GetRepository("1")
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0", got.InstalledVersion)
	assert.Equal(t, "acme/widget-renamed", got.FullName)

	all, err := st.LoadRepositories()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveRejectsMissingID(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	err := st.SaveRepositories([]*models.Repository{{FullName: "acme/noid"}})
	assert.Error(t, err)

	all, err := st.LoadRepositories()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteRepositoryAndEntries(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	require.NoError(t, st.SaveRepositories(sampleRepositories()))
	require.NoError(t, st.SetEntry("1", "files", []string{"widget.js"}))

	var files []string
	found, err := st.GetEntry("1", "files", &files)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"widget.js"}, files)

	require.NoError(t, st.DeleteRepository("1"))
	_, err = st.GetRepository("1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err = st.GetEntry("1", "files", &files)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemovedRepositories(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t))
	require.NoError(t, st.MarkRemoved("7", "acme/gone", "removed by user"))
	require.NoError(t, st.MarkRemoved("7", "acme/gone-again", "removed by user"))

	removed, err := st.RemovedRepositories()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "acme/gone-again"}, removed)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
