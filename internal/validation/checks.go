package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/vrsandeep/repokeep/internal/hosting"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/models"
	"gopkg.in/yaml.v3"
)

const manifestSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "homeassistant": {"type": "string"},
    "hacs": {"type": "string"},
    "content_in_root": {"type": "boolean"},
    "zip_release": {"type": "boolean"},
    "filename": {"type": "string"},
    "persistent_directory": {"type": "string"},
    "hide_default_branch": {"type": "boolean"},
    "render_readme": {"type": "boolean"},
    "country": {
      "anyOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    }
  },
  "dependentRequired": {"zip_release": ["filename"]}
}`

var domainPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// BrandsSource returns the set of integration domains that have brand assets.
type BrandsSource func(ctx context.Context) (map[string]bool, error)

// HostedBrands lists brand domains from the default branch of a repository
// on the code host. A successful listing is reused; failures are retried on
// the next call.
func HostedBrands(client hosting.Client, fullName string) BrandsSource {
	var (
		mu      sync.Mutex
		domains map[string]bool
	)
	return func(ctx context.Context) (map[string]bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if domains != nil {
			return domains, nil
		}
		attrs, _, err := client.GetRepository(ctx, fullName, "")
		if err != nil {
			return nil, fmt.Errorf("brands repository %s: %w", fullName, err)
		}
		tree, err := client.GetDirectoryTree(ctx, attrs.FullName, attrs.DefaultBranch)
		if err != nil {
			return nil, fmt.Errorf("brands repository %s: %w", fullName, err)
		}
		found := make(map[string]bool)
		for _, p := range tree {
			parts := strings.Split(p, "/")
			if len(parts) >= 2 && parts[0] == "custom_integrations" {
				found[parts[1]] = true
			}
		}
		domains = found
		return domains, nil
	}
}

// RegisterDefaults adds the built-in checks. brands may be nil to skip the
// brands check.
func RegisterDefaults(r *Registry, brands BrandsSource) error {
	schema, err := compileManifestSchema()
	if err != nil {
		return err
	}
	checks := []Check{
		{ID: "manifest", Run: manifestCheck(schema)},
		{ID: "description", AutomatedOnly: true, Run: descriptionCheck},
		{ID: "archived", Run: archivedCheck},
		{ID: "content-layout", Run: layoutCheck},
		{ID: "integration-manifest", Categories: []models.Category{models.CategoryIntegration}, Run: integrationManifestCheck},
		{ID: "theme-yaml", Categories: []models.Category{models.CategoryTheme}, Run: themeCheck},
	}
	if brands != nil {
		checks = append(checks, Check{
			ID:            "brands",
			Categories:    []models.Category{models.CategoryIntegration},
			AutomatedOnly: true,
			Run:           brandsCheck(brands),
		})
	}
	for _, c := range checks {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func compileManifestSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		return nil, fmt.Errorf("parse manifest schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("manifest.schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("manifest.schema.json")
}

func manifestCheck(schema *jsonschema.Schema) func(context.Context, *Target) error {
	return func(_ context.Context, t *Target) error {
		if t.ManifestData == nil {
			if t.Automated {
				return errors.New("manifest file is missing")
			}
			return nil
		}
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(t.ManifestData))
		if err != nil {
			return fmt.Errorf("manifest is not valid JSON: %v", err)
		}
		if err := schema.Validate(inst); err != nil {
			return fmt.Errorf("manifest does not match schema: %v", err)
		}
		return nil
	}
}

func descriptionCheck(_ context.Context, t *Target) error {
	if strings.TrimSpace(t.Repository.Description) == "" {
		return errors.New("repository has no description")
	}
	return nil
}

func archivedCheck(_ context.Context, t *Target) error {
	if t.Repository.Archived {
		return errors.New("repository is archived")
	}
	return nil
}

func layoutCheck(_ context.Context, t *Target) error {
	var assets []string
	if len(t.Releases) > 0 {
		for _, a := range t.Releases[0].Assets {
			assets = append(assets, a.Name)
		}
	}
	_, err := layout.Resolve(t.Repository.Category, t.Repository.Name(), t.Tree, assets, t.Repository.Manifest)
	return err
}

func integrationManifestCheck(ctx context.Context, t *Target) error {
	if t.Fetch == nil {
		return errors.New("no file access for integration manifest")
	}
	data, err := t.Fetch(ctx, path.Join(t.Repository.RemotePath, "manifest.json"))
	if err != nil {
		return fmt.Errorf("cannot read integration manifest: %v", err)
	}
	var m models.IntegrationManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("integration manifest is not valid JSON: %v", err)
	}
	var missing []string
	if m.Domain == "" {
		missing = append(missing, "domain")
	}
	if m.Name == "" {
		missing = append(missing, "name")
	}
	if m.Version == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("integration manifest is missing %s", strings.Join(missing, ", "))
	}
	if !domainPattern.MatchString(m.Domain) {
		return fmt.Errorf("integration domain %q is not valid", m.Domain)
	}
	return nil
}

func themeCheck(ctx context.Context, t *Target) error {
	if t.Repository.FileName == "" {
		return errors.New("no theme file found")
	}
	if t.Fetch == nil {
		return errors.New("no file access for theme file")
	}
	data, err := t.Fetch(ctx, path.Join(t.Repository.RemotePath, t.Repository.FileName))
	if err != nil {
		return fmt.Errorf("cannot read theme file: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("theme file is not valid YAML: %v", err)
	}
	if len(doc) == 0 {
		return errors.New("theme file defines no themes")
	}
	return nil
}

func brandsCheck(brands BrandsSource) func(context.Context, *Target) error {
	return func(ctx context.Context, t *Target) error {
		domains, err := brands(ctx)
		if err != nil {
			return fmt.Errorf("cannot list brands: %v", err)
		}
		if t.Repository.Domain == "" || !domains[t.Repository.Domain] {
			return fmt.Errorf("domain %q has no brand assets", t.Repository.Domain)
		}
		return nil
	}
}
