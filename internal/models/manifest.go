package models

import (
	"encoding/json"
	"fmt"
)

// Manifest is the optional descriptor a repository ships at its root.
type Manifest struct {
	Name                string   `json:"name,omitempty"`
	Homeassistant       string   `json:"homeassistant,omitempty"`
	Hacs                string   `json:"hacs,omitempty"`
	Country             []string `json:"country,omitempty"`
	ContentInRoot       bool     `json:"content_in_root,omitempty"`
	ZipRelease          bool     `json:"zip_release,omitempty"`
	Filename            string   `json:"filename,omitempty"`
	PersistentDirectory string   `json:"persistent_directory,omitempty"`
	HideDefaultBranch   bool     `json:"hide_default_branch,omitempty"`
	RenderReadme        bool     `json:"render_readme,omitempty"`
}

// UnmarshalJSON accepts "country" both as a single code and as a list.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type plain Manifest
	aux := struct {
		*plain
		Country json.RawMessage `json:"country,omitempty"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Country = nil
	if len(aux.Country) == 0 || string(aux.Country) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(aux.Country, &single); err == nil {
		m.Country = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(aux.Country, &list); err != nil {
		return fmt.Errorf("country must be a string or a list of strings")
	}
	m.Country = list
	return nil
}

// IntegrationManifest holds the fields read from an integration's manifest.json.
type IntegrationManifest struct {
	Domain     string `json:"domain"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	ConfigFlow bool   `json:"config_flow"`
}
