// Package registry holds the read-only catalog of teams, tags and impact
// levels that ticket fields are validated against and rendered with.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnknownTeam is the team value for tickets that could not be attributed.
// It is never a catalog code.
const UnknownTeam = "unknown"

// Entry is one catalog item.
type Entry struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Team is a destination for tickets and escalations. Channel, when set, is
// where escalations to the team are announced.
type Team struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
}

// Catalog is the on-disk shape of the registry file.
type Catalog struct {
	Teams   []Team  `yaml:"teams"`
	Tags    []Entry `yaml:"tags"`
	Impacts []Entry `yaml:"impacts"`
}

// Registry answers code lookups. It is immutable after construction and safe
// for concurrent use.
type Registry struct {
	catalog Catalog
	teams   map[string]Team
	tags    map[string]Entry
	impacts map[string]Entry
}

// New builds a registry from a catalog, rejecting empty and duplicate codes.
func New(catalog Catalog) (*Registry, error) {
	r := &Registry{
		catalog: catalog,
		teams:   make(map[string]Team, len(catalog.Teams)),
		tags:    make(map[string]Entry, len(catalog.Tags)),
		impacts: make(map[string]Entry, len(catalog.Impacts)),
	}

	for _, team := range catalog.Teams {
		if team.Code == "" {
			return nil, fmt.Errorf("team with empty code")
		}
		if team.Code == UnknownTeam {
			return nil, fmt.Errorf("team code %q is reserved", UnknownTeam)
		}
		if _, dup := r.teams[team.Code]; dup {
			return nil, fmt.Errorf("duplicate team code %q", team.Code)
		}
		r.teams[team.Code] = team
	}
	if err := index(r.tags, catalog.Tags, "tag"); err != nil {
		return nil, err
	}
	if err := index(r.impacts, catalog.Impacts, "impact"); err != nil {
		return nil, err
	}
	return r, nil
}

func index(dst map[string]Entry, entries []Entry, kind string) error {
	for _, e := range entries {
		if e.Code == "" {
			return fmt.Errorf("%s with empty code", kind)
		}
		if _, dup := dst[e.Code]; dup {
			return fmt.Errorf("duplicate %s code %q", kind, e.Code)
		}
		dst[e.Code] = e
	}
	return nil
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return New(catalog)
}

// Load reads and parses the registry file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return Parse(data)
}

// Team looks up a team by code.
func (r *Registry) Team(code string) (Team, bool) {
	t, ok := r.teams[code]
	return t, ok
}

// Tag looks up a tag by code.
func (r *Registry) Tag(code string) (Entry, bool) {
	e, ok := r.tags[code]
	return e, ok
}

// Impact looks up an impact level by code.
func (r *Registry) Impact(code string) (Entry, bool) {
	e, ok := r.impacts[code]
	return e, ok
}

// Teams returns the teams in file order.
func (r *Registry) Teams() []Team {
	return append([]Team(nil), r.catalog.Teams...)
}

// Tags returns the tags in file order.
func (r *Registry) Tags() []Entry {
	return append([]Entry(nil), r.catalog.Tags...)
}

// Impacts returns the impact levels in file order.
func (r *Registry) Impacts() []Entry {
	return append([]Entry(nil), r.catalog.Impacts...)
}

// TeamName returns the display name for code, or code itself if unknown.
func (r *Registry) TeamName(code string) string {
	if t, ok := r.teams[code]; ok && t.Name != "" {
		return t.Name
	}
	return code
}

// TagName returns the display name for code, or code itself if unknown.
func (r *Registry) TagName(code string) string {
	if e, ok := r.tags[code]; ok && e.Name != "" {
		return e.Name
	}
	return code
}

// ImpactName returns the display name for code, or code itself if unknown.
func (r *Registry) ImpactName(code string) string {
	if e, ok := r.impacts[code]; ok && e.Name != "" {
		return e.Name
	}
	return code
}
