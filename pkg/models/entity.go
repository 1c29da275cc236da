package models

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxEntityResults caps the size of a single entity listing
const MaxEntityResults = 1000

// Entity is a compact Home Assistant entity description for the editor picker
type Entity struct {
	EntityID string `yaml:"entity_id" json:"entity_id"`
	Name     string `yaml:"name" json:"name"`
	Domain   string `yaml:"domain" json:"domain"`
}

// EntityDomain returns the part of an entity id before the first dot
func EntityDomain(entityID string) string {
	if i := strings.Index(entityID, "."); i >= 0 {
		return entityID[:i]
	}
	return ""
}

// EntityFilter narrows an entity listing
type EntityFilter struct {
	Domains map[string]bool
	Search  string
}

// ParseEntityFilter builds a filter from the raw "domains" and "search" query values
func ParseEntityFilter(rawDomains, rawSearch string) EntityFilter {
	var f EntityFilter
	for _, d := range strings.Split(rawDomains, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if f.Domains == nil {
			f.Domains = make(map[string]bool)
		}
		f.Domains[d] = true
	}
	f.Search = strings.ToLower(strings.TrimSpace(rawSearch))
	return f
}

// Match reports whether an entity passes the filter
func (f EntityFilter) Match(e Entity) bool {
	if f.Domains != nil && !f.Domains[e.Domain] {
		return false
	}
	if f.Search != "" {
		haystack := strings.ToLower(e.EntityID + " " + e.Name)
		if !strings.Contains(haystack, f.Search) {
			return false
		}
	}
	return true
}

// Apply filters entities, keeping their order and the result cap
func (f EntityFilter) Apply(entities []Entity) []Entity {
	results := make([]Entity, 0)
	for _, e := range entities {
		if !f.Match(e) {
			continue
		}
		results = append(results, e)
		if len(results) >= MaxEntityResults {
			break
		}
	}
	return results
}

// entityCatalogFile is the on-disk structure of an entity catalog
type entityCatalogFile struct {
	Entities []Entity `yaml:"entities"`
}

// EntityCatalog is a static, file-backed list of entities
type EntityCatalog struct {
	entities []Entity
}

// NewEntityCatalog creates a catalog from the given entities
func NewEntityCatalog(entities []Entity) *EntityCatalog {
	c := &EntityCatalog{entities: make([]Entity, 0, len(entities))}
	for _, e := range entities {
		c.entities = append(c.entities, normalizeEntity(e))
	}
	sort.SliceStable(c.entities, func(i, j int) bool {
		return c.entities[i].EntityID < c.entities[j].EntityID
	})
	return c
}

// LoadEntityCatalog reads an entities.yaml file
func LoadEntityCatalog(path string) (*EntityCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity catalog: %w", err)
	}

	var file entityCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse entity catalog: %w", err)
	}

	for i, e := range file.Entities {
		if strings.TrimSpace(e.EntityID) == "" {
			return nil, fmt.Errorf("entity catalog entry %d has no entity_id", i)
		}
	}

	return NewEntityCatalog(file.Entities), nil
}

// List returns a copy of all entities in the catalog
func (c *EntityCatalog) List() []Entity {
	out := make([]Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

func normalizeEntity(e Entity) Entity {
	if e.Domain == "" {
		e.Domain = EntityDomain(e.EntityID)
	}
	if e.Name == "" {
		e.Name = e.EntityID
	}
	return e
}
