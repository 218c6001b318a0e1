// Package schema models the annotation templates that decide which
// vocabulary tree serves each property/group slot.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
	"gopkg.in/yaml.v3"
)

// Assignment is one annotatable slot of a schema.
type Assignment struct {
	Name    string `yaml:"name" json:"name"`
	PropURI string `yaml:"propURI" json:"propURI"`
	// GroupNest lists the enclosing group URIs, innermost first.
	GroupNest []string `yaml:"groupNest,omitempty" json:"groupNest,omitempty"`
}

// NestKey returns the normalized group nest of the assignment.
func (a Assignment) NestKey() string {
	return vocab.NormalizeGroupNest(a.GroupNest)
}

// Schema is an annotation template.
type Schema struct {
	URI         string       `yaml:"uri" json:"uri"`
	Prefix      string       `yaml:"prefix" json:"prefix"`
	Name        string       `yaml:"name" json:"name"`
	Assignments []Assignment `yaml:"assignments" json:"assignments"`
}

// normalize expands every URI held by the schema.
func (s *Schema) normalize() {
	s.URI = vocabulary.Expand(s.URI)
	s.Prefix = vocabulary.Expand(s.Prefix)
	for i := range s.Assignments {
		a := &s.Assignments[i]
		a.PropURI = vocabulary.Expand(a.PropURI)
		for j, g := range a.GroupNest {
			a.GroupNest[j] = vocabulary.Expand(g)
		}
	}
}

// Validate checks that the schema can be used for tree lookups.
func (s *Schema) Validate() error {
	if s.URI == "" {
		return errors.New("schema uri is required")
	}
	if s.Prefix == "" {
		return fmt.Errorf("schema %s: prefix is required", s.URI)
	}
	seen := make(map[string]bool)
	for i, a := range s.Assignments {
		if a.PropURI == "" {
			return fmt.Errorf("schema %s: assignment %d has no propURI", s.URI, i)
		}
		key := a.PropURI + "|" + a.NestKey()
		if seen[key] {
			return fmt.Errorf("schema %s: duplicate assignment %s", s.URI, vocabulary.Abbreviate(a.PropURI))
		}
		seen[key] = true
	}
	return nil
}

// Find returns the assignment for an annotation location. An exact group
// nest match wins; with an empty nest the first assignment for the
// property is used.
func (s *Schema) Find(propURI string, groupNest []string) (Assignment, bool) {
	propURI = vocabulary.Expand(propURI)
	nest := vocab.NormalizeGroupNest(groupNest)
	for _, a := range s.Assignments {
		if a.PropURI == propURI && a.NestKey() == nest {
			return a, true
		}
	}
	if nest == "" {
		for _, a := range s.Assignments {
			if a.PropURI == propURI {
				return a, true
			}
		}
	}
	return Assignment{}, false
}

// Has reports whether the schema still defines the slot a tree key points
// at.
func (s *Schema) Has(key vocab.TreeKey) bool {
	if key.SchemaPrefix != s.Prefix {
		return false
	}
	for _, a := range s.Assignments {
		if a.PropURI == key.PropURI && a.NestKey() == key.GroupNest {
			return true
		}
	}
	return false
}

// TreeKey returns the vocabulary tree key for an assignment of s.
func (s *Schema) TreeKey(a Assignment) vocab.TreeKey {
	return vocab.NewTreeKey(s.Prefix, a.PropURI, a.GroupNest)
}

// Set is an immutable collection of schemas indexed by URI and prefix.
type Set struct {
	schemas  []*Schema
	byURI    map[string]*Schema
	byPrefix map[string]*Schema
}

// NewSet validates and indexes schemas.
func NewSet(schemas ...*Schema) (*Set, error) {
	set := &Set{
		byURI:    make(map[string]*Schema),
		byPrefix: make(map[string]*Schema),
	}
	for _, s := range schemas {
		s.normalize()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.byURI[s.URI]; dup {
			return nil, fmt.Errorf("duplicate schema %s", s.URI)
		}
		if _, dup := set.byPrefix[s.Prefix]; dup {
			return nil, fmt.Errorf("schema %s reuses prefix %s", s.URI, s.Prefix)
		}
		set.schemas = append(set.schemas, s)
		set.byURI[s.URI] = s
		set.byPrefix[s.Prefix] = s
	}
	return set, nil
}

// ByURI returns the schema with the given URI, or nil.
func (s *Set) ByURI(uri string) *Schema {
	if s == nil {
		return nil
	}
	return s.byURI[vocabulary.Expand(uri)]
}

// ByPrefix returns the schema owning the given tree prefix, or nil.
func (s *Set) ByPrefix(prefix string) *Schema {
	if s == nil {
		return nil
	}
	return s.byPrefix[vocabulary.Expand(prefix)]
}

// All returns the schemas in load order.
func (s *Set) All() []*Schema {
	if s == nil {
		return nil
	}
	return append([]*Schema(nil), s.schemas...)
}

// LoadFile reads one schema template. YAML and JSON are both accepted.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir reads every template under dir matching pattern (doublestar
// syntax, e.g. "**/*.yaml"), in lexical path order. A missing directory
// yields an empty set. Errors from individual files are joined.
func LoadDir(dir, pattern string) (*Set, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewSet()
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("match schema files: %w", err)
	}
	sort.Strings(matches)

	var (
		schemas []*Schema
		errs    []error
	)
	for _, m := range matches {
		s, err := LoadFile(filepath.Join(dir, filepath.FromSlash(m)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		schemas = append(schemas, s)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewSet(schemas...)
}
