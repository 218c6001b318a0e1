package vocab

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semvocab/vocabulary"
	"github.com/google/uuid"
)

// groupNestSeparator joins the URIs of a group nest into a key component.
const groupNestSeparator = "::"

// TreeKey identifies the tree used for one schema assignment. All URIs are
// held in expanded form.
type TreeKey struct {
	SchemaPrefix string
	PropURI      string
	GroupNest    string
}

// NewTreeKey builds a normalized key.
func NewTreeKey(schemaPrefix, propURI string, groupNest []string) TreeKey {
	return TreeKey{
		SchemaPrefix: vocabulary.Expand(schemaPrefix),
		PropURI:      vocabulary.Expand(propURI),
		GroupNest:    NormalizeGroupNest(groupNest),
	}
}

// NormalizeGroupNest expands each group URI and joins them, innermost
// group first, so that equivalent nests produce the same key.
func NormalizeGroupNest(groupNest []string) string {
	parts := make([]string, 0, len(groupNest))
	for _, g := range groupNest {
		if g = strings.TrimSpace(g); g != "" {
			parts = append(parts, vocabulary.Expand(g))
		}
	}
	return strings.Join(parts, groupNestSeparator)
}

// GroupNestURIs splits the normalized group nest back into URIs.
func (k TreeKey) GroupNestURIs() []string {
	if k.GroupNest == "" {
		return nil
	}
	return strings.Split(k.GroupNest, groupNestSeparator)
}

// String renders the key for logs.
func (k TreeKey) String() string {
	s := vocabulary.Abbreviate(k.SchemaPrefix) + " " + vocabulary.Abbreviate(k.PropURI)
	if k.GroupNest != "" {
		groups := k.GroupNestURIs()
		for i, g := range groups {
			groups[i] = vocabulary.Abbreviate(g)
		}
		s += " [" + strings.Join(groups, ",") + "]"
	}
	return s
}

func lessKey(a, b TreeKey) bool {
	if a.SchemaPrefix != b.SchemaPrefix {
		return a.SchemaPrefix < b.SchemaPrefix
	}
	if a.PropURI != b.PropURI {
		return a.PropURI < b.PropURI
	}
	return a.GroupNest < b.GroupNest
}

// Snapshot is an immutable bundle of every tree, the term index and the
// remap graph. Readers hold a *Snapshot for the duration of a request and
// never see changes made after it was published.
type Snapshot struct {
	generation string
	created    time.Time
	trees      map[TreeKey]*Tree
	keys       []TreeKey
	terms      *TermIndex
	remaps     *RemapGraph
}

// Empty returns a snapshot without trees or terms.
func Empty() *Snapshot {
	s, _ := NewBuilder().Build()
	return s
}

// Generation is a unique identifier assigned when the snapshot was built.
func (s *Snapshot) Generation() string { return s.generation }

// Created returns the build time of the snapshot.
func (s *Snapshot) Created() time.Time { return s.created }

// Keys returns the tree keys in a stable order.
func (s *Snapshot) Keys() []TreeKey {
	return append([]TreeKey(nil), s.keys...)
}

// TreeCount returns the number of trees.
func (s *Snapshot) TreeCount() int { return len(s.trees) }

// TermCount returns the number of indexed terms.
func (s *Snapshot) TermCount() int { return s.terms.Len() }

// TreeByKey returns the tree stored under key, or nil.
func (s *Snapshot) TreeByKey(key TreeKey) *Tree {
	return s.trees[key]
}

// Tree returns the tree for a schema assignment, or nil.
func (s *Snapshot) Tree(schemaPrefix, propURI string, groupNest []string) *Tree {
	return s.trees[NewTreeKey(schemaPrefix, propURI, groupNest)]
}

// TreesContaining returns the keys of every tree holding uri.
func (s *Snapshot) TreesContaining(uri string) []TreeKey {
	var out []TreeKey
	for _, k := range s.keys {
		if s.trees[k].Contains(uri) {
			out = append(out, k)
		}
	}
	return out
}

// Term returns the index entry for uri.
func (s *Snapshot) Term(uri string) (StoredTerm, bool) {
	return s.terms.Get(vocabulary.Expand(uri))
}

// Terms returns every indexed term ordered by URI.
func (s *Snapshot) Terms() []StoredTerm {
	return s.terms.All()
}

// Search finds terms by label; see TermIndex.Search.
func (s *Snapshot) Search(query string, limit int) []StoredTerm {
	return s.terms.Search(query, limit)
}

// Resolve follows the remap graph from uri to its terminal URI.
func (s *Snapshot) Resolve(uri string) (string, error) {
	return s.remaps.Resolve(vocabulary.Expand(uri))
}

// Remaps lists the remap edges ordered by source URI.
func (s *Snapshot) Remaps() []RemapEdge {
	return s.remaps.Edges()
}

// Edit starts a Builder seeded with the contents of s. Trees, terms and
// remaps are copied only when the builder first modifies them.
func (s *Snapshot) Edit() *Builder {
	trees := make(map[TreeKey]*Tree, len(s.trees))
	for k, t := range s.trees {
		trees[k] = t
	}
	return &Builder{
		trees:  trees,
		owned:  make(map[TreeKey]bool),
		terms:  s.terms,
		remaps: s.remaps,
	}
}

// Builder assembles the next Snapshot. It is not safe for concurrent use;
// callers serialize writers through a Publisher.
type Builder struct {
	trees       map[TreeKey]*Tree
	owned       map[TreeKey]bool
	terms       *TermIndex
	termsOwned  bool
	remaps      *RemapGraph
	remapsOwned bool
}

// NewBuilder creates a builder for an empty snapshot.
func NewBuilder() *Builder {
	return &Builder{
		trees:       make(map[TreeKey]*Tree),
		owned:       make(map[TreeKey]bool),
		terms:       NewTermIndex(),
		termsOwned:  true,
		remaps:      NewRemapGraph(),
		remapsOwned: true,
	}
}

// Keys returns the tree keys currently in the builder, sorted.
func (b *Builder) Keys() []TreeKey {
	keys := make([]TreeKey, 0, len(b.trees))
	for k := range b.trees {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

// View returns the tree under key for reading, or nil.
func (b *Builder) View(key TreeKey) *Tree {
	return b.trees[key]
}

// Tree returns a mutable tree for key, cloning a shared tree on first use.
// It returns nil when the key is unknown.
func (b *Builder) Tree(key TreeKey) *Tree {
	t, ok := b.trees[key]
	if !ok {
		return nil
	}
	if !b.owned[key] {
		t = t.Clone()
		b.trees[key] = t
		b.owned[key] = true
	}
	return t
}

// SetTree stores tree under key, replacing any previous tree.
func (b *Builder) SetTree(key TreeKey, tree *Tree) {
	b.trees[key] = tree
	b.owned[key] = !tree.frozen
}

// RemoveTree drops the tree under key.
func (b *Builder) RemoveTree(key TreeKey) {
	delete(b.trees, key)
	delete(b.owned, key)
}

// Terms returns the mutable term index.
func (b *Builder) Terms() *TermIndex {
	if !b.termsOwned {
		b.terms = b.terms.Clone()
		b.termsOwned = true
	}
	return b.terms
}

// Remaps returns the mutable remap graph.
func (b *Builder) Remaps() *RemapGraph {
	if !b.remapsOwned {
		b.remaps = b.remaps.Clone()
		b.remapsOwned = true
	}
	return b.remaps
}

// IndexTreeTerms adds a term index entry for every tree node that does not
// have one yet.
func (b *Builder) IndexTreeTerms() {
	for _, k := range b.Keys() {
		for _, fn := range b.trees[k].Flat() {
			if _, ok := b.terms.Get(fn.URI); ok {
				continue
			}
			b.Terms().Put(StoredTerm{URI: fn.URI, Label: fn.Label, Description: fn.Description})
		}
	}
}

// Build validates the assembled content and returns the new snapshot.
// The builder must not be used afterwards.
func (b *Builder) Build() (*Snapshot, error) {
	if err := b.remaps.Validate(); err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	for k, t := range b.trees {
		if b.owned[k] {
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("build snapshot: tree %s: %w", k, err)
			}
		}
		if !t.frozen {
			t.freeze()
		}
	}
	s := &Snapshot{
		generation: uuid.New().String(),
		created:    time.Now(),
		trees:      b.trees,
		keys:       b.Keys(),
		terms:      b.terms,
		remaps:     b.remaps,
	}
	b.trees = nil
	b.owned = nil
	return s, nil
}
