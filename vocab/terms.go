package vocab

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// StoredTerm is the flat index entry for a term that appears in one or
// more trees.
type StoredTerm struct {
	URI         string `json:"uri"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// TermIndex is a lookup by URI over every term of a snapshot.
type TermIndex struct {
	terms map[string]StoredTerm
}

// NewTermIndex creates an empty index.
func NewTermIndex() *TermIndex {
	return &TermIndex{terms: make(map[string]StoredTerm)}
}

// Clone returns an independent copy of the index.
func (x *TermIndex) Clone() *TermIndex {
	c := &TermIndex{terms: make(map[string]StoredTerm, len(x.terms))}
	for k, v := range x.terms {
		c.terms[k] = v
	}
	return c
}

// Put inserts or replaces the entry for term.URI.
func (x *TermIndex) Put(term StoredTerm) {
	x.terms[term.URI] = term
}

// Get returns the entry for uri.
func (x *TermIndex) Get(uri string) (StoredTerm, bool) {
	t, ok := x.terms[uri]
	return t, ok
}

// Remove deletes the entry for uri, reporting whether it existed.
func (x *TermIndex) Remove(uri string) bool {
	if _, ok := x.terms[uri]; !ok {
		return false
	}
	delete(x.terms, uri)
	return true
}

// Len returns the number of indexed terms.
func (x *TermIndex) Len() int {
	return len(x.terms)
}

// All returns every entry ordered by URI.
func (x *TermIndex) All() []StoredTerm {
	out := make([]StoredTerm, 0, len(x.terms))
	for _, t := range x.terms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// FoldLabel normalizes a label for case-insensitive comparison.
func FoldLabel(label string) string {
	return cases.Fold().String(strings.TrimSpace(label))
}

// Search returns terms whose label contains query, ignoring case. Exact
// matches come first, then prefix matches, then other substring matches;
// ties are broken by label. A non-positive limit returns every match.
func (x *TermIndex) Search(query string, limit int) []StoredTerm {
	// A Caser keeps state and cannot be shared between goroutines.
	folder := cases.Fold()
	q := folder.String(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	type hit struct {
		term  StoredTerm
		rank  int
		label string
	}
	var hits []hit
	for _, t := range x.terms {
		label := folder.String(t.Label)
		switch {
		case label == q:
			hits = append(hits, hit{t, 0, label})
		case strings.HasPrefix(label, q):
			hits = append(hits, hit{t, 1, label})
		case strings.Contains(label, q):
			hits = append(hits, hit{t, 2, label})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		if hits[i].label != hits[j].label {
			return hits[i].label < hits[j].label
		}
		return hits[i].term.URI < hits[j].term.URI
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]StoredTerm, len(hits))
	for i, h := range hits {
		out[i] = h.term
	}
	return out
}
