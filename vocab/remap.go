package vocab

import (
	"errors"
	"fmt"
	"sort"
)

// Remap errors.
var (
	// ErrSelfRemap is returned when a term would be remapped onto itself.
	ErrSelfRemap = errors.New("term cannot be remapped to itself")
	// ErrRemapCycle is returned when following remaps would revisit a term.
	ErrRemapCycle = errors.New("remap cycle detected")
)

// RemapEdge records that From has been superseded by To.
type RemapEdge struct {
	From string `json:"fromURI"`
	To   string `json:"toURI"`
}

// RemapGraph holds the alias edges of a snapshot. Every term has at most
// one outgoing edge and the graph never contains a cycle.
type RemapGraph struct {
	edges map[string]string
}

// NewRemapGraph creates an empty graph.
func NewRemapGraph() *RemapGraph {
	return &RemapGraph{edges: make(map[string]string)}
}

// Clone returns an independent copy of the graph.
func (g *RemapGraph) Clone() *RemapGraph {
	c := &RemapGraph{edges: make(map[string]string, len(g.edges))}
	for k, v := range g.edges {
		c.edges[k] = v
	}
	return c
}

// DefineRemapping points from at to. An empty to removes any mapping for
// from. Edges that would close a cycle are rejected and leave the graph
// unchanged.
func (g *RemapGraph) DefineRemapping(from, to string) error {
	if to == "" {
		delete(g.edges, from)
		return nil
	}
	if from == to {
		return fmt.Errorf("%s: %w", from, ErrSelfRemap)
	}
	// Walking forward from the new target must not lead back to from.
	seen := map[string]bool{from: true}
	for cur := to; ; {
		if seen[cur] {
			return fmt.Errorf("%s -> %s: %w", from, to, ErrRemapCycle)
		}
		seen[cur] = true
		next, ok := g.edges[cur]
		if !ok {
			break
		}
		cur = next
	}
	g.edges[from] = to
	return nil
}

// Target returns the direct remap target of from.
func (g *RemapGraph) Target(from string) (string, bool) {
	to, ok := g.edges[from]
	return to, ok
}

// Resolve follows remaps from uri to the terminal URI. A URI without a
// remap resolves to itself.
func (g *RemapGraph) Resolve(uri string) (string, error) {
	seen := make(map[string]bool)
	cur := uri
	for {
		next, ok := g.edges[cur]
		if !ok {
			return cur, nil
		}
		if seen[cur] {
			return uri, fmt.Errorf("resolve %s: %w", uri, ErrRemapCycle)
		}
		seen[cur] = true
		cur = next
	}
}

// RemoveReferences deletes every edge that starts or ends at uri and
// returns how many were removed.
func (g *RemapGraph) RemoveReferences(uri string) int {
	removed := 0
	for from, to := range g.edges {
		if from == uri || to == uri {
			delete(g.edges, from)
			removed++
		}
	}
	return removed
}

// Len returns the number of edges.
func (g *RemapGraph) Len() int {
	return len(g.edges)
}

// Edges lists all edges ordered by source URI.
func (g *RemapGraph) Edges() []RemapEdge {
	out := make([]RemapEdge, 0, len(g.edges))
	for from, to := range g.edges {
		out = append(out, RemapEdge{From: from, To: to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Validate checks that every chain of remaps terminates.
func (g *RemapGraph) Validate() error {
	for _, e := range g.Edges() {
		if e.From == e.To {
			return fmt.Errorf("%s: %w", e.From, ErrSelfRemap)
		}
		if _, err := g.Resolve(e.From); err != nil {
			return err
		}
	}
	return nil
}
