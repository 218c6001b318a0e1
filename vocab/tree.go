// Package vocab holds the hierarchical term trees of the controlled
// vocabulary, the flat term index with its remap graph, and the immutable
// snapshot that bundles them for readers.
//
// Trees store their nodes in an arena and express parent/child relations
// as integer indices. Nodes can only be attached below a node that is
// already present, so a tree is a forest by construction.
package vocab

import "fmt"

// Node is one ontology term inside a Tree.
type Node struct {
	URI          string   `json:"uri"`
	Label        string   `json:"label"`
	Description  string   `json:"description,omitempty"`
	AltLabels    []string `json:"altLabels,omitempty"`
	ExternalURLs []string `json:"externalURLs,omitempty"`
	// InSchema is true for compiled terms and false for ad-hoc ones.
	InSchema   bool `json:"inSchema,omitempty"`
	IsExplicit bool `json:"isExplicit,omitempty"`
	// Provisional marks curator-proposed terms overlaid on the base tree.
	Provisional bool `json:"provisional,omitempty"`
}

// FlatNode is a node as it appears in the pre-order listing of a tree.
type FlatNode struct {
	Node
	// Depth is the path length to the nearest root (roots have depth 0).
	Depth int
	// Parent is the index of the parent within the flat listing, or -1.
	Parent int
	// ChildCount is the number of descendants below this node.
	ChildCount int
}

const noParent = -1

// Tree is a single hierarchy of terms for one schema property/group slot.
//
// A Tree is mutable while it is being assembled (by a Builder or by
// NewTree callers) and must not change once it belongs to a published
// Snapshot; mutating a frozen tree panics.
type Tree struct {
	nodes    []Node
	parent   []int
	children [][]int
	roots    []int
	index    map[string]int
	frozen   bool
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{index: make(map[string]int)}
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Clone returns an unfrozen deep copy of the tree structure.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:    make([]Node, len(t.nodes)),
		parent:   make([]int, len(t.parent)),
		children: make([][]int, len(t.children)),
		roots:    append([]int(nil), t.roots...),
		index:    make(map[string]int, len(t.index)),
	}
	copy(c.nodes, t.nodes)
	copy(c.parent, t.parent)
	for i, kids := range t.children {
		c.children[i] = append([]int(nil), kids...)
	}
	for k, v := range t.index {
		c.index[k] = v
	}
	return c
}

func (t *Tree) freeze() {
	t.frozen = true
}

func (t *Tree) mustBeMutable() {
	if t.frozen {
		panic("vocab: mutation of a tree that belongs to a published snapshot")
	}
}

func (t *Tree) appendNode(n Node, parent int) {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, n)
	t.parent = append(t.parent, parent)
	t.children = append(t.children, nil)
	t.index[n.URI] = idx
	if parent == noParent {
		t.roots = append(t.roots, idx)
	} else {
		t.children[parent] = append(t.children[parent], idx)
	}
}

// AddRoots appends top-level nodes. Nodes whose URI is already present are
// left untouched and excluded from the returned list.
func (t *Tree) AddRoots(nodes ...Node) []Node {
	t.mustBeMutable()
	var added []Node
	for _, n := range nodes {
		if n.URI == "" {
			continue
		}
		if _, exists := t.index[n.URI]; exists {
			continue
		}
		t.appendNode(n, noParent)
		added = append(added, n)
	}
	return added
}

// AddNodes attaches each candidate as a child of the node identified by
// parentURI and returns the nodes that were actually inserted. A candidate
// whose URI already exists anywhere in the tree is left as it is. When the
// parent cannot be found nothing is inserted.
func (t *Tree) AddNodes(parentURI string, nodes []Node) []Node {
	t.mustBeMutable()
	parent, ok := t.index[parentURI]
	if !ok {
		return nil
	}
	var added []Node
	for _, n := range nodes {
		if n.URI == "" {
			continue
		}
		if _, exists := t.index[n.URI]; exists {
			continue
		}
		t.appendNode(n, parent)
		added = append(added, n)
	}
	return added
}

// RemoveNode deletes a leaf node. It returns false when the node is absent
// or still has children; re-parenting is the caller's responsibility.
func (t *Tree) RemoveNode(uri string) bool {
	t.mustBeMutable()
	idx, ok := t.index[uri]
	if !ok || len(t.children[idx]) > 0 {
		return false
	}

	if p := t.parent[idx]; p == noParent {
		t.roots = removeIndex(t.roots, idx)
	} else {
		t.children[p] = removeIndex(t.children[p], idx)
	}

	t.nodes = append(t.nodes[:idx], t.nodes[idx+1:]...)
	t.parent = append(t.parent[:idx], t.parent[idx+1:]...)
	t.children = append(t.children[:idx], t.children[idx+1:]...)

	// Close the gap left in the arena.
	shift := func(i int) int {
		if i > idx {
			return i - 1
		}
		return i
	}
	for i := range t.parent {
		if t.parent[i] != noParent {
			t.parent[i] = shift(t.parent[i])
		}
		for j, c := range t.children[i] {
			t.children[i][j] = shift(c)
		}
	}
	for i, r := range t.roots {
		t.roots[i] = shift(r)
	}
	delete(t.index, uri)
	for i := idx; i < len(t.nodes); i++ {
		t.index[t.nodes[i].URI] = i
	}
	return true
}

// Relabel replaces the label and description of the node carrying uri.
func (t *Tree) Relabel(uri, label, description string) bool {
	t.mustBeMutable()
	idx, ok := t.index[uri]
	if !ok {
		return false
	}
	t.nodes[idx].Label = label
	t.nodes[idx].Description = description
	return true
}

func removeIndex(list []int, v int) []int {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Node returns the node with the given URI.
func (t *Tree) Node(uri string) (Node, bool) {
	idx, ok := t.index[uri]
	if !ok {
		return Node{}, false
	}
	return t.nodes[idx], true
}

// Contains reports whether uri is part of the tree.
func (t *Tree) Contains(uri string) bool {
	_, ok := t.index[uri]
	return ok
}

// Parent returns the parent of uri. Roots and unknown URIs return false.
func (t *Tree) Parent(uri string) (Node, bool) {
	idx, ok := t.index[uri]
	if !ok || t.parent[idx] == noParent {
		return Node{}, false
	}
	return t.nodes[t.parent[idx]], true
}

// Children returns the direct children of uri in insertion order.
func (t *Tree) Children(uri string) []Node {
	idx, ok := t.index[uri]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(t.children[idx]))
	for _, c := range t.children[idx] {
		out = append(out, t.nodes[c])
	}
	return out
}

// Roots returns the top-level nodes in insertion order.
func (t *Tree) Roots() []Node {
	out := make([]Node, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, t.nodes[r])
	}
	return out
}

// IsLeaf reports whether uri is present and has no children.
func (t *Tree) IsLeaf(uri string) bool {
	idx, ok := t.index[uri]
	return ok && len(t.children[idx]) == 0
}

// Depth returns the distance from uri to its root, or -1 if absent.
func (t *Tree) Depth(uri string) int {
	idx, ok := t.index[uri]
	if !ok {
		return -1
	}
	depth := 0
	for p := t.parent[idx]; p != noParent; p = t.parent[p] {
		depth++
	}
	return depth
}

// Ancestors returns the URIs from the parent of uri up to its root.
func (t *Tree) Ancestors(uri string) []string {
	idx, ok := t.index[uri]
	if !ok {
		return nil
	}
	var out []string
	for p := t.parent[idx]; p != noParent; p = t.parent[p] {
		out = append(out, t.nodes[p].URI)
	}
	return out
}

// InBranch reports whether uri equals branchURI or sits anywhere below it.
func (t *Tree) InBranch(uri, branchURI string) bool {
	idx, ok := t.index[uri]
	if !ok {
		return false
	}
	target, ok := t.index[branchURI]
	if !ok {
		return false
	}
	for p := idx; p != noParent; p = t.parent[p] {
		if p == target {
			return true
		}
	}
	return false
}

// IsDescendant reports whether uri sits strictly below ancestorURI.
func (t *Tree) IsDescendant(uri, ancestorURI string) bool {
	return uri != ancestorURI && t.InBranch(uri, ancestorURI)
}

// DescendantCount returns the number of nodes below uri.
func (t *Tree) DescendantCount(uri string) int {
	idx, ok := t.index[uri]
	if !ok {
		return 0
	}
	return t.countBelow(idx)
}

func (t *Tree) countBelow(idx int) int {
	total := 0
	stack := append([]int(nil), t.children[idx]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		stack = append(stack, t.children[n]...)
	}
	return total
}

// Flat lists every node in depth-first pre-order. Roots and siblings
// appear in insertion order, so the listing is deterministic.
func (t *Tree) Flat() []FlatNode {
	out := make([]FlatNode, 0, len(t.nodes))
	var visit func(idx, depth, parentPos int) int
	visit = func(idx, depth, parentPos int) int {
		pos := len(out)
		out = append(out, FlatNode{Node: t.nodes[idx], Depth: depth, Parent: parentPos})
		count := 0
		for _, c := range t.children[idx] {
			count += 1 + visit(c, depth+1, pos)
		}
		out[pos].ChildCount = count
		return count
	}
	for _, r := range t.roots {
		visit(r, 0, noParent)
	}
	return out
}

// Validate checks the structural invariants: unique URIs, consistent
// parent/child indices, and no path that revisits a node.
func (t *Tree) Validate() error {
	if len(t.index) != len(t.nodes) {
		return fmt.Errorf("index holds %d entries for %d nodes", len(t.index), len(t.nodes))
	}
	for uri, idx := range t.index {
		if idx < 0 || idx >= len(t.nodes) || t.nodes[idx].URI != uri {
			return fmt.Errorf("index entry for %s is stale", uri)
		}
	}
	for i, p := range t.parent {
		if p == noParent {
			continue
		}
		found := false
		for _, c := range t.children[p] {
			if c == i {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("node %s missing from its parent's children", t.nodes[i].URI)
		}
	}
	for i := range t.nodes {
		seen := make(map[int]bool)
		for p := i; p != noParent; p = t.parent[p] {
			if seen[p] {
				return fmt.Errorf("cycle through %s", t.nodes[p].URI)
			}
			seen[p] = true
		}
	}
	return nil
}
