package vocab

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(uri string) Node {
	return Node{URI: uri, Label: uri}
}

// buildUnitsTree returns:
//
//	units
//	├── concentration
//	│   ├── molar
//	│   └── micromolar
//	└── density
func buildUnitsTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree()
	require.Len(t, tree.AddRoots(node("units")), 1)
	require.Len(t, tree.AddNodes("units", []Node{node("concentration"), node("density")}), 2)
	require.Len(t, tree.AddNodes("concentration", []Node{node("molar"), node("micromolar")}), 2)
	return tree
}

func TestTreeAddNodes(t *testing.T) {
	t.Run("insertion is idempotent", func(t *testing.T) {
		tree := buildUnitsTree(t)
		before := tree.Flat()

		added := tree.AddNodes("concentration", []Node{node("molar")})
		assert.Empty(t, added)
		assert.Equal(t, before, tree.Flat())
	})

	t.Run("existing node elsewhere is not re-parented", func(t *testing.T) {
		tree := buildUnitsTree(t)
		added := tree.AddNodes("density", []Node{node("molar")})
		assert.Empty(t, added)

		parent, ok := tree.Parent("molar")
		require.True(t, ok)
		assert.Equal(t, "concentration", parent.URI)
	})

	t.Run("unknown parent drops candidates", func(t *testing.T) {
		tree := buildUnitsTree(t)
		added := tree.AddNodes("nowhere", []Node{node("orphan")})
		assert.Nil(t, added)
		assert.False(t, tree.Contains("orphan"))
	})

	t.Run("returns only inserted nodes", func(t *testing.T) {
		tree := buildUnitsTree(t)
		added := tree.AddNodes("density", []Node{node("gpercc"), node("molar"), node("gpercc")})
		require.Len(t, added, 1)
		assert.Equal(t, "gpercc", added[0].URI)
	})
}

func TestTreeRemoveNode(t *testing.T) {
	tree := buildUnitsTree(t)

	assert.False(t, tree.RemoveNode("concentration"), "non-leaf must not be removed")
	assert.False(t, tree.RemoveNode("missing"))

	require.True(t, tree.RemoveNode("molar"))
	assert.False(t, tree.Contains("molar"))
	assert.Equal(t, 3, tree.DescendantCount("units"))

	parent, ok := tree.Parent("micromolar")
	require.True(t, ok)
	assert.Equal(t, "concentration", parent.URI)
	require.NoError(t, tree.Validate())

	require.True(t, tree.RemoveNode("micromolar"))
	require.True(t, tree.RemoveNode("concentration"))
	assert.Equal(t, []string{"units", "density"}, flatURIs(tree))
	require.NoError(t, tree.Validate())
}

func TestTreeQueries(t *testing.T) {
	tree := buildUnitsTree(t)

	assert.Equal(t, 0, tree.Depth("units"))
	assert.Equal(t, 2, tree.Depth("micromolar"))
	assert.Equal(t, -1, tree.Depth("missing"))

	assert.Equal(t, []string{"concentration", "units"}, tree.Ancestors("micromolar"))
	assert.True(t, tree.InBranch("micromolar", "concentration"))
	assert.True(t, tree.InBranch("concentration", "concentration"))
	assert.False(t, tree.InBranch("density", "concentration"))
	assert.False(t, tree.InBranch("missing", "units"))
	assert.True(t, tree.IsDescendant("micromolar", "units"))
	assert.False(t, tree.IsDescendant("concentration", "concentration"))
	assert.False(t, tree.IsDescendant("units", "density"))

	assert.True(t, tree.IsLeaf("density"))
	assert.False(t, tree.IsLeaf("units"))
	assert.Len(t, tree.Children("units"), 2)
	assert.Len(t, tree.Roots(), 1)
}

func TestTreeFlat(t *testing.T) {
	tree := buildUnitsTree(t)
	flat := tree.Flat()

	assert.Equal(t, []string{"units", "concentration", "molar", "micromolar", "density"}, flatURIs(tree))
	assert.Equal(t, []int{0, 1, 2, 2, 1}, depths(flat))
	assert.Equal(t, -1, flat[0].Parent)
	assert.Equal(t, 1, flat[2].Parent)
	assertChildCounts(t, flat)
}

func TestTreeFrozen(t *testing.T) {
	tree := buildUnitsTree(t)
	tree.freeze()
	assert.Panics(t, func() { tree.AddNodes("units", []Node{node("x")}) })

	clone := tree.Clone()
	assert.NotPanics(t, func() { clone.AddNodes("units", []Node{node("x")}) })
	assert.False(t, tree.Contains("x"))
}

// TestTreeRandomOperations applies random insertions and leaf removals and
// checks that the parent graph never revisits a node.
func TestTreeRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	tree := NewTree()
	tree.AddRoots(node("n0"))
	next := 1

	for step := 0; step < 2000; step++ {
		flat := tree.Flat()
		if len(flat) > 0 && rng.IntN(3) == 0 {
			victim := flat[rng.IntN(len(flat))]
			removed := tree.RemoveNode(victim.URI)
			assert.Equal(t, victim.ChildCount == 0, removed, "step %d: %s", step, victim.URI)
		} else if len(flat) == 0 {
			tree.AddRoots(node(fmt.Sprintf("n%d", next)))
			next++
		} else {
			parent := flat[rng.IntN(len(flat))].URI
			var batch []Node
			for i := 0; i < 1+rng.IntN(3); i++ {
				batch = append(batch, node(fmt.Sprintf("n%d", next)))
				next++
			}
			// Re-offer an existing node to exercise the idempotent path.
			batch = append(batch, node(parent))
			added := tree.AddNodes(parent, batch)
			assert.Len(t, added, len(batch)-1)
		}

		require.NoError(t, tree.Validate(), "step %d", step)
	}
	assertChildCounts(t, tree.Flat())
}

func assertChildCounts(t *testing.T, flat []FlatNode) {
	t.Helper()
	for i, fn := range flat {
		// The subtree of fn is the contiguous run of deeper nodes after it.
		end := i + 1
		for end < len(flat) && flat[end].Depth > fn.Depth {
			end++
		}
		assert.Equal(t, end-i-1, fn.ChildCount, "child count of %s", fn.URI)
	}
}

func flatURIs(tree *Tree) []string {
	var out []string
	for _, fn := range tree.Flat() {
		out = append(out, fn.URI)
	}
	return out
}

func depths(flat []FlatNode) []int {
	out := make([]int, len(flat))
	for i, fn := range flat {
		out[i] = fn.Depth
	}
	return out
}
