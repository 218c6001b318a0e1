package vocab

import (
	"sync"
	"testing"

	"github.com/c360studio/semvocab/vocabulary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unitsKey = NewTreeKey("bas:", "bao:BAO_0002874", []string{"bat:Measurement"})

func buildSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	b := NewBuilder()
	b.SetTree(unitsKey, buildUnitsTree(t))
	b.IndexTreeTerms()
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func TestTreeKeyNormalization(t *testing.T) {
	a := NewTreeKey("bas:", "bao:BAO_0002874", []string{" bat:Measurement ", ""})
	b := NewTreeKey(vocabulary.NamespaceBAS, vocabulary.NamespaceBAO+"BAO_0002874", []string{vocabulary.NamespaceBAT + "Measurement"})
	assert.Equal(t, a, b)
	assert.Equal(t, []string{vocabulary.NamespaceBAT + "Measurement"}, a.GroupNestURIs())
	assert.Nil(t, NewTreeKey("bas:", "bao:X", nil).GroupNestURIs())
}

func TestSnapshotLookups(t *testing.T) {
	snap := buildSnapshot(t)

	assert.NotEmpty(t, snap.Generation())
	assert.Equal(t, 1, snap.TreeCount())
	assert.Equal(t, 5, snap.TermCount())
	require.NotNil(t, snap.Tree("bas:", "bao:BAO_0002874", []string{"bat:Measurement"}))
	assert.Nil(t, snap.Tree("bas:", "bao:BAO_0002874", nil))
	assert.Equal(t, []TreeKey{unitsKey}, snap.TreesContaining("molar"))

	term, ok := snap.Term("molar")
	require.True(t, ok)
	assert.Equal(t, "molar", term.Label)
}

func TestBuilderCopyOnWrite(t *testing.T) {
	base := buildSnapshot(t)

	b := base.Edit()
	b.Tree(unitsKey).AddNodes("density", []Node{node("gpercc")})
	b.Terms().Put(StoredTerm{URI: "gpercc", Label: "g/cc"})
	require.NoError(t, b.Remaps().DefineRemapping("molar", "micromolar"))
	next, err := b.Build()
	require.NoError(t, err)

	assert.NotEqual(t, base.Generation(), next.Generation())
	assert.False(t, base.TreeByKey(unitsKey).Contains("gpercc"))
	assert.True(t, next.TreeByKey(unitsKey).Contains("gpercc"))
	_, ok := base.Term("gpercc")
	assert.False(t, ok)
	assert.Empty(t, base.Remaps())

	resolved, err := next.Resolve("molar")
	require.NoError(t, err)
	assert.Equal(t, "micromolar", resolved)
}

func TestBuilderSharesUntouchedTrees(t *testing.T) {
	base := buildSnapshot(t)
	next, err := base.Edit().Build()
	require.NoError(t, err)
	assert.Same(t, base.TreeByKey(unitsKey), next.TreeByKey(unitsKey))
}

func TestPublisherUpdate(t *testing.T) {
	pub := NewPublisher(buildSnapshot(t), nil)

	var seen []string
	pub.Subscribe(func(s *Snapshot) { seen = append(seen, s.Generation()) })

	before := pub.Current()
	_, err := pub.Update(func(cur *Snapshot) (*Snapshot, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Same(t, before, pub.Current())

	next, err := pub.Update(func(cur *Snapshot) (*Snapshot, error) {
		b := cur.Edit()
		b.Tree(unitsKey).AddNodes("units", []Node{node("mass")})
		return b.Build()
	})
	require.NoError(t, err)
	assert.Same(t, next, pub.Current())
	assert.Equal(t, []string{next.Generation()}, seen)
}

// TestSnapshotIsolation checks that readers holding a snapshot keep seeing
// its content while writers publish new ones.
func TestSnapshotIsolation(t *testing.T) {
	pub := NewPublisher(buildSnapshot(t), nil)

	held := pub.Current()
	heldFlat := held.TreeByKey(unitsKey).Flat()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := pub.Update(func(cur *Snapshot) (*Snapshot, error) {
					b := cur.Edit()
					b.Tree(unitsKey).AddNodes("units", []Node{node(fmtURI(w, i))})
					return b.Build()
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				snap := pub.Current()
				tree := snap.TreeByKey(unitsKey)
				assert.NoError(t, tree.Validate())
				assert.Equal(t, tree.Len()-1, tree.DescendantCount("units"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, heldFlat, held.TreeByKey(unitsKey).Flat())
	assert.Equal(t, 5+100, pub.Current().TreeByKey(unitsKey).Len())
}

func fmtURI(w, i int) string {
	return "added-" + string(rune('a'+w)) + "-" + string(rune('A'+i))
}
