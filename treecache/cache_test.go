package treecache

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/c360studio/semvocab/schema"
	"github.com/c360studio/semvocab/vocab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T) *vocab.Snapshot {
	t.Helper()
	b := vocab.NewBuilder()
	for _, key := range []vocab.TreeKey{
		vocab.NewTreeKey("bas:", "bao:Units", []string{"bat:Measurement"}),
		vocab.NewTreeKey("bas:", "bao:Result", nil),
		vocab.NewTreeKey("bas:", "bao:Retired", nil),
		vocab.NewTreeKey("other:", "bao:Result", nil),
	} {
		tree := vocab.NewTree()
		tree.AddRoots(vocab.Node{URI: key.PropURI + "/root", Label: "root"})
		b.SetTree(key, tree)
	}
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func testSchemas(t *testing.T, assignments ...schema.Assignment) *schema.Set {
	t.Helper()
	set, err := schema.NewSet(&schema.Schema{URI: "bas:Assay", Prefix: "bas:", Assignments: assignments})
	require.NoError(t, err)
	return set
}

func TestBuildDropsDriftedTrees(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	set := testSchemas(t,
		schema.Assignment{Name: "units", PropURI: "bao:Units", GroupNest: []string{"bat:Measurement"}},
		schema.Assignment{Name: "result", PropURI: "bao:Result"},
	)
	c := Build(testSnapshot(t), set, logger)

	assert.Equal(t, 2, c.Len())
	assert.NotNil(t, c.Tree("bas:", "bao:Units", []string{"bat:Measurement"}))
	assert.NotNil(t, c.Tree("bas:", "bao:Result", nil))
	assert.Nil(t, c.Tree("bas:", "bao:Retired", nil))
	assert.Nil(t, c.Tree("other:", "bao:Result", nil))
	assert.Len(t, c.Dropped(), 2)
	assert.Contains(t, logs.String(), "Dropping vocabulary tree")
}

func TestBuildWithoutSchemasKeepsEverything(t *testing.T) {
	c := Build(testSnapshot(t), nil, nil)
	assert.Equal(t, 4, c.Len())
	assert.Empty(t, c.Dropped())
}

func TestHolderRebuilds(t *testing.T) {
	snap := testSnapshot(t)
	h := NewHolder(snap, testSchemas(t, schema.Assignment{PropURI: "bao:Result"}), nil)
	assert.Equal(t, 1, h.Current().Len())

	pub := vocab.NewPublisher(snap, nil)
	pub.Subscribe(h.OnSnapshot)

	next, err := pub.Update(func(cur *vocab.Snapshot) (*vocab.Snapshot, error) {
		b := cur.Edit()
		b.RemoveTree(vocab.NewTreeKey("bas:", "bao:Result", nil))
		return b.Build()
	})
	require.NoError(t, err)
	assert.Same(t, next, h.Current().Snapshot())
	assert.Equal(t, 0, h.Current().Len())

	h.SetSchemas(nil)
	assert.Equal(t, 3, h.Current().Len())
}
