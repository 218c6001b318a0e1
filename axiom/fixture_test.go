package axiom

import (
	"testing"

	"github.com/c360studio/semvocab/schema"
	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
	"github.com/stretchr/testify/require"
)

const (
	propResult    = vocabulary.NamespaceBAO + "BAO_0000208"
	propUnits     = vocabulary.NamespaceBAO + "BAO_0002874"
	propFormat    = vocabulary.NamespaceBAO + "BAO_0000205"
	propDetection = vocabulary.NamespaceBAO + "BAO_0000207"
	groupMeasure  = vocabulary.NamespaceBAT + "Measurement"

	ic50 = vocabulary.NamespaceBAO + "BAO_0000190"
	ki   = vocabulary.NamespaceBAO + "BAO_0000192"
	ec50 = vocabulary.NamespaceBAO + "BAO_0000188"

	unitRoot      = vocabulary.NamespaceOBO + "UO_0000000"
	concentration = vocabulary.NamespaceOBO + "UO_0000051"
	micromolar    = vocabulary.NamespaceOBO + "UO_0000064"
	nanomolar     = vocabulary.NamespaceOBO + "UO_0000065"
	density       = vocabulary.NamespaceOBO + "UO_0000182"

	cellBased   = vocabulary.NamespaceBAO + "BAO_0000218"
	biochemical = vocabulary.NamespaceBAO + "BAO_0000217"

	fluorescence = vocabulary.NamespaceBAO + "BAO_0000363"
	luminescence = vocabulary.NamespaceBAO + "BAO_0000364"

	retiredIC50 = vocabulary.NamespaceBAO + "BAO_0009990"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	set, err := schema.NewSet(&schema.Schema{
		URI:    "bas:CommonAssayTemplate",
		Prefix: "bas:",
		Name:   "common assay template",
		Assignments: []schema.Assignment{
			{Name: "result", PropURI: "bao:BAO_0000208"},
			{Name: "units", PropURI: "bao:BAO_0002874", GroupNest: []string{"bat:Measurement"}},
			{Name: "assay format", PropURI: "bao:BAO_0000205"},
			{Name: "detection", PropURI: "bao:BAO_0000207"},
		},
	})
	require.NoError(t, err)
	return set.ByURI("bas:CommonAssayTemplate")
}

func leaf(uri string) vocab.Node {
	return vocab.Node{URI: uri, Label: vocabulary.Abbreviate(uri), InSchema: true}
}

func testSnapshot(t *testing.T, sch *schema.Schema) *vocab.Snapshot {
	t.Helper()
	b := vocab.NewBuilder()

	results := vocab.NewTree()
	results.AddRoots(leaf(ic50), leaf(ki), leaf(ec50))
	b.SetTree(vocab.NewTreeKey(sch.Prefix, propResult, nil), results)

	units := vocab.NewTree()
	units.AddRoots(leaf(unitRoot))
	units.AddNodes(unitRoot, []vocab.Node{leaf(concentration), leaf(density)})
	units.AddNodes(concentration, []vocab.Node{leaf(micromolar), leaf(nanomolar)})
	b.SetTree(vocab.NewTreeKey(sch.Prefix, propUnits, []string{groupMeasure}), units)

	format := vocab.NewTree()
	format.AddRoots(leaf(cellBased), leaf(biochemical))
	b.SetTree(vocab.NewTreeKey(sch.Prefix, propFormat, nil), format)

	detection := vocab.NewTree()
	detection.AddRoots(leaf(fluorescence), leaf(luminescence))
	b.SetTree(vocab.NewTreeKey(sch.Prefix, propDetection, nil), detection)

	require.NoError(t, b.Remaps().DefineRemapping(retiredIC50, ic50))
	b.IndexTreeTerms()
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func mustRules(t *testing.T, doc string) *RuleSet {
	t.Helper()
	rs, err := Load([]Source{{Path: "inline.json", Data: []byte(doc)}})
	require.NoError(t, err)
	return rs
}
