package axiom

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not an array", `{"type": "LIMIT"}`},
		{"unknown type", `[{"type": "REQUIRE", "subject": [{"valueURI": "bao:X"}], "impact": [{"valueURI": "bao:Y"}]}]`},
		{"no subject", `[{"type": "LIMIT", "subject": [], "impact": [{"valueURI": "bao:Y"}]}]`},
		{"no impact", `[{"type": "LIMIT", "subject": [{"valueURI": "bao:X"}]}]`},
		{"literal subject", `[{"type": "LIMIT", "subject": [{"literal": "x"}], "impact": [{"valueURI": "bao:Y"}]}]`},
		{"both values", `[{"type": "LIMIT", "subject": [{"valueURI": "bao:X"}], "impact": [{"valueURI": "bao:Y", "literal": "y"}]}]`},
		{"empty term", `[{"type": "LIMIT", "subject": [{"valueURI": "bao:X"}], "impact": [{}]}]`},
		{"branch literal", `[{"type": "LIMIT", "subject": [{"valueURI": "bao:X"}], "impact": [{"literal": "y", "wholeBranch": true}]}]`},
		{"unknown field", `[{"type": "LIMIT", "subject": [{"valueURI": "bao:X"}], "impact": [{"valueURI": "bao:Y"}], "weight": 2}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(Source{Path: "rules.json", Data: []byte(tt.doc)})
			assert.Error(t, err)
		})
	}
}

func TestParseNormalizes(t *testing.T) {
	rules, err := Parse(Source{Path: "rules.json", Data: []byte(`[
	  {"type": "limit",
	   "subject": [{"valueURI": " bao:BAO_0000190 "}],
	   "impact": [{"valueURI": "obo:UO_0000064", "propURI": "bao:BAO_0002874", "groupNest": ["bat:Measurement"]}],
	   "keyword": {"text": "inhibition", "propURI": "bao:BAO_0000208"}}
	]`)})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, Limit, r.Type)
	assert.Equal(t, ic50, r.Subject[0].URI)
	assert.Equal(t, Value{URI: micromolar, PropURI: propUnits, GroupNest: []string{groupMeasure}}, r.Impact[0])
	assert.Equal(t, &Keyword{Text: "inhibition", PropURI: propResult}, r.Keyword)
	assert.Equal(t, []string{"rules.json"}, r.Sources)
}

func TestLoadAggregatesErrors(t *testing.T) {
	_, err := Load([]Source{
		{Path: "good.json", Data: []byte(unitsMustBeConcentration)},
		{Path: "broken.json", Data: []byte(`[{`)},
		{Path: "invalid.json", Data: []byte(`[{"type": "MAYBE", "subject": [{"valueURI": "bao:X"}], "impact": [{"valueURI": "bao:Y"}]}]`)},
	})

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Errors, 2)
	assert.Equal(t, "broken.json", ce.Errors[0].Path)
	assert.Equal(t, "invalid.json", ce.Errors[1].Path)
	assert.Contains(t, err.Error(), "2 source(s)")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "units.json", unitsMustBeConcentration)
	writeRules(t, dir, "nested/units-again.json", unitsMustBeConcentration)
	writeRules(t, dir, "README.md", "not a rule file")

	rs, err := LoadDir(dir, "")
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.Len(t, rs.Rules()[0].Sources, 2)
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	rs, err := LoadDir(filepath.Join(t.TempDir(), "absent"), "")
	require.NoError(t, err)
	assert.Zero(t, rs.Len())
}

func TestLoadDirReportsEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "a.json", `nope`)
	writeRules(t, dir, "b.json", unitsMustBeConcentration)
	writeRules(t, dir, "c.json", `[{"type": "LIMIT"}]`)

	rs, err := LoadDir(dir, "")
	assert.Nil(t, rs)

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Errors, 2)
	assert.Equal(t, filepath.Join(dir, "a.json"), ce.Errors[0].Path)
	assert.Equal(t, filepath.Join(dir, "c.json"), ce.Errors[1].Path)
}
