// Package vocabulary defines the well-known URI namespaces used by the
// controlled vocabulary and helpers for moving between abbreviated
// ("bao:BAO_0000190") and expanded URI forms.
package vocabulary

import (
	"sort"
	"strings"
)

// Namespace IRIs for the ontologies the vocabulary is compiled from.
const (
	// NamespaceBAO is the BioAssay Ontology namespace.
	NamespaceBAO = "http://www.bioassayontology.org/bao#"

	// NamespaceBAT is the namespace for schema properties and groups.
	NamespaceBAT = "http://www.bioassayontology.org/bat#"

	// NamespaceBAS is the namespace for schema templates.
	NamespaceBAS = "http://www.bioassayontology.org/bas#"

	// NamespaceOBO covers terms imported from OBO Foundry ontologies.
	NamespaceOBO = "http://purl.obolibrary.org/obo/"

	// NamespaceRDFS is the RDF Schema namespace.
	NamespaceRDFS = "http://www.w3.org/2000/01/rdf-schema#"

	// NamespaceProvisional holds curator-proposed terms until they are
	// compiled into the base ontology.
	NamespaceProvisional = "http://www.bioassayontology.org/bae_provisional#"
)

// Prefixes maps each abbreviation to its namespace. Abbreviations are
// written without the trailing colon.
var Prefixes = map[string]string{
	"bao":  NamespaceBAO,
	"bat":  NamespaceBAT,
	"bas":  NamespaceBAS,
	"obo":  NamespaceOBO,
	"rdfs": NamespaceRDFS,
	"prov": NamespaceProvisional,
}

// byLength lists namespaces longest first so that Abbreviate picks the
// most specific match when one namespace is a prefix of another.
var byLength = func() []string {
	abbrevs := make([]string, 0, len(Prefixes))
	for k := range Prefixes {
		abbrevs = append(abbrevs, k)
	}
	sort.Slice(abbrevs, func(i, j int) bool {
		li, lj := len(Prefixes[abbrevs[i]]), len(Prefixes[abbrevs[j]])
		if li != lj {
			return li > lj
		}
		return abbrevs[i] < abbrevs[j]
	})
	return abbrevs
}()

// Expand converts an abbreviated URI into its full form. Strings that are
// already expanded, or that use an unknown prefix, are returned unchanged.
func Expand(uri string) string {
	if uri == "" || strings.Contains(uri, "://") {
		return uri
	}
	abbrev, local, ok := strings.Cut(uri, ":")
	if !ok {
		return uri
	}
	if ns, found := Prefixes[abbrev]; found {
		return ns + local
	}
	return uri
}

// Abbreviate converts a full URI into "prefix:local" form when a known
// namespace matches.
func Abbreviate(uri string) string {
	for _, abbrev := range byLength {
		if ns := Prefixes[abbrev]; strings.HasPrefix(uri, ns) {
			return abbrev + ":" + strings.TrimPrefix(uri, ns)
		}
	}
	return uri
}

// IsProvisional reports whether uri lives in the provisional namespace.
func IsProvisional(uri string) bool {
	return strings.HasPrefix(Expand(uri), NamespaceProvisional)
}
