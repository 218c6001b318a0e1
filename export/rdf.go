// Package export serializes vocabulary snapshots as RDF: every term
// becomes an owl:Class with its label, description, parents and remaps.
package export

import (
	"fmt"
	"sort"

	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
)

// Format specifies the output serialization format.
type Format string

const (
	// FormatTurtle produces Turtle (.ttl) output.
	FormatTurtle Format = "turtle"

	// FormatNTriples produces N-Triples (.nt) output.
	FormatNTriples Format = "ntriples"

	// FormatJSONLD produces JSON-LD (.jsonld) output.
	FormatJSONLD Format = "jsonld"
)

// Namespaces used by the export.
const (
	nsRDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsOWL  = "http://www.w3.org/2002/07/owl#"
	nsXSD  = "http://www.w3.org/2001/XMLSchema#"
	nsDC   = "http://purl.org/dc/terms/"
	nsSKOS = "http://www.w3.org/2004/02/skos/core#"
)

// Predicate and class IRIs.
const (
	RDFType             = nsRDF + "type"
	ClassOWL            = nsOWL + "Class"
	PredicateLabel      = vocabulary.NamespaceRDFS + "label"
	PredicateSubClassOf = vocabulary.NamespaceRDFS + "subClassOf"
	PredicateSeeAlso    = vocabulary.NamespaceRDFS + "seeAlso"
	PredicateComment    = vocabulary.NamespaceRDFS + "comment"
	PredicateAltLabel   = nsSKOS + "altLabel"
	PredicateReplacedBy = nsDC + "isReplacedBy"
	// PredicateProvisional marks terms proposed by curators.
	PredicateProvisional = vocabulary.NamespaceProvisional + "isProvisional"
)

// IRI is an object that refers to a resource rather than a literal.
type IRI string

// Triple is one predicate/object pair of an Entity. Object is an IRI, a
// string literal or a bool.
type Triple struct {
	Predicate string
	Object    any
}

// Entity is one exported resource.
type Entity struct {
	IRI     string
	Types   []string
	Triples []Triple
}

// termInfo accumulates what the snapshot knows about one URI.
type termInfo struct {
	label       string
	description string
	altLabels   map[string]bool
	seeAlso     map[string]bool
	parents     map[string]bool
	provisional bool
	replacedBy  string
}

func newTermInfo() *termInfo {
	return &termInfo{
		altLabels: make(map[string]bool),
		seeAlso:   make(map[string]bool),
		parents:   make(map[string]bool),
	}
}

// Entities converts a snapshot into entities ordered by IRI. A term that
// appears in several trees is emitted once with the union of its parents.
func Entities(snap *vocab.Snapshot) []Entity {
	terms := make(map[string]*termInfo)
	get := func(uri string) *termInfo {
		t, ok := terms[uri]
		if !ok {
			t = newTermInfo()
			terms[uri] = t
		}
		return t
	}

	for _, st := range snap.Terms() {
		t := get(st.URI)
		t.label = st.Label
		t.description = st.Description
	}
	for _, key := range snap.Keys() {
		flat := snap.TreeByKey(key).Flat()
		for _, n := range flat {
			t := get(n.URI)
			if t.label == "" {
				t.label = n.Label
			}
			if t.description == "" {
				t.description = n.Description
			}
			for _, alt := range n.AltLabels {
				t.altLabels[alt] = true
			}
			for _, u := range n.ExternalURLs {
				t.seeAlso[u] = true
			}
			if n.Provisional {
				t.provisional = true
			}
			if n.Parent >= 0 {
				t.parents[flat[n.Parent].URI] = true
			}
		}
	}
	for _, edge := range snap.Remaps() {
		get(edge.From).replacedBy = edge.To
	}

	uris := make([]string, 0, len(terms))
	for uri := range terms {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	entities := make([]Entity, 0, len(uris))
	for _, uri := range uris {
		entities = append(entities, terms[uri].entity(uri))
	}
	return entities
}

func (t *termInfo) entity(uri string) Entity {
	e := Entity{IRI: uri, Types: []string{ClassOWL}}
	if t.label != "" {
		e.Triples = append(e.Triples, Triple{PredicateLabel, t.label})
	}
	if t.description != "" {
		e.Triples = append(e.Triples, Triple{PredicateComment, t.description})
	}
	for _, alt := range sortedKeys(t.altLabels) {
		e.Triples = append(e.Triples, Triple{PredicateAltLabel, alt})
	}
	for _, parent := range sortedKeys(t.parents) {
		e.Triples = append(e.Triples, Triple{PredicateSubClassOf, IRI(parent)})
	}
	for _, u := range sortedKeys(t.seeAlso) {
		e.Triples = append(e.Triples, Triple{PredicateSeeAlso, IRI(u)})
	}
	if t.replacedBy != "" {
		e.Triples = append(e.Triples, Triple{PredicateReplacedBy, IRI(t.replacedBy)})
	}
	if t.provisional {
		e.Triples = append(e.Triples, Triple{PredicateProvisional, true})
	}
	return e
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RDFExporter exports the terms of a snapshot.
type RDFExporter struct {
	entities []Entity
	prefixes map[string]string
}

// NewRDFExporter creates an exporter for snap.
func NewRDFExporter(snap *vocab.Snapshot) *RDFExporter {
	return &RDFExporter{
		entities: Entities(snap),
		prefixes: defaultPrefixes(),
	}
}

// defaultPrefixes returns the namespace prefixes declared in Turtle and
// JSON-LD output.
func defaultPrefixes() map[string]string {
	prefixes := map[string]string{
		"rdf":  nsRDF,
		"owl":  nsOWL,
		"xsd":  nsXSD,
		"dc":   nsDC,
		"skos": nsSKOS,
	}
	for prefix, iri := range vocabulary.Prefixes {
		prefixes[prefix] = iri
	}
	return prefixes
}

// Export serializes all entities to the specified format.
func (e *RDFExporter) Export(format Format) (string, error) {
	switch format {
	case FormatTurtle:
		return e.toTurtle(), nil
	case FormatNTriples:
		return e.toNTriples(), nil
	case FormatJSONLD:
		return e.toJSONLD()
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func (e *RDFExporter) toTurtle() string {
	w := NewTurtleWriter()
	for prefix, iri := range e.prefixes {
		w.SetPrefix(prefix, iri)
	}
	w.WritePrefixes()

	for _, entity := range e.entities {
		w.WriteSubject(entity.IRI)
		for i, typeIRI := range entity.Types {
			w.WriteType(typeIRI, i == len(entity.Types)-1 && len(entity.Triples) == 0)
		}
		for i, triple := range entity.Triples {
			w.WritePredicate(triple.Predicate, triple.Object, i == len(entity.Triples)-1)
		}
		w.WriteBlank()
	}
	return w.String()
}

func (e *RDFExporter) toNTriples() string {
	w := NewNTriplesWriter()
	for _, entity := range e.entities {
		for _, typeIRI := range entity.Types {
			w.WriteTypeTriple(entity.IRI, typeIRI)
		}
		for _, triple := range entity.Triples {
			w.WriteTriple(entity.IRI, triple.Predicate, triple.Object)
		}
	}
	return w.String()
}

func (e *RDFExporter) toJSONLD() (string, error) {
	w := NewJSONLDWriter()
	w.SetContext(e.prefixes)
	for _, entity := range e.entities {
		props := make(map[string]any)
		for _, triple := range entity.Triples {
			value := formatObjectJSONLD(triple.Object)
			switch existing := props[triple.Predicate].(type) {
			case nil:
				props[triple.Predicate] = value
			case []any:
				props[triple.Predicate] = append(existing, value)
			default:
				props[triple.Predicate] = []any{existing, value}
			}
		}
		w.AddNode(entity.IRI, entity.Types, props)
	}
	return w.String()
}
