// Package axiom loads LIMIT/EXCLUDE axiom rules and evaluates annotation
// sets against them.
//
// A rule fires when every subject term is matched by an annotation. Its
// impact terms then describe what the annotation set should (LIMIT) or
// must not (EXCLUDE) contain. Evaluation sorts the consequences into
// violations, justifications and additional (inferred) annotations.
package axiom

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
)

// Term is either a Value or a Literal. The set is closed: the evaluator
// switches over both variants.
type Term interface {
	isTerm()
	// Location returns the optional property/group override.
	Location() (propURI string, groupNest []string)
	// Key identifies the term for merging and deduplication.
	Key() string
}

// Value references an ontology term by URI.
type Value struct {
	URI string
	// WholeBranch lets the term or any of its descendants match.
	WholeBranch bool
	PropURI     string
	GroupNest   []string
}

func (Value) isTerm() {}

// Location implements Term.
func (v Value) Location() (string, []string) { return v.PropURI, v.GroupNest }

// Key implements Term.
func (v Value) Key() string { return "uri:" + v.URI }

func (v Value) String() string {
	s := vocabulary.Abbreviate(v.URI)
	if v.WholeBranch {
		s += "/*"
	}
	return s
}

// Literal is free text that cannot be compared by URI.
type Literal struct {
	Text      string
	PropURI   string
	GroupNest []string
}

func (Literal) isTerm() {}

// Location implements Term.
func (l Literal) Location() (string, []string) { return l.PropURI, l.GroupNest }

// Key implements Term.
func (l Literal) Key() string { return "literal:" + l.PropURI + "|" + l.Text }

func (l Literal) String() string { return fmt.Sprintf("%q", l.Text) }

// wireTerm is the JSON form of a term.
type wireTerm struct {
	ValueURI    *string  `json:"valueURI,omitempty"`
	Literal     *string  `json:"literal,omitempty"`
	WholeBranch bool     `json:"wholeBranch,omitempty"`
	PropURI     string   `json:"propURI,omitempty"`
	GroupNest   []string `json:"groupNest,omitempty"`
}

var (
	errNoValue     = errors.New("one of valueURI or literal is required")
	errBothValues  = errors.New("valueURI and literal are mutually exclusive")
	errLiteralTree = errors.New("wholeBranch cannot apply to a literal")
)

func (w wireTerm) decode() (Term, error) {
	hasURI := w.ValueURI != nil && strings.TrimSpace(*w.ValueURI) != ""
	hasLiteral := w.Literal != nil
	nest := expandAll(w.GroupNest)

	switch {
	case hasURI && hasLiteral:
		return nil, errBothValues
	case hasURI:
		return Value{
			URI:         vocabulary.Expand(strings.TrimSpace(*w.ValueURI)),
			WholeBranch: w.WholeBranch,
			PropURI:     vocabulary.Expand(w.PropURI),
			GroupNest:   nest,
		}, nil
	case hasLiteral:
		if w.WholeBranch {
			return nil, errLiteralTree
		}
		return Literal{Text: *w.Literal, PropURI: vocabulary.Expand(w.PropURI), GroupNest: nest}, nil
	default:
		return nil, errNoValue
	}
}

func encodeTerm(t Term) wireTerm {
	switch t := t.(type) {
	case Value:
		uri := vocabulary.Abbreviate(t.URI)
		return wireTerm{ValueURI: &uri, WholeBranch: t.WholeBranch, PropURI: abbrev(t.PropURI), GroupNest: abbrevAll(t.GroupNest)}
	case Literal:
		text := t.Text
		return wireTerm{Literal: &text, PropURI: abbrev(t.PropURI), GroupNest: abbrevAll(t.GroupNest)}
	}
	panic(fmt.Sprintf("axiom: unknown term type %T", t))
}

func expandAll(uris []string) []string {
	if len(uris) == 0 {
		return nil
	}
	out := make([]string, len(uris))
	for i, u := range uris {
		out[i] = vocabulary.Expand(u)
	}
	return out
}

func abbrev(uri string) string {
	if uri == "" {
		return ""
	}
	return vocabulary.Abbreviate(uri)
}

func abbrevAll(uris []string) []string {
	if len(uris) == 0 {
		return nil
	}
	out := make([]string, len(uris))
	for i, u := range uris {
		out[i] = vocabulary.Abbreviate(u)
	}
	return out
}

// appliesAt reports whether a term's location override covers the given
// location. Terms without an override apply everywhere.
func appliesAt(t Term, propURI, nestKey string) bool {
	prop, nest := t.Location()
	if prop == "" {
		return true
	}
	if prop != propURI {
		return false
	}
	return len(nest) == 0 || vocab.NormalizeGroupNest(nest) == nestKey
}

// MarshalJSON writes the term in rule-file form.
func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(encodeTerm(v)) }

// MarshalJSON writes the term in rule-file form.
func (l Literal) MarshalJSON() ([]byte, error) { return json.Marshal(encodeTerm(l)) }
