package axiom

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RuleType distinguishes how impacts constrain an annotation set.
type RuleType string

const (
	// Limit restricts the values allowed at the impact location.
	Limit RuleType = "LIMIT"
	// Exclude forbids the impact values.
	Exclude RuleType = "EXCLUDE"
)

// Keyword optionally scopes a rule to text found under a property.
type Keyword struct {
	Text    string `json:"text"`
	PropURI string `json:"propURI,omitempty"`
}

// Rule is one subject -> impact implication.
type Rule struct {
	Type RuleType
	// Subject terms must all be matched for the rule to fire.
	Subject []Value
	Impact  []Term
	Keyword *Keyword
	// Sources lists the rule files that contributed to this rule.
	Sources []string
}

type wireRule struct {
	Type    RuleType   `json:"type"`
	Subject []wireTerm `json:"subject"`
	Impact  []wireTerm `json:"impact"`
	Keyword *Keyword   `json:"keyword,omitempty"`
}

// MarshalJSON writes the rule in rule-file form.
func (r Rule) MarshalJSON() ([]byte, error) {
	w := wireRule{Type: r.Type, Keyword: r.Keyword}
	for _, s := range r.Subject {
		w.Subject = append(w.Subject, encodeTerm(s))
	}
	for _, i := range r.Impact {
		w.Impact = append(w.Impact, encodeTerm(i))
	}
	return json.Marshal(w)
}

// TriggerURIs returns the subject URIs reported as triggers.
func (r *Rule) TriggerURIs() []string {
	out := make([]string, len(r.Subject))
	for i, s := range r.Subject {
		out[i] = s.URI
	}
	return out
}

// mergeKey groups rules that differ only in their impacts.
func (r *Rule) mergeKey() string {
	subjects := make([]string, len(r.Subject))
	for i, s := range r.Subject {
		subjects[i] = fmt.Sprintf("%s#%t#%s#%s", s.URI, s.WholeBranch, s.PropURI, strings.Join(s.GroupNest, ","))
	}
	sort.Strings(subjects)

	var kw string
	if r.Keyword != nil {
		kw = r.Keyword.PropURI + "|" + r.Keyword.Text
	}
	return string(r.Type) + "\x00" + strings.Join(subjects, "\x00") + "\x00" + kw
}

// mergeImpacts unions incoming impacts into r. Value impacts with the same
// URI are combined and their WholeBranch flags OR'd, so a branch-wide
// impact never narrows back to a single term.
func (r *Rule) mergeImpacts(incoming []Term) {
	pos := make(map[string]int, len(r.Impact))
	for i, t := range r.Impact {
		pos[t.Key()] = i
	}
	for _, t := range incoming {
		i, seen := pos[t.Key()]
		if !seen {
			pos[t.Key()] = len(r.Impact)
			r.Impact = append(r.Impact, t)
			continue
		}
		if v, ok := t.(Value); ok && v.WholeBranch {
			existing := r.Impact[i].(Value)
			existing.WholeBranch = true
			r.Impact[i] = existing
		}
	}
}

func (r *Rule) clone() *Rule {
	c := *r
	c.Subject = append([]Value(nil), r.Subject...)
	c.Impact = append([]Term(nil), r.Impact...)
	c.Sources = append([]string(nil), r.Sources...)
	if r.Keyword != nil {
		kw := *r.Keyword
		c.Keyword = &kw
	}
	return &c
}

// RuleSet is a merged, immutable collection of rules.
type RuleSet struct {
	rules   []*Rule
	version string
}

// Merge combines rules sharing type, subjects and keyword. The order of
// first appearance is preserved.
func Merge(rules ...Rule) *RuleSet {
	var (
		merged []*Rule
		byKey  = make(map[string]*Rule)
	)
	for i := range rules {
		in := rules[i].clone()
		key := in.mergeKey()
		existing, ok := byKey[key]
		if !ok {
			// Collapse duplicate impacts inside a single rule as well.
			impacts := in.Impact
			in.Impact = nil
			in.mergeImpacts(impacts)
			byKey[key] = in
			merged = append(merged, in)
			continue
		}
		existing.mergeImpacts(in.Impact)
		for _, src := range in.Sources {
			if !containsString(existing.Sources, src) {
				existing.Sources = append(existing.Sources, src)
			}
		}
	}
	rs := &RuleSet{rules: merged}
	rs.version = rs.digest()
	return rs
}

func (rs *RuleSet) digest() string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, r := range rs.rules {
		_ = enc.Encode(r)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Len returns the number of merged rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Rules returns copies of the merged rules.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = *r.clone()
	}
	return out
}

// Version is a content digest of the rule set; equal rule sets share a
// version.
func (rs *RuleSet) Version() string {
	if rs == nil {
		return ""
	}
	return rs.version
}

// Remapped returns a copy of the rule set with every term URI passed
// through resolve. The first resolution failure aborts the whole set, so
// a remap cycle rejects the rule load instead of surfacing at evaluation.
func (rs *RuleSet) Remapped(resolve func(string) (string, error)) (*RuleSet, error) {
	rules := rs.Rules()
	for i := range rules {
		r := &rules[i]
		for j, s := range r.Subject {
			uri, err := resolve(s.URI)
			if err != nil {
				return nil, fmt.Errorf("rule %d subject %s: %w", i, s.URI, err)
			}
			r.Subject[j].URI = uri
		}
		for j, t := range r.Impact {
			v, ok := t.(Value)
			if !ok {
				continue
			}
			uri, err := resolve(v.URI)
			if err != nil {
				return nil, fmt.Errorf("rule %d impact %s: %w", i, v.URI, err)
			}
			v.URI = uri
			r.Impact[j] = v
		}
	}
	return Merge(rules...), nil
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
