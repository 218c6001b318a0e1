package axiom

import (
	"github.com/c360studio/semvocab/schema"
	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
)

// Vocabulary is the read-only view of the term trees that evaluation
// needs. *vocab.Snapshot and *treecache.Cache both satisfy it.
type Vocabulary interface {
	Tree(schemaPrefix, propURI string, groupNest []string) *vocab.Tree
	Resolve(uri string) (string, error)
}

// Annotation is one assertion of an annotation set.
type Annotation struct {
	PropURI   string   `json:"propURI"`
	ValueURI  string   `json:"valueURI,omitempty"`
	Literal   string   `json:"literal,omitempty"`
	GroupNest []string `json:"groupNest,omitempty"`
}

// Finding is one entry of an evaluation result.
type Finding struct {
	PropURI   string   `json:"propURI"`
	ValueURI  string   `json:"valueURI,omitempty"`
	Literal   string   `json:"literal,omitempty"`
	GroupNest []string `json:"groupNest,omitempty"`
	Triggers  []string `json:"triggers"`
}

// Result holds three disjoint lists.
type Result struct {
	Violations     []Finding `json:"violations"`
	Justifications []Finding `json:"justifications"`
	Additional     []Finding `json:"additional"`
}

// location is a property/group slot together with the tree serving it.
type location struct {
	propURI   string
	groupNest []string
	nestKey   string
	tree      *vocab.Tree
}

func (l *location) id() string { return l.propURI + "|" + l.nestKey }

type placedAnnotation struct {
	Annotation
	loc *location
}

// inBranch reports whether the annotation's value matches v at its own
// location, either exactly or, for whole-branch terms, as a descendant.
func (a *placedAnnotation) matches(v Value) bool {
	if a.ValueURI == "" {
		return false
	}
	if a.ValueURI == v.URI {
		return true
	}
	return v.WholeBranch && a.loc.tree != nil && a.loc.tree.InBranch(a.ValueURI, v.URI)
}

// evaluation carries the per-call state. Evaluate is a pure function of
// its arguments; nothing here outlives the call.
type evaluation struct {
	schema      *schema.Schema
	vocabulary  Vocabulary
	annotations []*placedAnnotation
	locations   []*location
	byID        map[string]*location

	violations     *findingList
	justifications *findingList
	additional     *findingList
}

// Evaluate checks annotations against every rule in rules. The schema
// selects the vocabulary tree for each annotation; with a nil schema or a
// missing tree, matching falls back to exact URI comparison.
func Evaluate(sch *schema.Schema, annotations []Annotation, rules *RuleSet, v Vocabulary) Result {
	ev := &evaluation{
		schema:         sch,
		vocabulary:     v,
		byID:           make(map[string]*location),
		violations:     newFindingList(),
		justifications: newFindingList(),
		additional:     newFindingList(),
	}
	ev.placeAnnotations(annotations)
	if sch != nil {
		for _, a := range sch.Assignments {
			ev.locate(a.PropURI, a.GroupNest)
		}
	}

	var limits []constraint
	for _, r := range rules.Rules() {
		rule := ev.resolveRule(r)
		if !ev.triggered(&rule) {
			continue
		}
		switch rule.Type {
		case Limit:
			limits = append(limits, ev.limitConstraints(&rule)...)
		case Exclude:
			ev.applyExclude(&rule)
		}
	}
	ev.applyLimits(limits)

	return ev.result()
}

func (ev *evaluation) resolve(uri string) string {
	uri = vocabulary.Expand(uri)
	if ev.vocabulary == nil || uri == "" {
		return uri
	}
	resolved, err := ev.vocabulary.Resolve(uri)
	if err != nil {
		return uri
	}
	return resolved
}

// locate returns the location for a property/group pair, creating it on
// first use. Known schema assignments are used so that an annotation
// without a group nest lands on its assignment's slot.
func (ev *evaluation) locate(propURI string, groupNest []string) *location {
	propURI = vocabulary.Expand(propURI)
	if ev.schema != nil {
		if a, ok := ev.schema.Find(propURI, groupNest); ok {
			groupNest = a.GroupNest
		}
	}
	loc := &location{
		propURI:   propURI,
		groupNest: expandAll(groupNest),
		nestKey:   vocab.NormalizeGroupNest(groupNest),
	}
	if existing, ok := ev.byID[loc.id()]; ok {
		return existing
	}
	if ev.schema != nil && ev.vocabulary != nil {
		loc.tree = ev.vocabulary.Tree(ev.schema.Prefix, loc.propURI, loc.groupNest)
	}
	ev.byID[loc.id()] = loc
	ev.locations = append(ev.locations, loc)
	return loc
}

func (ev *evaluation) placeAnnotations(annotations []Annotation) {
	for _, a := range annotations {
		if a.PropURI == "" {
			continue
		}
		placed := &placedAnnotation{Annotation: a, loc: ev.locate(a.PropURI, a.GroupNest)}
		placed.PropURI = placed.loc.propURI
		placed.GroupNest = placed.loc.groupNest
		placed.ValueURI = ev.resolve(a.ValueURI)
		ev.annotations = append(ev.annotations, placed)
	}
}

func (ev *evaluation) resolveRule(r Rule) Rule {
	for i := range r.Subject {
		r.Subject[i].URI = ev.resolve(r.Subject[i].URI)
	}
	for i, t := range r.Impact {
		if v, ok := t.(Value); ok {
			v.URI = ev.resolve(v.URI)
			r.Impact[i] = v
		}
	}
	return r
}

// triggered reports whether every subject term is matched by at least one
// annotation.
func (ev *evaluation) triggered(r *Rule) bool {
	for _, s := range r.Subject {
		matched := false
		for _, a := range ev.annotations {
			if appliesAt(s, a.loc.propURI, a.loc.nestKey) && a.matches(s) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// locationsFor lists the locations a value impact applies to: the override
// location when one is given, otherwise every location whose tree holds
// the term or that already carries it.
func (ev *evaluation) locationsFor(v Value) []*location {
	if prop, nest := v.Location(); prop != "" {
		if len(nest) > 0 {
			return []*location{ev.locate(prop, nest)}
		}
		var out []*location
		for _, loc := range ev.locations {
			if loc.propURI == prop {
				out = append(out, loc)
			}
		}
		if len(out) == 0 {
			out = append(out, ev.locate(prop, nil))
		}
		return out
	}

	var out []*location
	for _, loc := range ev.locations {
		if loc.tree != nil && loc.tree.Contains(v.URI) {
			out = append(out, loc)
			continue
		}
		for _, a := range ev.annotations {
			if a.loc == loc && a.ValueURI == v.URI {
				out = append(out, loc)
				break
			}
		}
	}
	return out
}

func (ev *evaluation) annotationsAt(loc *location) []*placedAnnotation {
	var out []*placedAnnotation
	for _, a := range ev.annotations {
		if a.loc == loc && a.ValueURI != "" {
			out = append(out, a)
		}
	}
	return out
}

// constraint is the part of a triggered LIMIT rule that restricts one
// location.
type constraint struct {
	loc      *location
	impacts  []Value
	triggers []string
}

func (c *constraint) satisfiedBy(a *placedAnnotation) bool {
	for _, v := range c.impacts {
		if a.matches(v) {
			return true
		}
	}
	return false
}

func (ev *evaluation) limitConstraints(r *Rule) []constraint {
	triggers := r.TriggerURIs()
	var (
		out   []constraint
		index = make(map[*location]int)
	)
	for _, t := range r.Impact {
		switch t := t.(type) {
		case Literal:
			// Presence of free text cannot be checked by URI, so literal
			// impacts are always offered as suggestions.
			ev.additional.add(Finding{PropURI: t.PropURI, Literal: t.Text, GroupNest: t.GroupNest}, triggers)
		case Value:
			for _, loc := range ev.locationsFor(t) {
				i, ok := index[loc]
				if !ok {
					i = len(out)
					index[loc] = i
					out = append(out, constraint{loc: loc, triggers: triggers})
				}
				out[i].impacts = append(out[i].impacts, t)
			}
		}
	}
	return out
}

// applyLimits sorts the annotations at each constrained location. An
// annotation satisfying any constraint there is justified by it; one
// satisfying none is a violation of all of them. A constraint with no
// satisfying annotation suggests its impacts, unless the location already
// holds a violating value.
func (ev *evaluation) applyLimits(constraints []constraint) {
	byLoc := make(map[*location][]*constraint)
	var order []*location
	for i := range constraints {
		c := &constraints[i]
		if _, ok := byLoc[c.loc]; !ok {
			order = append(order, c.loc)
		}
		byLoc[c.loc] = append(byLoc[c.loc], c)
	}

	for _, loc := range order {
		cs := byLoc[loc]
		present := ev.annotationsAt(loc)

		var violating []*placedAnnotation
		for _, a := range present {
			justified := false
			for _, c := range cs {
				if c.satisfiedBy(a) {
					justified = true
					ev.justifications.add(findingFor(a), c.triggers)
				}
			}
			if !justified {
				violating = append(violating, a)
			}
		}
		for _, a := range violating {
			for _, c := range cs {
				ev.violations.add(findingFor(a), c.triggers)
			}
		}

		if len(violating) > 0 {
			continue
		}
		for _, c := range cs {
			satisfied := false
			for _, a := range present {
				if c.satisfiedBy(a) {
					satisfied = true
					break
				}
			}
			if satisfied {
				continue
			}
			for _, v := range c.impacts {
				ev.additional.add(Finding{PropURI: loc.propURI, ValueURI: v.URI, GroupNest: loc.groupNest}, c.triggers)
			}
		}
	}
}

func (ev *evaluation) applyExclude(r *Rule) {
	triggers := r.TriggerURIs()
	for _, t := range r.Impact {
		switch t := t.(type) {
		case Value:
			for _, loc := range ev.locationsFor(t) {
				for _, a := range ev.annotationsAt(loc) {
					if a.matches(t) {
						ev.violations.add(findingFor(a), triggers)
					}
				}
			}
		case Literal:
			for _, a := range ev.annotations {
				if a.Literal != "" && a.Literal == t.Text && appliesAt(t, a.loc.propURI, a.loc.nestKey) {
					ev.violations.add(findingFor(a), triggers)
				}
			}
		}
	}
}

func findingFor(a *placedAnnotation) Finding {
	return Finding{PropURI: a.PropURI, ValueURI: a.ValueURI, Literal: a.Literal, GroupNest: a.GroupNest}
}

// result applies the precedence violation > justification > additional so
// that the three lists are disjoint.
func (ev *evaluation) result() Result {
	for k := range ev.violations.byKey {
		ev.justifications.remove(k)
		ev.additional.remove(k)
	}
	for k := range ev.justifications.byKey {
		ev.additional.remove(k)
	}
	return Result{
		Violations:     ev.violations.list(),
		Justifications: ev.justifications.list(),
		Additional:     ev.additional.list(),
	}
}

// findingList deduplicates findings by (propURI, valueURI, literal) and
// accumulates their triggers as an ordered set.
type findingList struct {
	order []string
	byKey map[string]*Finding
}

func newFindingList() *findingList {
	return &findingList{byKey: make(map[string]*Finding)}
}

func findingKey(f Finding) string {
	return f.PropURI + "\x00" + f.ValueURI + "\x00" + f.Literal
}

func (l *findingList) add(f Finding, triggers []string) {
	k := findingKey(f)
	existing, ok := l.byKey[k]
	if !ok {
		f.Triggers = nil
		existing = &f
		l.byKey[k] = existing
		l.order = append(l.order, k)
	}
	for _, t := range triggers {
		if !containsString(existing.Triggers, t) {
			existing.Triggers = append(existing.Triggers, t)
		}
	}
}

func (l *findingList) remove(k string) {
	delete(l.byKey, k)
}

func (l *findingList) list() []Finding {
	out := make([]Finding, 0, len(l.byKey))
	for _, k := range l.order {
		f, ok := l.byKey[k]
		if !ok {
			continue
		}
		if f.Triggers == nil {
			f.Triggers = []string{}
		}
		out = append(out, *f)
	}
	return out
}
