package axiom

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/semvocab/vocabulary"
)

// DefaultPattern selects rule files inside an axiom directory.
const DefaultPattern = "**/*.json"

// Source is the raw content of one rule file.
type Source struct {
	Path string
	Data []byte
}

// SourceError is a problem with one rule source.
type SourceError struct {
	Path string
	Err  error
}

func (e SourceError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e SourceError) Unwrap() error { return e.Err }

// ConfigurationError collects every source that failed to load.
type ConfigurationError struct {
	Errors []SourceError
}

func (e *ConfigurationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		msgs[i] = se.Error()
	}
	return fmt.Sprintf("invalid axiom configuration (%d source(s)): %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Parse decodes the rules of a single source. Unknown fields are rejected.
func Parse(src Source) ([]Rule, error) {
	dec := json.NewDecoder(bytes.NewReader(src.Data))
	dec.DisallowUnknownFields()

	var wire []wireRule
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	var (
		rules []Rule
		errs  []error
	)
	for i, w := range wire {
		r, err := w.decode()
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		if src.Path != "" {
			r.Sources = []string{src.Path}
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

func (w wireRule) decode() (Rule, error) {
	r := Rule{Type: RuleType(strings.ToUpper(strings.TrimSpace(string(w.Type))))}
	if r.Type != Limit && r.Type != Exclude {
		return Rule{}, fmt.Errorf("unknown rule type %q", w.Type)
	}
	if len(w.Subject) == 0 {
		return Rule{}, errors.New("at least one subject term is required")
	}
	if len(w.Impact) == 0 {
		return Rule{}, errors.New("at least one impact term is required")
	}

	for i, wt := range w.Subject {
		t, err := wt.decode()
		if err != nil {
			return Rule{}, fmt.Errorf("subject %d: %w", i, err)
		}
		v, ok := t.(Value)
		if !ok {
			return Rule{}, fmt.Errorf("subject %d: subjects must reference a valueURI", i)
		}
		r.Subject = append(r.Subject, v)
	}
	for i, wt := range w.Impact {
		t, err := wt.decode()
		if err != nil {
			return Rule{}, fmt.Errorf("impact %d: %w", i, err)
		}
		r.Impact = append(r.Impact, t)
	}
	if w.Keyword != nil {
		kw := Keyword{Text: w.Keyword.Text, PropURI: vocabulary.Expand(w.Keyword.PropURI)}
		r.Keyword = &kw
	}
	return r, nil
}

// Load parses every source and merges the result. A failing source does
// not stop the others from being checked; all failures are reported
// together in a *ConfigurationError and no rule set is returned.
func Load(sources []Source) (*RuleSet, error) {
	var (
		all  []Rule
		errs []SourceError
	)
	for _, src := range sources {
		rules, err := Parse(src)
		if err != nil {
			errs = append(errs, SourceError{Path: src.Path, Err: err})
			continue
		}
		all = append(all, rules...)
	}
	if len(errs) > 0 {
		return nil, &ConfigurationError{Errors: errs}
	}
	return Merge(all...), nil
}

// LoadDir loads the rule files under dir that match pattern, in lexical
// path order. A missing directory disables axioms and is not an error.
func LoadDir(dir, pattern string) (*RuleSet, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return Merge(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat axiom directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("axiom path %s is not a directory", dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("match axiom files: %w", err)
	}
	sort.Strings(matches)

	var (
		sources []Source
		errs    []SourceError
	)
	for _, m := range matches {
		path := filepath.Join(dir, filepath.FromSlash(m))
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, SourceError{Path: path, Err: err})
			continue
		}
		sources = append(sources, Source{Path: path, Data: data})
	}

	rs, err := Load(sources)
	if len(errs) == 0 {
		return rs, err
	}
	// Read failures are reported alongside parse failures.
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		errs = append(errs, ce.Errors...)
	}
	return nil, &ConfigurationError{Errors: errs}
}
