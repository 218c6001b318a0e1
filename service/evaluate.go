package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semvocab/axiom"
	"github.com/c360studio/semvocab/vocabulary"
)

// EvaluateRequest is one record's annotations under a schema.
type EvaluateRequest struct {
	SchemaURI   string             `json:"schemaURI"`
	Annotations []axiom.Annotation `json:"annotations"`
}

// Evaluate checks the request against the active rules and the current
// snapshot. An empty SchemaURI evaluates without a schema, so terms only
// match by exact URI. Results may be shared with other callers through the
// memo and must not be modified.
func (s *Service) Evaluate(req EvaluateRequest) (axiom.Result, error) {
	start := time.Now()
	cache := s.trees.Current()
	rules := s.Rules()

	sch := cache.Schemas().ByURI(vocabulary.Expand(req.SchemaURI))
	if req.SchemaURI != "" && sch == nil {
		return axiom.Result{}, fmt.Errorf("evaluate %s: %w", req.SchemaURI, ErrUnknownSchema)
	}

	key, cacheable := s.memoKey(cache.Snapshot().Generation(), rules.Version(), req)
	if cacheable {
		if res, ok := s.memo.Get(key); ok {
			s.metrics.EvalCacheLookup(true)
			return res, nil
		}
		s.metrics.EvalCacheLookup(false)
	}

	res := axiom.Evaluate(sch, req.Annotations, rules, cache)
	s.metrics.ObserveEvaluation(time.Since(start),
		len(res.Violations), len(res.Justifications), len(res.Additional))

	if cacheable {
		s.memo.Add(key, res)
	}
	s.logger.Debug("Evaluated annotations",
		"schema", req.SchemaURI,
		"annotations", len(req.Annotations),
		"violations", len(res.Violations),
		"justifications", len(res.Justifications),
		"additional", len(res.Additional))
	return res, nil
}

// memoKey identifies an evaluation. Results depend only on the snapshot,
// the bound rules and the request, so equal keys give equal results.
func (s *Service) memoKey(generation, rulesVersion string, req EvaluateRequest) (string, bool) {
	if s.memo == nil {
		return "", false
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	return generation + "|" + rulesVersion + "|" + string(data), true
}
