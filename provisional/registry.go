package provisional

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semvocab/vocab"
	"github.com/c360studio/semvocab/vocabulary"
)

// UsageChecker reports whether a term is still referenced by annotated
// records or by edits waiting in the holding bay.
type UsageChecker interface {
	TermUsed(ctx context.Context, uri string) (bool, error)
	InHoldingBay(ctx context.Context, uri string) (bool, error)
}

// NoUsage reports every term as unused.
type NoUsage struct{}

// TermUsed implements UsageChecker.
func (NoUsage) TermUsed(context.Context, string) (bool, error) { return false, nil }

// InHoldingBay implements UsageChecker.
func (NoUsage) InHoldingBay(context.Context, string) (bool, error) { return false, nil }

// Config configures a Registry.
type Config struct {
	Publisher *vocab.Publisher
	Store     *Store
	// Usage defaults to NoUsage.
	Usage UsageChecker
	// URIPrefix is the namespace new term URIs are minted in.
	URIPrefix string
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Registry applies provisional term changes. Every mutation runs under the
// publisher's writer lock: the store is written first and the new snapshot
// is published only when that succeeds.
type Registry struct {
	publisher *vocab.Publisher
	store     *Store
	usage     UsageChecker
	prefix    string
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	terms map[int64]Term
}

// NewRegistry loads the stored terms. Call Reload to overlay them onto a
// base snapshot.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Publisher == nil || cfg.Store == nil {
		return nil, errors.New("publisher and store are required")
	}
	r := &Registry{
		publisher: cfg.Publisher,
		store:     cfg.Store,
		usage:     cfg.Usage,
		prefix:    cfg.URIPrefix,
		logger:    cfg.Logger,
		now:       cfg.Now,
		terms:     make(map[int64]Term),
	}
	if r.usage == nil {
		r.usage = NoUsage{}
	}
	if r.prefix == "" {
		r.prefix = vocabulary.NamespaceProvisional
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}

	stored, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range stored {
		r.terms[t.ProvisionalID] = t
	}
	return r, nil
}

// List returns all provisional terms ordered by ID.
func (r *Registry) List() []Term {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Term, 0, len(r.terms))
	for _, t := range r.terms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProvisionalID < out[j].ProvisionalID })
	return out
}

// Get returns one provisional term.
func (r *Registry) Get(id int64) (Term, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.terms[id]
	return t, ok
}

// ByURI finds a provisional term by its URI.
func (r *Registry) ByURI(uri string) (Term, bool) {
	uri = vocabulary.Expand(uri)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.terms {
		if t.URI == uri {
			return t, true
		}
	}
	return Term{}, false
}

func (r *Registry) mintURI(id int64) string {
	return fmt.Sprintf("%sprov_%07d", r.prefix, id)
}

// Add creates a provisional term under req.ParentURI and inserts it into
// every tree containing the parent. ErrDuplicate is returned when the
// parent already has a child, provisional or not, with the same label.
func (r *Registry) Add(ctx context.Context, actor Actor, req Request) (Created, error) {
	if err := req.validate(); err != nil {
		return Created{}, fmt.Errorf("add provisional term: %w", err)
	}
	req.ParentURI = vocabulary.Expand(strings.TrimSpace(req.ParentURI))
	req.RemappedTo = vocabulary.Expand(strings.TrimSpace(req.RemappedTo))
	req.Label = strings.TrimSpace(req.Label)

	var created Term
	_, err := r.publisher.Update(func(cur *vocab.Snapshot) (*vocab.Snapshot, error) {
		if len(cur.TreesContaining(req.ParentURI)) == 0 {
			return nil, ErrUnknownParent
		}
		if r.isDuplicate(cur, req.ParentURI, req.Label, 0) {
			return nil, ErrDuplicate
		}

		id, err := r.store.NextID(ctx)
		if err != nil {
			return nil, err
		}
		now := r.now()
		t := Term{
			ProvisionalID: id,
			URI:           r.mintURI(id),
			ParentURI:     req.ParentURI,
			Label:         req.Label,
			Description:   req.Description,
			Explanation:   req.Explanation,
			Role:          req.Role,
			RemappedTo:    req.RemappedTo,
			Proposer:      actor.ID,
			Created:       now,
			Modified:      now,
		}

		b := cur.Edit()
		if err := overlayTerm(b, t); err != nil {
			return nil, err
		}
		next, err := b.Build()
		if err != nil {
			return nil, err
		}
		if err := r.store.Create(ctx, t); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.terms[t.ProvisionalID] = t
		r.mu.Unlock()
		created = t
		return next, nil
	})
	if err != nil {
		return Created{}, fmt.Errorf("add provisional term: %w", err)
	}

	r.logger.Info("Added provisional term",
		"id", created.ProvisionalID,
		"uri", created.URI,
		"parent", vocabulary.Abbreviate(created.ParentURI),
		"proposer", actor.ID)
	return Created{ProvisionalID: created.ProvisionalID, URI: created.URI}, nil
}

// isDuplicate reports whether parentURI already has a child labelled like
// label. The term with ID skip is ignored so a relabel can keep its name.
func (r *Registry) isDuplicate(snap *vocab.Snapshot, parentURI, label string, skip int64) bool {
	folded := vocab.FoldLabel(label)

	r.mu.RLock()
	var skipURI string
	for _, t := range r.terms {
		if t.ProvisionalID == skip {
			skipURI = t.URI
			continue
		}
		if t.ParentURI == parentURI && vocab.FoldLabel(t.Label) == folded {
			r.mu.RUnlock()
			return true
		}
	}
	r.mu.RUnlock()

	for _, key := range snap.TreesContaining(parentURI) {
		for _, child := range snap.TreeByKey(key).Children(parentURI) {
			if child.URI != skipURI && vocab.FoldLabel(child.Label) == folded {
				return true
			}
		}
	}
	return false
}

// overlayTerm inserts t into every tree holding its parent, indexes it and
// records its remap.
func overlayTerm(b *vocab.Builder, t Term) error {
	node := vocab.Node{
		URI:         t.URI,
		Label:       t.Label,
		Description: t.Description,
		InSchema:    true,
		IsExplicit:  true,
		Provisional: true,
	}
	placed := 0
	for _, key := range b.Keys() {
		if !b.View(key).Contains(t.ParentURI) {
			continue
		}
		b.Tree(key).AddNodes(t.ParentURI, []vocab.Node{node})
		placed++
	}
	if placed == 0 {
		return ErrUnknownParent
	}
	b.Terms().Put(vocab.StoredTerm{URI: t.URI, Label: t.Label, Description: t.Description})
	if t.RemappedTo != "" {
		if err := b.Remaps().DefineRemapping(t.URI, t.RemappedTo); err != nil {
			return fmt.Errorf("remap %s: %w", t.URI, err)
		}
	}
	return nil
}

// Update changes the label, description, explanation, role or remap
// target of a term. The URI and parent are fixed at creation; a change
// to either fails with ErrImmutableField.
func (r *Registry) Update(ctx context.Context, actor Actor, t Term) (Term, error) {
	var updated Term
	_, err := r.publisher.Update(func(cur *vocab.Snapshot) (*vocab.Snapshot, error) {
		current, ok := r.Get(t.ProvisionalID)
		if !ok {
			return nil, ErrNotFound
		}
		if (t.URI != "" && vocabulary.Expand(t.URI) != current.URI) ||
			(t.ParentURI != "" && vocabulary.Expand(t.ParentURI) != current.ParentURI) {
			return nil, ErrImmutableField
		}
		if !actor.canModify(current) {
			return nil, ErrPermission
		}

		next := current
		next.Label = strings.TrimSpace(t.Label)
		next.Description = t.Description
		next.Explanation = t.Explanation
		next.RemappedTo = vocabulary.Expand(strings.TrimSpace(t.RemappedTo))
		if t.Role != "" {
			next.Role = t.Role
		}
		if next.Label == "" {
			return nil, errors.New("label is required")
		}
		if !next.Role.Valid() {
			return nil, fmt.Errorf("unknown role %q", next.Role)
		}
		if vocab.FoldLabel(next.Label) != vocab.FoldLabel(current.Label) &&
			r.isDuplicate(cur, next.ParentURI, next.Label, next.ProvisionalID) {
			return nil, ErrDuplicate
		}
		next.Modified = r.now()

		b := cur.Edit()
		for _, key := range cur.TreesContaining(next.URI) {
			b.Tree(key).Relabel(next.URI, next.Label, next.Description)
		}
		b.Terms().Put(vocab.StoredTerm{URI: next.URI, Label: next.Label, Description: next.Description})
		if next.RemappedTo != current.RemappedTo {
			if err := b.Remaps().DefineRemapping(next.URI, next.RemappedTo); err != nil {
				return nil, fmt.Errorf("remap %s: %w", next.URI, err)
			}
		}
		snap, err := b.Build()
		if err != nil {
			return nil, err
		}
		if err := r.store.Put(ctx, next); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.terms[next.ProvisionalID] = next
		r.mu.Unlock()
		updated = next
		return snap, nil
	})
	if err != nil {
		return Term{}, fmt.Errorf("update provisional term %d: %w", t.ProvisionalID, err)
	}

	r.logger.Info("Updated provisional term", "id", updated.ProvisionalID, "uri", updated.URI)
	return updated, nil
}

// Delete removes a batch of terms in the given order. Each term must be a
// leaf in every tree, must not be referenced, and must belong to the actor
// unless the actor is an admin; terms failing a check are reported in
// NotDeleted and the rest of the batch continues. A store or usage lookup
// failure stops the batch; terms deleted before it stay deleted. Terms
// remapped to a deleted term lose their remap target.
func (r *Registry) Delete(ctx context.Context, actor Actor, ids []int64) (DeleteResult, error) {
	result := DeleteResult{Deleted: []int64{}, NotDeleted: []NotDeleted{}}
	var batchErr error

	_, err := r.publisher.Update(func(cur *vocab.Snapshot) (*vocab.Snapshot, error) {
		b := cur.Edit()
		deleted := make(map[int64]bool)
		relinked := make(map[int64]Term)
		for _, id := range ids {
			t, ok := r.Get(id)
			if !ok || deleted[id] {
				result.NotDeleted = append(result.NotDeleted, NotDeleted{ID: id, Reason: ReasonNotFound})
				continue
			}
			reason, err := r.checkDelete(ctx, b, actor, t, deleted)
			if err != nil {
				batchErr = err
				break
			}
			if reason != "" {
				result.NotDeleted = append(result.NotDeleted, NotDeleted{ID: id, Reason: reason})
				continue
			}
			if err := r.store.Delete(ctx, id); err != nil {
				batchErr = err
				break
			}
			if err := r.unlinkRemaps(ctx, t.URI, deleted, relinked); err != nil {
				batchErr = err
			}

			for _, key := range b.Keys() {
				if b.View(key).Contains(t.URI) {
					b.Tree(key).RemoveNode(t.URI)
				}
			}
			b.Terms().Remove(t.URI)
			b.Remaps().RemoveReferences(t.URI)
			deleted[id] = true
			delete(relinked, id)
			result.Deleted = append(result.Deleted, id)
			if batchErr != nil {
				break
			}
		}
		if len(result.Deleted) == 0 {
			return nil, nil
		}
		next, err := b.Build()
		if err != nil {
			result.Deleted = []int64{}
			return nil, err
		}

		r.mu.Lock()
		for id, t := range relinked {
			r.terms[id] = t
		}
		for id := range deleted {
			delete(r.terms, id)
		}
		r.mu.Unlock()
		return next, nil
	})
	if err == nil {
		err = batchErr
	}
	if err != nil {
		return result, fmt.Errorf("delete provisional terms: %w", err)
	}

	if len(result.Deleted) > 0 {
		r.logger.Info("Deleted provisional terms",
			"deleted", len(result.Deleted),
			"kept", len(result.NotDeleted),
			"actor", actor.ID)
	}
	return result, nil
}

// unlinkRemaps clears the stored remap target of every surviving term that
// points at uri. Cleared terms are collected in relinked.
func (r *Registry) unlinkRemaps(ctx context.Context, uri string, deleted map[int64]bool, relinked map[int64]Term) error {
	r.mu.RLock()
	var refs []Term
	for id, t := range r.terms {
		if deleted[id] {
			continue
		}
		if pending, ok := relinked[id]; ok {
			t = pending
		}
		if t.RemappedTo == uri {
			refs = append(refs, t)
		}
	}
	r.mu.RUnlock()

	for _, t := range refs {
		t.RemappedTo = ""
		t.Modified = r.now()
		if err := r.store.Put(ctx, t); err != nil {
			return err
		}
		relinked[t.ProvisionalID] = t
	}
	return nil
}

// checkDelete returns the reason t cannot be deleted, or "" if it can.
// Terms in deleted were removed earlier in the same batch.
func (r *Registry) checkDelete(ctx context.Context, b *vocab.Builder, actor Actor, t Term, deleted map[int64]bool) (string, error) {
	if !actor.canModify(t) {
		return ReasonNoPermission, nil
	}
	for _, key := range b.Keys() {
		tree := b.View(key)
		if tree.Contains(t.URI) && !tree.IsLeaf(t.URI) {
			return ReasonNotLeaf, nil
		}
	}
	r.mu.RLock()
	for id, other := range r.terms {
		if other.ParentURI == t.URI && !deleted[id] {
			r.mu.RUnlock()
			return ReasonNotLeaf, nil
		}
	}
	r.mu.RUnlock()

	used, err := r.usage.TermUsed(ctx, t.URI)
	if err != nil {
		return "", fmt.Errorf("check usage of %s: %w", t.URI, err)
	}
	if used {
		return ReasonTermUsed, nil
	}
	held, err := r.usage.InHoldingBay(ctx, t.URI)
	if err != nil {
		return "", fmt.Errorf("check holding bay for %s: %w", t.URI, err)
	}
	if held {
		return ReasonInHoldingBay, nil
	}
	return "", nil
}

// Overlay returns base with every provisional term applied, parents before
// children. Terms whose parent is missing from base are skipped with a
// warning.
func (r *Registry) Overlay(base *vocab.Snapshot) (*vocab.Snapshot, error) {
	b := base.Edit()
	for _, t := range r.List() {
		if err := overlayTerm(b, t); err != nil {
			r.logger.Warn("Skipping provisional term",
				"id", t.ProvisionalID,
				"uri", t.URI,
				"parent", vocabulary.Abbreviate(t.ParentURI),
				"error", err)
		}
	}
	next, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("overlay provisional terms: %w", err)
	}
	return next, nil
}

// Reload overlays the provisional terms onto a freshly loaded base
// snapshot and publishes the result.
func (r *Registry) Reload(base *vocab.Snapshot) (*vocab.Snapshot, error) {
	return r.publisher.Update(func(*vocab.Snapshot) (*vocab.Snapshot, error) {
		return r.Overlay(base)
	})
}
