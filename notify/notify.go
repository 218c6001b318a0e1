// Package notify publishes vocabulary changes to NATS: a summary event for
// every published snapshot and a graph entity for every provisional term
// change. Without a NATS client every call is a no-op.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semvocab/provisional"
	"github.com/c360studio/semvocab/vocab"
)

// Subjects.
const (
	DefaultSnapshotSubject = "semvocab.snapshot.published"
	GraphIngestSubject     = "graph.ingest.entity"
)

// Predicates for provisional term entities.
const (
	PredicateTermLabel       = "semvocab.term.label"
	PredicateTermDescription = "semvocab.term.description"
	PredicateTermParent      = "semvocab.term.parent"
	PredicateTermRole        = "semvocab.term.role"
	PredicateTermRemappedTo  = "semvocab.term.remapped_to"
	PredicateTermProposer    = "semvocab.term.proposer"
	PredicateTermDeleted     = "semvocab.term.deleted"
)

const tripleSource = "semvocab.provisional"

// StreamPublisher is the part of the NATS client used here;
// *natsclient.Client implements it.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// SnapshotEvent summarizes a published vocabulary snapshot.
type SnapshotEvent struct {
	Generation  string    `json:"generation"`
	Reason      string    `json:"reason"`
	Trees       int       `json:"trees"`
	Terms       int       `json:"terms"`
	Remaps      int       `json:"remaps"`
	PublishedAt time.Time `json:"published_at"`
}

// EntityIngestMessage is the graph ingestion message format.
type EntityIngestMessage struct {
	ID        string           `json:"id"`
	Triples   []message.Triple `json:"triples"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Notifier sends change notifications.
type Notifier struct {
	client  StreamPublisher
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Notifier. A nil client disables publishing.
func New(client StreamPublisher, subject string, logger *slog.Logger) *Notifier {
	if subject == "" {
		subject = DefaultSnapshotSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, subject: subject, logger: logger, now: time.Now}
}

// Enabled reports whether a NATS client is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.client != nil
}

// SnapshotPublished announces a new snapshot.
func (n *Notifier) SnapshotPublished(ctx context.Context, snap *vocab.Snapshot, reason string) error {
	if !n.Enabled() {
		return nil
	}
	ev := SnapshotEvent{
		Generation:  snap.Generation(),
		Reason:      reason,
		Trees:       snap.TreeCount(),
		Terms:       snap.TermCount(),
		Remaps:      len(snap.Remaps()),
		PublishedAt: n.now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal snapshot event: %w", err)
	}
	if err := n.client.PublishToStream(ctx, n.subject, data); err != nil {
		return fmt.Errorf("publish snapshot event: %w", err)
	}
	n.logger.Debug("Published snapshot event", "generation", ev.Generation, "reason", reason)
	return nil
}

// TermChanged publishes the current state of a provisional term to the
// knowledge graph.
func (n *Notifier) TermChanged(ctx context.Context, t provisional.Term) error {
	if !n.Enabled() {
		return nil
	}
	now := n.now()
	triple := func(predicate string, object any) message.Triple {
		return message.Triple{
			Subject:    TermEntityID(t.ProvisionalID),
			Predicate:  predicate,
			Object:     object,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		}
	}

	triples := []message.Triple{
		triple(PredicateTermLabel, t.Label),
		triple(PredicateTermParent, t.ParentURI),
		triple(PredicateTermRole, string(t.Role)),
	}
	if t.Description != "" {
		triples = append(triples, triple(PredicateTermDescription, t.Description))
	}
	if t.RemappedTo != "" {
		triples = append(triples, triple(PredicateTermRemappedTo, t.RemappedTo))
	}
	if t.Proposer != "" {
		triples = append(triples, triple(PredicateTermProposer, t.Proposer))
	}
	return n.ingest(ctx, TermEntityID(t.ProvisionalID), triples, now)
}

// TermDeleted marks a provisional term entity as deleted.
func (n *Notifier) TermDeleted(ctx context.Context, id int64) error {
	if !n.Enabled() {
		return nil
	}
	now := n.now()
	return n.ingest(ctx, TermEntityID(id), []message.Triple{{
		Subject:    TermEntityID(id),
		Predicate:  PredicateTermDeleted,
		Object:     true,
		Source:     tripleSource,
		Timestamp:  now,
		Confidence: 1.0,
	}}, now)
}

func (n *Notifier) ingest(ctx context.Context, id string, triples []message.Triple, now time.Time) error {
	data, err := json.Marshal(EntityIngestMessage{ID: id, Triples: triples, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("marshal term entity: %w", err)
	}
	if err := n.client.PublishToStream(ctx, GraphIngestSubject, data); err != nil {
		return fmt.Errorf("publish term entity: %w", err)
	}
	return nil
}

// TermEntityID generates a consistent entity ID for a provisional term.
// Format: semvocab.local.vocab.provisional.term.<id>
func TermEntityID(id int64) string {
	return fmt.Sprintf("semvocab.local.vocab.provisional.term.%d", id)
}
