// Package service assembles the vocabulary runtime: the snapshot
// publisher, the tree cache, the axiom rules bound to the current remaps,
// the provisional term registry and the evaluation memo. It is the single
// entry point used by cmd/semvocab.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360studio/semvocab/axiom"
	"github.com/c360studio/semvocab/metrics"
	"github.com/c360studio/semvocab/notify"
	"github.com/c360studio/semvocab/provisional"
	"github.com/c360studio/semvocab/schema"
	"github.com/c360studio/semvocab/storage"
	"github.com/c360studio/semvocab/treecache"
	"github.com/c360studio/semvocab/vocab"
)

// Publication reasons reported to metrics and snapshot events.
const (
	ReasonBoot        = "boot"
	ReasonReload      = "reload"
	ReasonProvisional = "provisional"
)

// ErrUnknownSchema is returned when an evaluation names a schema that is
// not loaded.
var ErrUnknownSchema = errors.New("unknown schema")

// Config configures a Service.
type Config struct {
	// SnapshotPath is the vocabulary dump loaded at boot. A missing file
	// starts the service with an empty vocabulary.
	SnapshotPath string
	// SavePath receives the overlaid snapshot on Save (empty = disabled).
	SavePath string

	AxiomDir      string
	AxiomPattern  string
	SchemaDir     string
	SchemaPattern string

	// Store persists provisional terms; defaults to an in-memory store.
	Store             *provisional.Store
	Usage             provisional.UsageChecker
	ProvisionalPrefix string

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// EvalCacheSize is the number of memoized results (0 = disabled).
	EvalCacheSize int

	Logger *slog.Logger
}

// Service serves vocabulary lookups, axiom evaluation and provisional
// term changes against one published snapshot at a time.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	notify  *notify.Notifier
	metrics *metrics.Metrics

	publisher *vocab.Publisher
	trees     *treecache.Holder
	registry  *provisional.Registry

	// rulesMu serializes rule loads and rebinding; readers use the
	// atomic pointers.
	rulesMu  sync.Mutex
	rawRules atomic.Pointer[axiom.RuleSet]
	rules    atomic.Pointer[axiom.RuleSet]

	memo *lru.Cache[string, axiom.Result]
}

// New loads schemas, the snapshot, provisional terms and axiom rules and
// publishes the first snapshot.
func New(ctx context.Context, cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = provisional.NewStore(storage.NewMemory())
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		notify:  cfg.Notifier,
		metrics: cfg.Metrics,
	}

	if cfg.EvalCacheSize > 0 {
		memo, err := lru.New[string, axiom.Result](cfg.EvalCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create evaluation cache: %w", err)
		}
		s.memo = memo
	}

	schemas, err := schema.LoadDir(cfg.SchemaDir, cfg.SchemaPattern)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	base, err := s.loadBase()
	if err != nil {
		return nil, err
	}

	s.publisher = vocab.NewPublisher(vocab.Empty(), logger)
	s.trees = treecache.NewHolder(s.publisher.Current(), schemas, logger)
	s.publisher.Subscribe(s.onSnapshot)

	s.registry, err = provisional.NewRegistry(ctx, provisional.Config{
		Publisher: s.publisher,
		Store:     cfg.Store,
		Usage:     cfg.Usage,
		URIPrefix: cfg.ProvisionalPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load provisional terms: %w", err)
	}

	if _, err := s.registry.Reload(base); err != nil {
		return nil, fmt.Errorf("publish snapshot: %w", err)
	}

	rules, err := axiom.LoadDir(cfg.AxiomDir, cfg.AxiomPattern)
	s.metrics.RuleLoad(err)
	if err != nil {
		return nil, fmt.Errorf("load axioms: %w", err)
	}
	if err := s.setRules(rules); err != nil {
		return nil, err
	}
	s.announce(ctx, ReasonBoot)

	snap := s.Snapshot()
	logger.Info("Vocabulary service ready",
		"generation", snap.Generation(),
		"trees", snap.TreeCount(),
		"terms", snap.TermCount(),
		"provisional", len(s.registry.List()),
		"rules", s.Rules().Len(),
		"schemas", len(schemas.All()))
	return s, nil
}

// loadBase reads the configured dump. A missing file yields an empty
// snapshot.
func (s *Service) loadBase() (*vocab.Snapshot, error) {
	if s.cfg.SnapshotPath == "" {
		return vocab.Empty(), nil
	}
	if _, err := os.Stat(s.cfg.SnapshotPath); errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Vocabulary dump not found, starting empty", "path", s.cfg.SnapshotPath)
		return vocab.Empty(), nil
	}
	snap, err := vocab.LoadFile(s.cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	return snap, nil
}

// onSnapshot runs on the writer goroutine for every published snapshot.
func (s *Service) onSnapshot(snap *vocab.Snapshot) {
	s.trees.OnSnapshot(snap)
	cache := s.trees.Current()
	s.metrics.TreeCacheBuilt(cache.Len(), len(cache.Dropped()))

	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()
	raw := s.rawRules.Load()
	if raw == nil {
		return
	}
	bound, err := raw.Remapped(snap.Resolve)
	if err != nil {
		s.logger.Warn("Keeping previous axiom binding",
			"generation", snap.Generation(),
			"error", err)
		return
	}
	s.rules.Store(bound)
}

// setRules binds rules to the current remaps and installs them. Nothing
// changes when binding fails.
func (s *Service) setRules(rules *axiom.RuleSet) error {
	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()
	bound, err := rules.Remapped(s.publisher.Current().Resolve)
	if err != nil {
		return fmt.Errorf("bind axioms to remaps: %w", err)
	}
	s.rawRules.Store(rules)
	s.rules.Store(bound)
	return nil
}

// announce records and broadcasts the current snapshot.
func (s *Service) announce(ctx context.Context, reason string) {
	snap := s.Snapshot()
	s.metrics.SnapshotPublished(reason, snap.TreeCount(), snap.TermCount())
	if err := s.notify.SnapshotPublished(ctx, snap, reason); err != nil {
		s.logger.Warn("Failed to publish snapshot event",
			"generation", snap.Generation(),
			"error", err)
	}
}

// Snapshot returns the current snapshot.
func (s *Service) Snapshot() *vocab.Snapshot {
	return s.publisher.Current()
}

// Trees returns the current tree cache.
func (s *Service) Trees() *treecache.Cache {
	return s.trees.Current()
}

// Schemas returns the loaded schema set.
func (s *Service) Schemas() *schema.Set {
	return s.trees.Current().Schemas()
}

// Rules returns the rule set bound to the current remaps.
func (s *Service) Rules() *axiom.RuleSet {
	return s.rules.Load()
}

// Registry returns the provisional term registry.
func (s *Service) Registry() *provisional.Registry {
	return s.registry
}

// ReloadSnapshot reads the dump again and republishes it with the
// provisional overlay. On failure the current snapshot stays published.
func (s *Service) ReloadSnapshot(ctx context.Context) error {
	base, err := s.loadBase()
	if err != nil {
		return err
	}
	if _, err := s.registry.Reload(base); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	s.announce(ctx, ReasonReload)
	return nil
}

// ReloadRules reads the axiom directory again. On failure the previous
// rules stay active.
func (s *Service) ReloadRules() error {
	rules, err := axiom.LoadDir(s.cfg.AxiomDir, s.cfg.AxiomPattern)
	s.metrics.RuleLoad(err)
	if err != nil {
		return fmt.Errorf("load axioms: %w", err)
	}
	if err := s.setRules(rules); err != nil {
		return err
	}
	s.logger.Info("Reloaded axioms", "rules", rules.Len(), "version", rules.Version())
	return nil
}

// ReloadSchemas reads the schema directory again and rebuilds the tree
// cache. On failure the previous schemas stay active.
func (s *Service) ReloadSchemas() error {
	schemas, err := schema.LoadDir(s.cfg.SchemaDir, s.cfg.SchemaPattern)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	s.trees.SetSchemas(schemas)
	if s.memo != nil {
		s.memo.Purge()
	}
	cache := s.trees.Current()
	s.metrics.TreeCacheBuilt(cache.Len(), len(cache.Dropped()))
	s.logger.Info("Reloaded schemas", "schemas", len(schemas.All()), "dropped_trees", len(cache.Dropped()))
	return nil
}

// Save writes the current snapshot, provisional terms included, to the
// configured save path.
func (s *Service) Save() error {
	if s.cfg.SavePath == "" {
		return nil
	}
	snap := s.Snapshot()
	if err := vocab.SaveFile(s.cfg.SavePath, snap); err != nil {
		return fmt.Errorf("save vocabulary: %w", err)
	}
	s.logger.Info("Saved vocabulary snapshot", "path", s.cfg.SavePath, "generation", snap.Generation())
	return nil
}
