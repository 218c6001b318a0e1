package service

import (
	"context"
	"time"

	"github.com/c360studio/semvocab/watch"
)

// Watch reloads the snapshot, axioms and schemas when their files change,
// until ctx is cancelled. A failed reload is logged and the previous state
// keeps serving.
func (s *Service) Watch(ctx context.Context, debounce time.Duration) error {
	var targets []watch.Target
	if s.cfg.SnapshotPath != "" {
		targets = append(targets, watch.Target{Kind: watch.KindSnapshot, Path: s.cfg.SnapshotPath})
	}
	if s.cfg.AxiomDir != "" {
		targets = append(targets, watch.Target{Kind: watch.KindAxioms, Path: s.cfg.AxiomDir, Pattern: s.cfg.AxiomPattern})
	}
	if s.cfg.SchemaDir != "" {
		targets = append(targets, watch.Target{Kind: watch.KindSchemas, Path: s.cfg.SchemaDir, Pattern: s.cfg.SchemaPattern})
	}
	if len(targets) == 0 {
		<-ctx.Done()
		return nil
	}

	w, err := watch.New(watch.Config{Targets: targets, Debounce: debounce, Logger: s.logger})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return err
	}
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			s.handleWatchEvent(ctx, ev)
		}
	}
}

func (s *Service) handleWatchEvent(ctx context.Context, ev watch.Event) {
	var err error
	switch ev.Kind {
	case watch.KindSnapshot:
		if ev.Removed {
			s.logger.Warn("Vocabulary dump removed, keeping current snapshot", "path", ev.Path)
			return
		}
		err = s.ReloadSnapshot(ctx)
	case watch.KindAxioms:
		err = s.ReloadRules()
	case watch.KindSchemas:
		err = s.ReloadSchemas()
	}
	if err != nil {
		s.logger.Error("Reload failed, keeping previous state",
			"kind", ev.Kind,
			"path", ev.Path,
			"error", err)
	}
}
