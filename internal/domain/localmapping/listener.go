package localmapping

import (
	"context"
	"errors"

	"github.com/ehr/metadata-mapping/internal/domain/concept"
)

// The synchronizer subscribes to concept lifecycle events. Each hook runs
// inside the transaction of the concept operation that raised it, so a
// sync failure rolls the whole operation back. An unconfigured local
// source is the exception: the feature is simply inactive, and concept
// lifecycle operations must not fail because of it.

var _ concept.Listener = (*Synchronizer)(nil)

// ConceptSaved drives an existing mapping toward the concept's current
// state. It never creates a mapping: that is an explicit policy decision
// made at export time or by the backfill, not a side effect of saving.
func (s *Synchronizer) ConceptSaved(ctx context.Context, c *concept.Concept) error {
	s.metrics.RecordSyncEvent("saved")
	if c.Retired {
		return s.ignoreUnconfigured(s.MarkLocalMappingRetired(ctx, c))
	}
	return s.ignoreUnconfigured(s.MarkLocalMappingUnretired(ctx, c))
}

func (s *Synchronizer) ConceptRetired(ctx context.Context, c *concept.Concept) error {
	s.metrics.RecordSyncEvent("retired")
	return s.ignoreUnconfigured(s.MarkLocalMappingRetired(ctx, c))
}

func (s *Synchronizer) ConceptUnretired(ctx context.Context, c *concept.Concept) error {
	s.metrics.RecordSyncEvent("unretired")
	return s.ignoreUnconfigured(s.MarkLocalMappingUnretired(ctx, c))
}

func (s *Synchronizer) ConceptPurged(ctx context.Context, c *concept.Concept) error {
	s.metrics.RecordSyncEvent("purged")
	return s.ignoreUnconfigured(s.PurgeLocalMapping(ctx, c))
}

func (s *Synchronizer) ignoreUnconfigured(err error) error {
	if errors.Is(err, ErrLocalSourceNotConfigured) {
		s.logger.Debug().Msg("local source not configured, skipping mapping sync")
		return nil
	}
	return err
}
