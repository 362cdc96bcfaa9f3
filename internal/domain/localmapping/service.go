// Package localmapping keeps every concept mapped back to this
// implementation's own "local" concept source, keyed by the concept's
// numeric id. The synchronizer reacts to concept lifecycle events and a
// batch publisher backfills mappings for existing concepts.
package localmapping

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/metadata-mapping/internal/domain/concept"
	"github.com/ehr/metadata-mapping/internal/domain/mapping"
	"github.com/ehr/metadata-mapping/internal/domain/settings"
	"github.com/ehr/metadata-mapping/internal/platform/auth"
	"github.com/ehr/metadata-mapping/internal/platform/metadata"
	"github.com/ehr/metadata-mapping/internal/platform/metrics"
)

const (
	localSourceNameSuffix        = "-dict"
	localSourceDescriptionPrefix = "Source for concepts published by "

	defaultPageSize = 1000
)

// ErrLocalSourceNotConfigured indicates the local concept source has not
// been set up, or points at a source that no longer exists. It is a
// configuration problem for the administrator, not a caller bug.
var ErrLocalSourceNotConfigured = errors.New("local concept source is not configured")

// Synchronizer maintains local-source mappings for concepts. Using it as
// a concept.Listener keeps mappings in step with concept lifecycle;
// PublishAll backfills the rest.
type Synchronizer struct {
	settings *settings.Service
	concepts *concept.Service
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	pageSize int
	implID   string
}

// NewSynchronizer builds a synchronizer over the given collaborators.
func NewSynchronizer(props *settings.Service, concepts *concept.Service, m *metrics.Metrics, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		settings: props,
		concepts: concepts,
		metrics:  m,
		logger:   logger.With().Str("component", "local-mapping").Logger(),
		pageSize: defaultPageSize,
	}
}

// SetPageSize overrides the backfill page size. Values below one are
// ignored.
func (s *Synchronizer) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

// SetImplementationID records the server's implementation id as the
// default for CreateLocalSourceFromImplementationID.
func (s *Synchronizer) SetImplementationID(id string) {
	s.implID = id
}

// CreateLocalSourceFromImplementationID creates the local concept source
// named after the implementation id and records it as the configured
// local source. An empty id falls back to the server's configured
// implementation id.
func (s *Synchronizer) CreateLocalSourceFromImplementationID(ctx context.Context, implementationID string) (*concept.Source, error) {
	if implementationID == "" {
		implementationID = s.implID
	}
	if implementationID == "" {
		return nil, fmt.Errorf("%w: implementation id is not set", mapping.ErrInvalidArgument)
	}
	source, err := s.concepts.SaveSource(ctx, &concept.Source{
		Name:        implementationID + localSourceNameSuffix,
		Description: localSourceDescriptionPrefix + implementationID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.SetLocalSource(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// SetLocalSource records the given source as the local concept source.
func (s *Synchronizer) SetLocalSource(ctx context.Context, source *concept.Source) error {
	if source == nil || source.UUID == "" {
		return fmt.Errorf("%w: concept source with a uuid is required", mapping.ErrInvalidArgument)
	}
	return s.settings.Set(ctx, settings.PropLocalSourceUUID, source.UUID)
}

// LocalSource resolves the configured local concept source. The
// configuration is read fresh on every call so administrative changes
// take effect immediately.
func (s *Synchronizer) LocalSource(ctx context.Context) (*concept.Source, error) {
	sourceUUID, err := s.settings.Get(ctx, settings.PropLocalSourceUUID)
	if err != nil {
		return nil, err
	}
	if sourceUUID == "" {
		return nil, fmt.Errorf("%w: set %s or call the create-local-source operation", ErrLocalSourceNotConfigured, settings.PropLocalSourceUUID)
	}
	source, err := s.concepts.GetSourceByUUID(ctx, sourceUUID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: concept source %s set in %s does not exist", ErrLocalSourceNotConfigured, sourceUUID, settings.PropLocalSourceUUID)
	}
	return source, nil
}

// IsLocalSourceConfigured reports whether LocalSource would succeed.
func (s *Synchronizer) IsLocalSourceConfigured(ctx context.Context) (bool, error) {
	_, err := s.LocalSource(ctx)
	if errors.Is(err, ErrLocalSourceNotConfigured) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsAddLocalMappingOnExport reports whether concepts should gain a local
// mapping when exported. Defaults to true when the property is unset.
func (s *Synchronizer) IsAddLocalMappingOnExport(ctx context.Context) (bool, error) {
	return s.settings.GetBool(ctx, settings.PropAddLocalMappings, true)
}

// EnsureLocalMapping adds a local-source mapping to the concept if one is
// absent. The mapping code is the concept's own id. A concept that has
// not been persisted yet is ignored.
func (s *Synchronizer) EnsureLocalMapping(ctx context.Context, c *concept.Concept) error {
	if c == nil || c.ID == 0 {
		return nil
	}
	localSource, err := s.LocalSource(ctx)
	if err != nil {
		return err
	}
	has, err := s.concepts.HasMappingToSource(ctx, c.ID, localSource.ID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	code := strconv.FormatInt(c.ID, 10)
	term, err := s.concepts.GetReferenceTerm(ctx, localSource.ID, code)
	if err != nil {
		return err
	}
	if term == nil {
		term = &concept.ReferenceTerm{SourceID: localSource.ID, Code: code}
	}
	// The term mirrors the concept's retirement at creation time.
	term.Retirement = retirementFor(ctx, c)
	if term, err = s.concepts.SaveReferenceTerm(ctx, term); err != nil {
		return err
	}
	return s.concepts.AddMapping(ctx, c, term)
}

// MarkLocalMappingRetired retires the concept's local reference term, if
// it exists and is still active.
func (s *Synchronizer) MarkLocalMappingRetired(ctx context.Context, c *concept.Concept) error {
	if c == nil || c.ID == 0 {
		return nil
	}
	localSource, err := s.LocalSource(ctx)
	if err != nil {
		return err
	}
	term, err := s.localTerm(ctx, localSource, c)
	if err != nil || term == nil {
		return err
	}
	if term.Retired {
		return nil
	}
	now := time.Now()
	term.Retirement = metadata.Retirement{
		Retired:      true,
		RetiredBy:    auth.UserIDFromContext(ctx),
		DateRetired:  &now,
		RetireReason: "Retired with concept: " + c.UUID,
	}
	_, err = s.concepts.SaveReferenceTerm(ctx, term)
	return err
}

// MarkLocalMappingUnretired clears retirement on the concept's local
// reference term, if it exists and is retired.
func (s *Synchronizer) MarkLocalMappingUnretired(ctx context.Context, c *concept.Concept) error {
	if c == nil || c.ID == 0 {
		return nil
	}
	localSource, err := s.LocalSource(ctx)
	if err != nil {
		return err
	}
	term, err := s.localTerm(ctx, localSource, c)
	if err != nil || term == nil {
		return err
	}
	if !term.Retired {
		return nil
	}
	term.Retirement = metadata.Retirement{}
	_, err = s.concepts.SaveReferenceTerm(ctx, term)
	return err
}

// PurgeLocalMapping hard-deletes the concept's local reference term and
// its concept maps.
func (s *Synchronizer) PurgeLocalMapping(ctx context.Context, c *concept.Concept) error {
	if c == nil || c.ID == 0 {
		return nil
	}
	localSource, err := s.LocalSource(ctx)
	if err != nil {
		return err
	}
	term, err := s.localTerm(ctx, localSource, c)
	if err != nil || term == nil {
		return err
	}
	return s.concepts.PurgeReferenceTerm(ctx, term)
}

func (s *Synchronizer) localTerm(ctx context.Context, localSource *concept.Source, c *concept.Concept) (*concept.ReferenceTerm, error) {
	return s.concepts.GetReferenceTerm(ctx, localSource.ID, strconv.FormatInt(c.ID, 10))
}

// PublishAll pages through every concept in id order and ensures each has
// a local mapping, retiring the mapping for retired concepts. A failure
// on any concept aborts the run; there is no checkpointing, rerun from
// the start after fixing the cause.
func (s *Synchronizer) PublishAll(ctx context.Context) (int, error) {
	published := 0
	for offset := 0; ; offset += s.pageSize {
		page, err := s.concepts.ListConcepts(ctx, offset, s.pageSize)
		if err != nil {
			return published, fmt.Errorf("list concepts at offset %d: %w", offset, err)
		}
		for _, c := range page {
			if err := s.EnsureLocalMapping(ctx, c); err != nil {
				return published, fmt.Errorf("publish concept %s: %w", c.UUID, err)
			}
			if c.Retired {
				if err := s.MarkLocalMappingRetired(ctx, c); err != nil {
					return published, fmt.Errorf("publish concept %s: %w", c.UUID, err)
				}
			}
			published++
			s.metrics.PublishedTotal.Inc()
		}
		s.metrics.PublishPages.Inc()
		if len(page) < s.pageSize {
			break
		}
	}
	s.logger.Info().Int("published", published).Msg("local mapping backfill complete")
	return published, nil
}

// SubscribedSources resolves the configured subscribed concept sources.
// Unknown uuids are skipped.
func (s *Synchronizer) SubscribedSources(ctx context.Context) ([]*concept.Source, error) {
	uuids, err := s.settings.GetList(ctx, settings.PropSubscribedSourceUUIDs)
	if err != nil {
		return nil, err
	}
	var sources []*concept.Source
	for _, u := range uuids {
		source, err := s.concepts.GetSourceByUUID(ctx, u)
		if err != nil {
			return nil, err
		}
		if source != nil {
			sources = append(sources, source)
		}
	}
	return sources, nil
}

// AddSubscribedSource adds a source to the subscribed set. Returns false
// when it was already subscribed.
func (s *Synchronizer) AddSubscribedSource(ctx context.Context, source *concept.Source) (bool, error) {
	if source == nil || source.UUID == "" {
		return false, fmt.Errorf("%w: concept source with a uuid is required", mapping.ErrInvalidArgument)
	}
	uuids, err := s.settings.GetList(ctx, settings.PropSubscribedSourceUUIDs)
	if err != nil {
		return false, err
	}
	for _, u := range uuids {
		if u == source.UUID {
			return false, nil
		}
	}
	uuids = append(uuids, source.UUID)
	return true, s.settings.SetList(ctx, settings.PropSubscribedSourceUUIDs, uuids)
}

// RemoveSubscribedSource removes a source from the subscribed set.
// Returns false when it was not subscribed.
func (s *Synchronizer) RemoveSubscribedSource(ctx context.Context, source *concept.Source) (bool, error) {
	if source == nil || source.UUID == "" {
		return false, fmt.Errorf("%w: concept source with a uuid is required", mapping.ErrInvalidArgument)
	}
	uuids, err := s.settings.GetList(ctx, settings.PropSubscribedSourceUUIDs)
	if err != nil {
		return false, err
	}
	kept := uuids[:0]
	removed := false
	for _, u := range uuids {
		if u == source.UUID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	if !removed {
		return false, nil
	}
	return true, s.settings.SetList(ctx, settings.PropSubscribedSourceUUIDs, kept)
}

// IsLocalConcept reports whether a concept has no mapping to any
// subscribed source, which means it originates from this implementation.
func (s *Synchronizer) IsLocalConcept(ctx context.Context, c *concept.Concept) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("%w: concept is required", mapping.ErrInvalidArgument)
	}
	sources, err := s.SubscribedSources(ctx)
	if err != nil {
		return false, err
	}
	for _, source := range sources {
		has, err := s.concepts.HasMappingToSource(ctx, c.ID, source.ID)
		if err != nil {
			return false, err
		}
		if has {
			return false, nil
		}
	}
	return true, nil
}

func retirementFor(ctx context.Context, c *concept.Concept) metadata.Retirement {
	if !c.Retired {
		return metadata.Retirement{}
	}
	now := time.Now()
	return metadata.Retirement{
		Retired:     true,
		RetiredBy:   auth.UserIDFromContext(ctx),
		DateRetired: &now,
	}
}
