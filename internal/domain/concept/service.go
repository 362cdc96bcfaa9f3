package concept

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/metadata-mapping/internal/domain/mapping"
	"github.com/ehr/metadata-mapping/internal/platform/auth"
	"github.com/ehr/metadata-mapping/internal/platform/db"
	"github.com/ehr/metadata-mapping/internal/platform/metadata"
)

// Service provides concept dictionary operations and publishes lifecycle
// events to registered listeners.
type Service struct {
	repo      Repository
	runTx     db.Runner
	listeners []Listener
}

// NewService creates a new concept service.
func NewService(repo Repository, runTx db.Runner) *Service {
	if runTx == nil {
		runTx = db.Passthrough
	}
	return &Service{repo: repo, runTx: runTx}
}

// AddListener registers a lifecycle listener. Not safe to call once the
// server is handling requests.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Service) notify(ctx context.Context, c *Concept, fn func(Listener, context.Context, *Concept) error) error {
	for _, l := range s.listeners {
		if err := fn(l, ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// SaveConcept upserts a concept and fires the saved event with the
// concept's current state.
func (s *Service) SaveConcept(ctx context.Context, c *Concept) (*Concept, error) {
	if c == nil || c.Name == "" {
		return nil, fmt.Errorf("%w: concept name is required", mapping.ErrInvalidArgument)
	}
	if c.ID == 0 {
		if c.UUID == "" {
			c.UUID = uuid.NewString()
		}
		c.DateCreated = time.Now()
	}
	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveConcept(ctx, c); err != nil {
			return err
		}
		return s.notify(ctx, c, Listener.ConceptSaved)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetConceptByID looks up a concept by its numeric id.
func (s *Service) GetConceptByID(ctx context.Context, id int64) (*Concept, error) {
	return s.repo.GetConcept(ctx, id)
}

// GetConceptByUUID looks up a concept by uuid.
func (s *Service) GetConceptByUUID(ctx context.Context, uuid string) (*Concept, error) {
	return s.repo.GetConceptByUUID(ctx, uuid)
}

// GetConcept resolves a mapping string: a bare numeric id ("42") or a
// source-qualified code ("my-dict:42"). More than one colon is malformed.
func (s *Service) GetConcept(ctx context.Context, ref string) (*Concept, error) {
	switch parts := strings.Split(ref, ":"); len(parts) {
	case 1:
		id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a concept id or source:code mapping", mapping.ErrInvalidArgument, ref)
		}
		return s.repo.GetConcept(ctx, id)
	case 2:
		return s.GetConceptByMapping(ctx, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	default:
		return nil, fmt.Errorf("%w: mapping %q has more than one colon", mapping.ErrInvalidArgument, ref)
	}
}

// GetConceptByMapping returns the concept mapped at (sourceName, code),
// preferring a non-retired concept when several share the code. When every
// mapped concept is retired, one of them is returned; which one is
// unspecified.
func (s *Service) GetConceptByMapping(ctx context.Context, sourceName, code string) (*Concept, error) {
	if sourceName == "" || code == "" {
		return nil, fmt.Errorf("%w: source name and code are required", mapping.ErrInvalidArgument)
	}
	concepts, err := s.repo.ListConceptsByMapping(ctx, sourceName, code)
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		return nil, nil
	}
	for _, c := range concepts {
		if !c.Retired {
			return c, nil
		}
	}
	return concepts[0], nil
}

// ListConcepts pages through all concepts ordered by id ascending.
func (s *Service) ListConcepts(ctx context.Context, first, max int) ([]*Concept, error) {
	if max <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive", mapping.ErrInvalidArgument)
	}
	return s.repo.ListConcepts(ctx, first, max)
}

// RetireConcept retires a concept and fires the retired event.
func (s *Service) RetireConcept(ctx context.Context, c *Concept, reason string) (*Concept, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: concept is required", mapping.ErrInvalidArgument)
	}
	now := time.Now()
	c.Retirement = metadata.Retirement{
		Retired:      true,
		RetiredBy:    auth.UserIDFromContext(ctx),
		DateRetired:  &now,
		RetireReason: reason,
	}
	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveConcept(ctx, c); err != nil {
			return err
		}
		return s.notify(ctx, c, Listener.ConceptRetired)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UnretireConcept clears a concept's retirement and fires the unretired
// event.
func (s *Service) UnretireConcept(ctx context.Context, c *Concept) (*Concept, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: concept is required", mapping.ErrInvalidArgument)
	}
	c.Retirement = metadata.Retirement{}
	err := s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveConcept(ctx, c); err != nil {
			return err
		}
		return s.notify(ctx, c, Listener.ConceptUnretired)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// PurgeConcept hard-deletes a concept. The purged event fires before the
// row is removed so listeners still see the concept's state.
func (s *Service) PurgeConcept(ctx context.Context, c *Concept) error {
	if c == nil {
		return fmt.Errorf("%w: concept is required", mapping.ErrInvalidArgument)
	}
	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.notify(ctx, c, Listener.ConceptPurged); err != nil {
			return err
		}
		return s.repo.DeleteConcept(ctx, c.ID)
	})
}

// -- Concept sources --

// SaveSource upserts a concept source.
func (s *Service) SaveSource(ctx context.Context, source *Source) (*Source, error) {
	if source == nil || source.Name == "" {
		return nil, fmt.Errorf("%w: concept source name is required", mapping.ErrInvalidArgument)
	}
	if source.ID == 0 {
		if source.UUID == "" {
			source.UUID = uuid.NewString()
		}
		source.DateCreated = time.Now()
	}
	if err := s.repo.SaveSource(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// GetSourceByUUID looks up a concept source by uuid.
func (s *Service) GetSourceByUUID(ctx context.Context, uuid string) (*Source, error) {
	return s.repo.GetSourceByUUID(ctx, uuid)
}

// GetSourceByName looks up the active concept source with the given name.
func (s *Service) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	return s.repo.GetSourceByName(ctx, name)
}

// -- Reference terms --

// GetReferenceTerm finds the reference term at (source, code), retired or
// not.
func (s *Service) GetReferenceTerm(ctx context.Context, sourceID int64, code string) (*ReferenceTerm, error) {
	return s.repo.GetReferenceTerm(ctx, sourceID, code)
}

// SaveReferenceTerm upserts a reference term.
func (s *Service) SaveReferenceTerm(ctx context.Context, t *ReferenceTerm) (*ReferenceTerm, error) {
	if t == nil || t.SourceID == 0 || t.Code == "" {
		return nil, fmt.Errorf("%w: reference term source and code are required", mapping.ErrInvalidArgument)
	}
	if t.ID == 0 {
		if t.UUID == "" {
			t.UUID = uuid.NewString()
		}
		t.DateCreated = time.Now()
	}
	if err := s.repo.SaveReferenceTerm(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// PurgeReferenceTerm deletes a reference term and every concept map that
// points at it.
func (s *Service) PurgeReferenceTerm(ctx context.Context, t *ReferenceTerm) error {
	if t == nil {
		return fmt.Errorf("%w: reference term is required", mapping.ErrInvalidArgument)
	}
	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteMapsForTerm(ctx, t.ID); err != nil {
			return err
		}
		return s.repo.DeleteReferenceTerm(ctx, t.ID)
	})
}

// AddMapping links a concept to a reference term.
func (s *Service) AddMapping(ctx context.Context, c *Concept, t *ReferenceTerm) error {
	if c == nil || t == nil {
		return fmt.Errorf("%w: concept and reference term are required", mapping.ErrInvalidArgument)
	}
	return s.repo.SaveMap(ctx, &Map{
		UUID:            uuid.NewString(),
		ConceptID:       c.ID,
		ReferenceTermID: t.ID,
	})
}

// HasMappingToSource reports whether the concept already maps into the
// given source.
func (s *Service) HasMappingToSource(ctx context.Context, conceptID, sourceID int64) (bool, error) {
	return s.repo.HasMappingToSource(ctx, conceptID, sourceID)
}
