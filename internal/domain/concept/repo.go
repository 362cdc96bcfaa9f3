package concept

import "context"

// Repository persists the concept dictionary. Save methods upsert on zero
// id; point lookups return (nil, nil) when no row matches.
type Repository interface {
	SaveConcept(ctx context.Context, c *Concept) error
	GetConcept(ctx context.Context, id int64) (*Concept, error)
	GetConceptByUUID(ctx context.Context, uuid string) (*Concept, error)
	DeleteConcept(ctx context.Context, id int64) error
	// ListConcepts pages through all concepts ordered by id ascending.
	ListConcepts(ctx context.Context, first, max int) ([]*Concept, error)
	// ListConceptsByMapping returns concepts linked to the (source name,
	// code) reference term, ordered by concept id.
	ListConceptsByMapping(ctx context.Context, sourceName, code string) ([]*Concept, error)

	SaveSource(ctx context.Context, s *Source) error
	GetSourceByUUID(ctx context.Context, uuid string) (*Source, error)
	GetSourceByName(ctx context.Context, name string) (*Source, error)

	SaveReferenceTerm(ctx context.Context, t *ReferenceTerm) error
	GetReferenceTerm(ctx context.Context, sourceID int64, code string) (*ReferenceTerm, error)
	DeleteReferenceTerm(ctx context.Context, id int64) error

	SaveMap(ctx context.Context, m *Map) error
	// HasMappingToSource reports whether the concept has any map into the
	// given source.
	HasMappingToSource(ctx context.Context, conceptID, sourceID int64) (bool, error)
	DeleteMapsForTerm(ctx context.Context, termID int64) error
}
