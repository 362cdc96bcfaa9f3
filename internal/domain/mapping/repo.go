package mapping

import "context"

// Repository persists the mapping data model. Save methods upsert: a zero
// ID inserts and fills in the generated id, a non-zero ID updates all
// mutable fields including retirement. Point lookups return (nil, nil)
// when no row matches.
type Repository interface {
	SaveSource(ctx context.Context, source *Source) error
	GetSource(ctx context.Context, id int64) (*Source, error)
	GetSourceByUUID(ctx context.Context, uuid string) (*Source, error)
	GetSourceByName(ctx context.Context, name string) (*Source, error)
	SearchSources(ctx context.Context, criteria SourceCriteria) ([]*Source, error)

	SaveTermMapping(ctx context.Context, tm *TermMapping) error
	GetTermMapping(ctx context.Context, id int64) (*TermMapping, error)
	GetTermMappingByUUID(ctx context.Context, uuid string) (*TermMapping, error)
	// GetActiveTermMapping finds the unretired mapping at (source name, code).
	GetActiveTermMapping(ctx context.Context, sourceName, code string) (*TermMapping, error)
	// GetTermMappingByCode finds the mapping at (source name, code), retired
	// or not. (source_id, code) is unique, so at most one row matches.
	GetTermMappingByCode(ctx context.Context, sourceName, code string) (*TermMapping, error)
	SearchTermMappings(ctx context.Context, criteria TermMappingCriteria) ([]*TermMapping, error)

	SaveSet(ctx context.Context, set *Set) error
	GetSet(ctx context.Context, id int64) (*Set, error)
	GetSetByUUID(ctx context.Context, uuid string) (*Set, error)
	SearchSets(ctx context.Context, criteria SetCriteria) ([]*Set, error)

	SaveSetMember(ctx context.Context, member *SetMember) error
	GetSetMemberByUUID(ctx context.Context, uuid string) (*SetMember, error)
	// ListSetMembers returns members of a set ordered by sort weight
	// descending, nulls last.
	ListSetMembers(ctx context.Context, setID int64, mode RetiredMode, first, max int) ([]*SetMember, error)
}
