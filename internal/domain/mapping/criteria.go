package mapping

import "github.com/ehr/metadata-mapping/internal/platform/metadata"

// Search criteria are value objects built once per search. Every filter
// field is optional; the zero value means "no filter". Filters are always
// conjunctive.

// SourceCriteria filters source searches.
type SourceCriteria struct {
	Name        string
	IncludeAll  bool
	FirstResult int
	MaxResults  int
}

// SourceCriteriaBuilder builds a SourceCriteria.
type SourceCriteriaBuilder struct{ c SourceCriteria }

func NewSourceCriteriaBuilder() *SourceCriteriaBuilder { return &SourceCriteriaBuilder{} }

func (b *SourceCriteriaBuilder) Name(name string) *SourceCriteriaBuilder {
	b.c.Name = name
	return b
}

func (b *SourceCriteriaBuilder) IncludeAll(include bool) *SourceCriteriaBuilder {
	b.c.IncludeAll = include
	return b
}

func (b *SourceCriteriaBuilder) Page(first, max int) *SourceCriteriaBuilder {
	b.c.FirstResult = first
	b.c.MaxResults = max
	return b
}

func (b *SourceCriteriaBuilder) Build() SourceCriteria { return b.c }

// TermMappingCriteria filters term mapping searches.
type TermMappingCriteria struct {
	SourceUUID  string
	SourceName  string
	Code        string
	Name        string
	Referent    *metadata.Reference
	IncludeAll  bool
	FirstResult int
	MaxResults  int
}

// TermMappingCriteriaBuilder builds a TermMappingCriteria.
type TermMappingCriteriaBuilder struct{ c TermMappingCriteria }

func NewTermMappingCriteriaBuilder() *TermMappingCriteriaBuilder {
	return &TermMappingCriteriaBuilder{}
}

func (b *TermMappingCriteriaBuilder) SourceUUID(uuid string) *TermMappingCriteriaBuilder {
	b.c.SourceUUID = uuid
	return b
}

func (b *TermMappingCriteriaBuilder) SourceName(name string) *TermMappingCriteriaBuilder {
	b.c.SourceName = name
	return b
}

func (b *TermMappingCriteriaBuilder) Code(code string) *TermMappingCriteriaBuilder {
	b.c.Code = code
	return b
}

func (b *TermMappingCriteriaBuilder) Name(name string) *TermMappingCriteriaBuilder {
	b.c.Name = name
	return b
}

func (b *TermMappingCriteriaBuilder) Referent(ref metadata.Reference) *TermMappingCriteriaBuilder {
	b.c.Referent = &ref
	return b
}

func (b *TermMappingCriteriaBuilder) IncludeAll(include bool) *TermMappingCriteriaBuilder {
	b.c.IncludeAll = include
	return b
}

func (b *TermMappingCriteriaBuilder) Page(first, max int) *TermMappingCriteriaBuilder {
	b.c.FirstResult = first
	b.c.MaxResults = max
	return b
}

func (b *TermMappingCriteriaBuilder) Build() TermMappingCriteria { return b.c }

// SetCriteria filters set searches.
type SetCriteria struct {
	IncludeAll  bool
	FirstResult int
	MaxResults  int
}

// SetCriteriaBuilder builds a SetCriteria.
type SetCriteriaBuilder struct{ c SetCriteria }

func NewSetCriteriaBuilder() *SetCriteriaBuilder { return &SetCriteriaBuilder{} }

func (b *SetCriteriaBuilder) IncludeAll(include bool) *SetCriteriaBuilder {
	b.c.IncludeAll = include
	return b
}

func (b *SetCriteriaBuilder) Page(first, max int) *SetCriteriaBuilder {
	b.c.FirstResult = first
	b.c.MaxResults = max
	return b
}

func (b *SetCriteriaBuilder) Build() SetCriteria { return b.c }
