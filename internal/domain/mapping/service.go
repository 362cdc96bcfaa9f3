package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/metadata-mapping/internal/platform/auth"
	"github.com/ehr/metadata-mapping/internal/platform/db"
	"github.com/ehr/metadata-mapping/internal/platform/metadata"
	"github.com/ehr/metadata-mapping/internal/platform/metrics"
)

// retireCascadeChunk bounds how many set members a single page of the
// retirement cascade touches.
const retireCascadeChunk = 100

// removedFromSetReason is stamped on members retired by list-mapping diffs.
const removedFromSetReason = "removed from set"

// Service implements the mapping resolution engine.
type Service struct {
	repo     Repository
	registry *metadata.Registry
	metrics  *metrics.Metrics
	runTx    db.Runner
}

// NewService creates a new mapping service. A nil runner executes
// multi-step operations without a transaction.
func NewService(repo Repository, registry *metadata.Registry, m *metrics.Metrics, runTx db.Runner) *Service {
	if runTx == nil {
		runTx = db.Passthrough
	}
	return &Service{repo: repo, registry: registry, metrics: m, runTx: runTx}
}

func (s *Service) stampRetired(ctx context.Context, reason string) Retirement {
	now := time.Now()
	return Retirement{
		Retired:      true,
		RetiredBy:    auth.UserIDFromContext(ctx),
		DateRetired:  &now,
		RetireReason: reason,
	}
}

// -- Sources --

// SaveSource upserts a source. Plain saves never touch retirement fields.
func (s *Service) SaveSource(ctx context.Context, source *Source) (*Source, error) {
	if source == nil || source.Name == "" {
		return nil, fmt.Errorf("%w: source name is required", ErrInvalidArgument)
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

// GetSource looks up a source by id.
func (s *Service) GetSource(ctx context.Context, id int64) (*Source, error) {
	return s.repo.GetSource(ctx, id)
}

// GetSourceByUUID looks up a source by uuid.
func (s *Service) GetSourceByUUID(ctx context.Context, uuid string) (*Source, error) {
	return s.repo.GetSourceByUUID(ctx, uuid)
}

// GetSourceByName looks up the active source with the given name.
func (s *Service) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: source name is required", ErrInvalidArgument)
	}
	return s.repo.GetSourceByName(ctx, name)
}

// SearchSources lists sources matching the criteria, ordered by (name, id).
func (s *Service) SearchSources(ctx context.Context, criteria SourceCriteria) ([]*Source, error) {
	return s.repo.SearchSources(ctx, criteria)
}

// RetireSource retires a source. Term mappings owned by the source are not
// cascaded.
func (s *Service) RetireSource(ctx context.Context, source *Source, reason string) (*Source, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidArgument)
	}
	source.Retirement = s.stampRetired(ctx, reason)
	if err := s.repo.SaveSource(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// -- Term mappings --

// SaveTermMapping upserts a term mapping. A mapped reference must name a
// registered metadata class; unregistered classes are rejected with a
// ValidationError.
func (s *Service) SaveTermMapping(ctx context.Context, tm *TermMapping) (*TermMapping, error) {
	if tm == nil || tm.Code == "" {
		return nil, fmt.Errorf("%w: term mapping code is required", ErrInvalidArgument)
	}
	if tm.SourceID == 0 {
		return nil, fmt.Errorf("%w: term mapping source is required", ErrInvalidArgument)
	}
	if !tm.Reference.IsZero() && !s.registry.Supports(tm.Reference.Class) {
		return nil, &ValidationError{
			Field:   "metadataClass",
			Message: fmt.Sprintf("%q is not a mappable metadata class", tm.Reference.Class),
		}
	}
	if tm.ID == 0 {
		if tm.UUID == "" {
			tm.UUID = uuid.NewString()
		}
		tm.DateCreated = time.Now()
	}
	if err := s.repo.SaveTermMapping(ctx, tm); err != nil {
		return nil, err
	}
	return tm, nil
}

// SaveTermMappings upserts a batch of term mappings in one transaction,
// stopping on the first failure.
func (s *Service) SaveTermMappings(ctx context.Context, mappings []*TermMapping) ([]*TermMapping, error) {
	err := s.runTx(ctx, func(ctx context.Context) error {
		for _, tm := range mappings {
			if _, err := s.SaveTermMapping(ctx, tm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// GetTermMapping looks up a term mapping by uuid, retired or not.
func (s *Service) GetTermMapping(ctx context.Context, uuid string) (*TermMapping, error) {
	return s.repo.GetTermMappingByUUID(ctx, uuid)
}

// SearchTermMappings lists term mappings matching the criteria, ordered by
// (source, id) so paged iteration stays stable under concurrent writes.
func (s *Service) SearchTermMappings(ctx context.Context, criteria TermMappingCriteria) ([]*TermMapping, error) {
	return s.repo.SearchTermMappings(ctx, criteria)
}

// RetireTermMapping retires a single term mapping.
func (s *Service) RetireTermMapping(ctx context.Context, tm *TermMapping, reason string) (*TermMapping, error) {
	if tm == nil {
		return nil, fmt.Errorf("%w: term mapping is required", ErrInvalidArgument)
	}
	tm.Retirement = s.stampRetired(ctx, reason)
	if err := s.repo.SaveTermMapping(ctx, tm); err != nil {
		return nil, err
	}
	return tm, nil
}

// -- Resolution --

// GetMetadataItem resolves the item mapped at (sourceName, code). A missing
// mapping, an unmapped code, and an orphaned reference all return
// (nil, nil). A mapping whose class differs from the requested one returns
// a TypeMismatchError. Retired referents are returned; a retired mapping
// never resolves.
func (s *Service) GetMetadataItem(ctx context.Context, class, sourceName, code string) (metadata.Item, error) {
	if class == "" || sourceName == "" || code == "" {
		return nil, fmt.Errorf("%w: class, source name and code are required", ErrInvalidArgument)
	}

	tm, err := s.repo.GetActiveTermMapping(ctx, sourceName, code)
	if err != nil {
		return nil, err
	}
	if tm == nil || tm.Reference.IsZero() {
		return nil, nil
	}
	if tm.Reference.Class != class {
		s.metrics.RecordResolution(class, metrics.OutcomeMismatch)
		return nil, &metadata.TypeMismatchError{
			Expected: class,
			Actual:   tm.Reference.Class,
			UUID:     tm.Reference.UUID,
		}
	}

	item, err := s.registry.Resolve(ctx, tm.Reference)
	if err != nil {
		return nil, err
	}
	if item == nil {
		// Orphaned reference: the mapping row outlived its referent.
		s.metrics.RecordResolution(class, metrics.OutcomeOrphan)
		return nil, nil
	}
	s.metrics.RecordResolution(class, metrics.OutcomeHit)
	return item, nil
}

// GetMetadataItems resolves every active mapping of the given class within
// a source. Entries that no longer dereference are dropped silently.
func (s *Service) GetMetadataItems(ctx context.Context, class, sourceName string) ([]metadata.Item, error) {
	if class == "" || sourceName == "" {
		return nil, fmt.Errorf("%w: class and source name are required", ErrInvalidArgument)
	}

	mappings, err := s.repo.SearchTermMappings(ctx, TermMappingCriteria{SourceName: sourceName})
	if err != nil {
		return nil, err
	}

	var items []metadata.Item
	for _, tm := range mappings {
		if tm.Reference.Class != class {
			continue
		}
		item, err := s.registry.Resolve(ctx, tm.Reference)
		if err != nil {
			return nil, err
		}
		if item == nil {
			s.metrics.RecordResolution(class, metrics.OutcomeOrphan)
			continue
		}
		s.metrics.RecordResolution(class, metrics.OutcomeHit)
		items = append(items, item)
	}
	return items, nil
}

// MapMetadataItem binds a referent to (sourceName, code), creating the term
// mapping if absent and overwriting its referent fields otherwise.
func (s *Service) MapMetadataItem(ctx context.Context, ref metadata.Reference, sourceName, code string) (*TermMapping, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: referent is required", ErrInvalidArgument)
	}
	if sourceName == "" || code == "" {
		return nil, fmt.Errorf("%w: source name and code are required", ErrInvalidArgument)
	}

	source, err := s.repo.GetSourceByName(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: source %q does not exist", ErrInvalidArgument, sourceName)
	}

	// Unfiltered lookup: (source_id, code) is unique across retired rows
	// too, so a retired mapping is reused rather than shadowed by a
	// conflicting insert.
	tm, err := s.repo.GetTermMappingByCode(ctx, sourceName, code)
	if err != nil {
		return nil, err
	}
	if tm == nil {
		tm = &TermMapping{SourceID: source.ID, Code: code}
	}
	tm.Reference = ref
	return s.SaveTermMapping(ctx, tm)
}

// MapMetadataItems maps a full list of referents to (sourceName, code)
// through a set. On first use it creates the set, its members, and a term
// mapping pointing at the set. On subsequent calls it diffs the input list
// against the set's active members: members absent from the input are
// retired, new referents are added, and referents already present are left
// untouched. The term mapping and set themselves survive every call.
func (s *Service) MapMetadataItems(ctx context.Context, refs []metadata.Reference, sourceName, code string) (*TermMapping, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: at least one referent is required", ErrInvalidArgument)
	}
	if sourceName == "" || code == "" {
		return nil, fmt.Errorf("%w: source name and code are required", ErrInvalidArgument)
	}

	source, err := s.repo.GetSourceByName(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: source %q does not exist", ErrInvalidArgument, sourceName)
	}

	var result *TermMapping
	err = s.runTx(ctx, func(ctx context.Context) error {
		tm, err := s.repo.GetTermMappingByCode(ctx, sourceName, code)
		if err != nil {
			return err
		}

		if tm == nil {
			result, err = s.createSetMapping(ctx, source, code, refs)
			return err
		}

		if tm.Reference.Class != SetClass {
			return &metadata.TypeMismatchError{
				Expected: SetClass,
				Actual:   tm.Reference.Class,
				UUID:     tm.Reference.UUID,
			}
		}
		set, err := s.repo.GetSetByUUID(ctx, tm.Reference.UUID)
		if err != nil {
			return err
		}
		if set == nil {
			return fmt.Errorf("%w: term mapping %s references a missing set", ErrInvalidArgument, tm.UUID)
		}
		if err := s.diffSetMembers(ctx, set, refs); err != nil {
			return err
		}
		result = tm
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) createSetMapping(ctx context.Context, source *Source, code string, refs []metadata.Reference) (*TermMapping, error) {
	set := &Set{UUID: uuid.NewString(), DateCreated: time.Now()}
	if err := s.repo.SaveSet(ctx, set); err != nil {
		return nil, err
	}
	// Insertion order only; no sort weights are imposed here.
	for _, ref := range refs {
		member := &SetMember{
			UUID:        uuid.NewString(),
			SetID:       set.ID,
			Reference:   ref,
			DateCreated: time.Now(),
		}
		if err := s.repo.SaveSetMember(ctx, member); err != nil {
			return nil, err
		}
	}
	return s.SaveTermMapping(ctx, &TermMapping{
		SourceID:  source.ID,
		Code:      code,
		Reference: metadata.Reference{Class: SetClass, UUID: set.UUID},
	})
}

func (s *Service) diffSetMembers(ctx context.Context, set *Set, refs []metadata.Reference) error {
	members, err := s.repo.ListSetMembers(ctx, set.ID, OnlyActive, 0, 0)
	if err != nil {
		return err
	}

	existing := make(map[metadata.Reference]bool, len(members))
	desired := make(map[metadata.Reference]bool, len(refs))
	for _, ref := range refs {
		desired[ref] = true
	}

	for _, member := range members {
		existing[member.Reference] = true
		if desired[member.Reference] {
			continue
		}
		member.Retirement = s.stampRetired(ctx, removedFromSetReason)
		if err := s.repo.SaveSetMember(ctx, member); err != nil {
			return err
		}
	}

	for _, ref := range refs {
		if existing[ref] {
			continue
		}
		member := &SetMember{
			UUID:        uuid.NewString(),
			SetID:       set.ID,
			Reference:   ref,
			DateCreated: time.Now(),
		}
		if err := s.repo.SaveSetMember(ctx, member); err != nil {
			return err
		}
	}
	return nil
}

// -- Sets --

// SaveSet upserts a set.
func (s *Service) SaveSet(ctx context.Context, set *Set) (*Set, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: set is required", ErrInvalidArgument)
	}
	if set.ID == 0 {
		if set.UUID == "" {
			set.UUID = uuid.NewString()
		}
		set.DateCreated = time.Now()
	}
	if err := s.repo.SaveSet(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// GetSet looks up a set by uuid.
func (s *Service) GetSet(ctx context.Context, uuid string) (*Set, error) {
	return s.repo.GetSetByUUID(ctx, uuid)
}

// SearchSets lists sets matching the criteria.
func (s *Service) SearchSets(ctx context.Context, criteria SetCriteria) ([]*Set, error) {
	return s.repo.SearchSets(ctx, criteria)
}

// RetireSet retires a set and cascades the same retirement stamp to every
// currently-active member, in bounded pages.
func (s *Service) RetireSet(ctx context.Context, set *Set, reason string) (*Set, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: set is required", ErrInvalidArgument)
	}

	stamp := s.stampRetired(ctx, reason)
	err := s.runTx(ctx, func(ctx context.Context) error {
		set.Retirement = stamp
		if err := s.repo.SaveSet(ctx, set); err != nil {
			return err
		}
		for {
			members, err := s.repo.ListSetMembers(ctx, set.ID, OnlyActive, 0, retireCascadeChunk)
			if err != nil {
				return err
			}
			for _, member := range members {
				member.Retirement = stamp
				if err := s.repo.SaveSetMember(ctx, member); err != nil {
					return err
				}
			}
			if len(members) < retireCascadeChunk {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// -- Set members --

// SaveSetMember upserts a set member. The referent class must be
// registered.
func (s *Service) SaveSetMember(ctx context.Context, member *SetMember) (*SetMember, error) {
	if member == nil || member.SetID == 0 {
		return nil, fmt.Errorf("%w: set member with owning set is required", ErrInvalidArgument)
	}
	if !member.Reference.IsZero() && !s.registry.Supports(member.Reference.Class) {
		return nil, &ValidationError{
			Field:   "metadataClass",
			Message: fmt.Sprintf("%q is not a mappable metadata class", member.Reference.Class),
		}
	}
	if member.ID == 0 {
		if member.UUID == "" {
			member.UUID = uuid.NewString()
		}
		member.DateCreated = time.Now()
	}
	if err := s.repo.SaveSetMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// SaveSetMembers upserts a batch of set members in one transaction,
// stopping on the first failure.
func (s *Service) SaveSetMembers(ctx context.Context, members []*SetMember) ([]*SetMember, error) {
	err := s.runTx(ctx, func(ctx context.Context) error {
		for _, member := range members {
			if _, err := s.SaveSetMember(ctx, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// GetSetMember looks up a set member by uuid.
func (s *Service) GetSetMember(ctx context.Context, uuid string) (*SetMember, error) {
	return s.repo.GetSetMemberByUUID(ctx, uuid)
}

// RetireSetMember retires a single member; the owning set is untouched.
func (s *Service) RetireSetMember(ctx context.Context, member *SetMember, reason string) (*SetMember, error) {
	if member == nil {
		return nil, fmt.Errorf("%w: set member is required", ErrInvalidArgument)
	}
	member.Retirement = s.stampRetired(ctx, reason)
	if err := s.repo.SaveSetMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// GetMetadataSetMembers lists the members of the set with the given uuid,
// ordered by sort weight descending.
func (s *Service) GetMetadataSetMembers(ctx context.Context, setUUID string, mode RetiredMode, first, max int) ([]*SetMember, error) {
	set, err := s.resolveSet(ctx, setUUID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSetMembers(ctx, set.ID, mode, first, max)
}

// GetMetadataSetItems resolves the members of a set to live items of the
// given class, ordered by sort weight descending. Items are included only
// when the member record passes the retired mode AND the resolved referent
// itself is active; members that fail to dereference are dropped.
func (s *Service) GetMetadataSetItems(ctx context.Context, class, setUUID string, mode RetiredMode, first, max int) ([]metadata.Item, error) {
	if class == "" {
		return nil, fmt.Errorf("%w: class is required", ErrInvalidArgument)
	}
	set, err := s.resolveSet(ctx, setUUID)
	if err != nil {
		return nil, err
	}

	members, err := s.repo.ListSetMembers(ctx, set.ID, mode, first, max)
	if err != nil {
		return nil, err
	}

	var items []metadata.Item
	for _, member := range members {
		if member.Reference.Class != class {
			continue
		}
		item, err := s.registry.Resolve(ctx, member.Reference)
		if err != nil {
			return nil, err
		}
		if item == nil {
			s.metrics.RecordResolution(class, metrics.OutcomeOrphan)
			continue
		}
		if item.IsRetired() {
			continue
		}
		s.metrics.RecordResolution(class, metrics.OutcomeHit)
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) resolveSet(ctx context.Context, setUUID string) (*Set, error) {
	if setUUID == "" {
		return nil, fmt.Errorf("%w: set uuid is required", ErrInvalidArgument)
	}
	set, err := s.repo.GetSetByUUID(ctx, setUUID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("%w: set %q does not exist", ErrInvalidArgument, setUUID)
	}
	return set, nil
}

// GetMetadataSet resolves the set mapped at (sourceName, code). Absent or
// unmapped codes return (nil, nil); a mapping to anything other than a set
// returns a TypeMismatchError.
func (s *Service) GetMetadataSet(ctx context.Context, sourceName, code string) (*Set, error) {
	if sourceName == "" || code == "" {
		return nil, fmt.Errorf("%w: source name and code are required", ErrInvalidArgument)
	}
	tm, err := s.repo.GetActiveTermMapping(ctx, sourceName, code)
	if err != nil {
		return nil, err
	}
	if tm == nil || tm.Reference.IsZero() {
		return nil, nil
	}
	if tm.Reference.Class != SetClass {
		return nil, &metadata.TypeMismatchError{
			Expected: SetClass,
			Actual:   tm.Reference.Class,
			UUID:     tm.Reference.UUID,
		}
	}
	return s.repo.GetSetByUUID(ctx, tm.Reference.UUID)
}

// ResolveSetItem returns the set as a metadata item, used to register the
// SetClass resolver.
func (s *Service) ResolveSetItem(ctx context.Context, uuid string) (metadata.Item, error) {
	set, err := s.repo.GetSetByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, nil
	}
	return set, nil
}
