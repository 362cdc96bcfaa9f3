package mapping

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/ehr/metadata-mapping/internal/platform/metadata"
	"github.com/ehr/metadata-mapping/internal/platform/metrics"
)

// mockRepo is an in-memory Repository that mirrors the ordering and
// filtering contracts of the Postgres implementation.
type mockRepo struct {
	nextID   int64
	sources  map[int64]Source
	mappings map[int64]TermMapping
	sets     map[int64]Set
	members  map[int64]SetMember
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		sources:  make(map[int64]Source),
		mappings: make(map[int64]TermMapping),
		sets:     make(map[int64]Set),
		members:  make(map[int64]SetMember),
	}
}

func (m *mockRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockRepo) SaveSource(ctx context.Context, source *Source) error {
	if source.ID == 0 {
		source.ID = m.id()
	}
	m.sources[source.ID] = *source
	return nil
}

func (m *mockRepo) GetSource(ctx context.Context, id int64) (*Source, error) {
	if s, ok := m.sources[id]; ok {
		copied := s
		return &copied, nil
	}
	return nil, nil
}

func (m *mockRepo) GetSourceByUUID(ctx context.Context, uuid string) (*Source, error) {
	for _, s := range m.sources {
		if s.UUID == uuid {
			copied := s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	var best *Source
	for _, s := range m.sources {
		if s.Name == name && !s.Retired {
			if best == nil || s.ID < best.ID {
				copied := s
				best = &copied
			}
		}
	}
	return best, nil
}

func (m *mockRepo) SearchSources(ctx context.Context, criteria SourceCriteria) ([]*Source, error) {
	var results []*Source
	for _, s := range m.sources {
		if !criteria.IncludeAll && s.Retired {
			continue
		}
		if criteria.Name != "" && s.Name != criteria.Name {
			continue
		}
		copied := s
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		return results[i].ID < results[j].ID
	})
	return page(results, criteria.FirstResult, criteria.MaxResults), nil
}

func (m *mockRepo) SaveTermMapping(ctx context.Context, tm *TermMapping) error {
	if tm.ID == 0 {
		tm.ID = m.id()
	}
	m.mappings[tm.ID] = *tm
	return nil
}

func (m *mockRepo) GetTermMapping(ctx context.Context, id int64) (*TermMapping, error) {
	if t, ok := m.mappings[id]; ok {
		copied := t
		return &copied, nil
	}
	return nil, nil
}

func (m *mockRepo) GetTermMappingByUUID(ctx context.Context, uuid string) (*TermMapping, error) {
	for _, t := range m.mappings {
		if t.UUID == uuid {
			copied := t
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) sourceName(id int64) string {
	if s, ok := m.sources[id]; ok {
		return s.Name
	}
	return ""
}

func (m *mockRepo) GetActiveTermMapping(ctx context.Context, sourceName, code string) (*TermMapping, error) {
	var best *TermMapping
	for _, t := range m.mappings {
		if t.Retired || t.Code != code || m.sourceName(t.SourceID) != sourceName {
			continue
		}
		if best == nil || t.ID < best.ID {
			copied := t
			best = &copied
		}
	}
	return best, nil
}

func (m *mockRepo) GetTermMappingByCode(ctx context.Context, sourceName, code string) (*TermMapping, error) {
	for _, t := range m.mappings {
		if t.Code == code && m.sourceName(t.SourceID) == sourceName {
			copied := t
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) SearchTermMappings(ctx context.Context, criteria TermMappingCriteria) ([]*TermMapping, error) {
	var results []*TermMapping
	for _, t := range m.mappings {
		if !criteria.IncludeAll && t.Retired {
			continue
		}
		if criteria.SourceName != "" && m.sourceName(t.SourceID) != criteria.SourceName {
			continue
		}
		if criteria.SourceUUID != "" {
			src, _ := m.GetSource(ctx, t.SourceID)
			if src == nil || src.UUID != criteria.SourceUUID {
				continue
			}
		}
		if criteria.Code != "" && t.Code != criteria.Code {
			continue
		}
		if criteria.Name != "" && t.Name != criteria.Name {
			continue
		}
		if criteria.Referent != nil && t.Reference != *criteria.Referent {
			continue
		}
		copied := t
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].SourceID != results[j].SourceID {
			return results[i].SourceID < results[j].SourceID
		}
		return results[i].ID < results[j].ID
	})
	return page(results, criteria.FirstResult, criteria.MaxResults), nil
}

func (m *mockRepo) SaveSet(ctx context.Context, set *Set) error {
	if set.ID == 0 {
		set.ID = m.id()
	}
	m.sets[set.ID] = *set
	return nil
}

func (m *mockRepo) GetSet(ctx context.Context, id int64) (*Set, error) {
	if s, ok := m.sets[id]; ok {
		copied := s
		return &copied, nil
	}
	return nil, nil
}

func (m *mockRepo) GetSetByUUID(ctx context.Context, uuid string) (*Set, error) {
	for _, s := range m.sets {
		if s.UUID == uuid {
			copied := s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) SearchSets(ctx context.Context, criteria SetCriteria) ([]*Set, error) {
	var results []*Set
	for _, s := range m.sets {
		if !criteria.IncludeAll && s.Retired {
			continue
		}
		copied := s
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return page(results, criteria.FirstResult, criteria.MaxResults), nil
}

func (m *mockRepo) SaveSetMember(ctx context.Context, member *SetMember) error {
	if member.ID == 0 {
		member.ID = m.id()
	}
	m.members[member.ID] = *member
	return nil
}

func (m *mockRepo) GetSetMemberByUUID(ctx context.Context, uuid string) (*SetMember, error) {
	for _, mem := range m.members {
		if mem.UUID == uuid {
			copied := mem
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListSetMembers(ctx context.Context, setID int64, mode RetiredMode, first, max int) ([]*SetMember, error) {
	var results []*SetMember
	for _, mem := range m.members {
		if mem.SetID != setID {
			continue
		}
		if mode != IncludeRetired && mem.Retired {
			continue
		}
		copied := mem
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		wi, wj := results[i].SortWeight, results[j].SortWeight
		switch {
		case wi != nil && wj != nil && *wi != *wj:
			return *wi > *wj
		case wi != nil && wj == nil:
			return true
		case wi == nil && wj != nil:
			return false
		}
		return results[i].ID < results[j].ID
	})
	return page(results, first, max), nil
}

func page[T any](items []T, first, max int) []T {
	if first > 0 {
		if first >= len(items) {
			return nil
		}
		items = items[first:]
	}
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items
}

// testItem is a minimal metadata item for registry resolvers.
type testItem struct {
	uuid    string
	retired bool
}

func (i *testItem) GetUUID() string { return i.uuid }
func (i *testItem) IsRetired() bool { return i.retired }

type fixture struct {
	repo      *mockRepo
	svc       *Service
	locations map[string]*testItem
	forms     map[string]*testItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMockRepo(),
		locations: make(map[string]*testItem),
		forms:     make(map[string]*testItem),
	}
	registry := metadata.NewRegistry()
	registry.Register("Location", func(ctx context.Context, uuid string) (metadata.Item, error) {
		if item, ok := f.locations[uuid]; ok {
			return item, nil
		}
		return nil, nil
	})
	registry.Register("Form", func(ctx context.Context, uuid string) (metadata.Item, error) {
		if item, ok := f.forms[uuid]; ok {
			return item, nil
		}
		return nil, nil
	})
	f.svc = NewService(f.repo, registry, metrics.New(), nil)
	registry.Register(SetClass, f.svc.ResolveSetItem)
	return f
}

func (f *fixture) mustSource(t *testing.T, name string) *Source {
	t.Helper()
	source, err := f.svc.SaveSource(context.Background(), &Source{Name: name})
	if err != nil {
		t.Fatalf("save source: %v", err)
	}
	return source
}

func (f *fixture) addLocation(uuid string) metadata.Reference {
	f.locations[uuid] = &testItem{uuid: uuid}
	return metadata.Reference{Class: "Location", UUID: uuid}
}

func TestGetMetadataItem_ResolvesMappedItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	ref := f.addLocation("loc-1")

	if _, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}

	item, err := f.svc.GetMetadataItem(ctx, "Location", "my-dict", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item == nil || item.GetUUID() != "loc-1" {
		t.Fatalf("expected loc-1, got %v", item)
	}
}

func TestGetMetadataItem_MissingMapping(t *testing.T) {
	f := newFixture(t)
	f.mustSource(t, "my-dict")

	item, err := f.svc.GetMetadataItem(context.Background(), "Location", "my-dict", "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for missing mapping, got %v", item)
	}
}

func TestGetMetadataItem_TypeMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	ref := f.addLocation("loc-1")

	if _, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}

	_, err := f.svc.GetMetadataItem(ctx, "Form", "my-dict", "42")
	var mismatch *metadata.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
	if mismatch.Expected != "Form" || mismatch.Actual != "Location" {
		t.Errorf("unexpected mismatch detail: %+v", mismatch)
	}
}

func TestGetMetadataItem_OrphanedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	ref := f.addLocation("loc-1")

	tm, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "42")
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	// Delete the referent out-of-band.
	delete(f.locations, "loc-1")

	item, err := f.svc.GetMetadataItem(ctx, "Location", "my-dict", "42")
	if err != nil {
		t.Fatalf("orphan must not error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for orphaned reference, got %v", item)
	}

	// The mapping record itself stays retrievable.
	got, err := f.svc.GetTermMapping(ctx, tm.UUID)
	if err != nil || got == nil {
		t.Fatalf("expected mapping to remain retrievable, got %v err %v", got, err)
	}
}

func TestGetMetadataItem_RetiredMappingNeverResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	ref := f.addLocation("loc-1")

	tm, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "42")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := f.svc.RetireTermMapping(ctx, tm, "obsolete"); err != nil {
		t.Fatalf("retire: %v", err)
	}

	item, err := f.svc.GetMetadataItem(ctx, "Location", "my-dict", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Fatal("retired mapping must not resolve even with an active referent")
	}
}

func TestGetMetadataItem_RetiredReferentStillReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	ref := f.addLocation("loc-1")
	f.locations["loc-1"].retired = true

	if _, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}

	item, err := f.svc.GetMetadataItem(ctx, "Location", "my-dict", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item == nil || !item.IsRetired() {
		t.Fatal("retired referent should still be returned by an active mapping")
	}
}

func TestGetMetadataItems_DropsUnresolvableEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")

	if _, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-1"), "my-dict", "1"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-2"), "my-dict", "2"); err != nil {
		t.Fatalf("map: %v", err)
	}
	delete(f.locations, "loc-2")

	items, err := f.svc.GetMetadataItems(ctx, "Location", "my-dict")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].GetUUID() != "loc-1" {
		t.Fatalf("expected only loc-1, got %v", items)
	}
}

func TestMapMetadataItem_OverwritesExistingReferent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")

	first, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-1"), "my-dict", "42")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	second, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-2"), "my-dict", "42")
	if err != nil {
		t.Fatalf("remap: %v", err)
	}

	if first.UUID != second.UUID {
		t.Error("remapping must reuse the existing term mapping")
	}
	if second.Reference.UUID != "loc-2" {
		t.Errorf("expected referent loc-2, got %s", second.Reference.UUID)
	}
}

func TestMapMetadataItem_UnknownSource(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MapMetadataItem(context.Background(), f.addLocation("loc-1"), "no-such-source", "42")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMapMetadataItem_ReusesRetiredRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")

	tm, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-1"), "my-dict", "42")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := f.svc.RetireTermMapping(ctx, tm, "obsolete"); err != nil {
		t.Fatalf("retire: %v", err)
	}

	remapped, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-2"), "my-dict", "42")
	if err != nil {
		t.Fatalf("remap: %v", err)
	}
	if remapped.ID != tm.ID {
		t.Errorf("expected the existing row reused, got id %d instead of %d", remapped.ID, tm.ID)
	}
	if remapped.Reference.UUID != "loc-2" {
		t.Errorf("expected referent loc-2, got %s", remapped.Reference.UUID)
	}

	// (source_id, code) is unique in the schema; a second row at the same
	// key would be a constraint violation on a real database.
	rows := 0
	for _, m := range f.repo.mappings {
		if m.Code == "42" {
			rows++
		}
	}
	if rows != 1 {
		t.Fatalf("expected one mapping row at the code, got %d", rows)
	}
}

func TestMapMetadataItems_ReusesRetiredSetMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")

	refs := []metadata.Reference{f.addLocation("loc-1"), f.addLocation("loc-2")}
	tm, err := f.svc.MapMetadataItems(ctx, refs, "my-dict", "forms")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := f.svc.RetireTermMapping(ctx, tm, "obsolete"); err != nil {
		t.Fatalf("retire: %v", err)
	}

	remapped, err := f.svc.MapMetadataItems(ctx,
		[]metadata.Reference{f.addLocation("loc-3")}, "my-dict", "forms")
	if err != nil {
		t.Fatalf("remap: %v", err)
	}
	if remapped.ID != tm.ID {
		t.Errorf("expected the existing row reused, got id %d instead of %d", remapped.ID, tm.ID)
	}

	rows := 0
	for _, m := range f.repo.mappings {
		if m.Code == "forms" {
			rows++
		}
	}
	if rows != 1 {
		t.Fatalf("expected one mapping row at the code, got %d", rows)
	}
}

func TestMapMetadataItems_DiffsMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	refA := f.addLocation("loc-a")
	refB := f.addLocation("loc-b")
	refC := f.addLocation("loc-c")

	tm1, err := f.svc.MapMetadataItems(ctx, []metadata.Reference{refA, refB}, "my-dict", "grp")
	if err != nil {
		t.Fatalf("first map: %v", err)
	}
	tm2, err := f.svc.MapMetadataItems(ctx, []metadata.Reference{refB, refC}, "my-dict", "grp")
	if err != nil {
		t.Fatalf("second map: %v", err)
	}

	if tm1.UUID != tm2.UUID {
		t.Error("term mapping uuid must survive list remapping")
	}
	if tm2.Reference.Class != SetClass {
		t.Fatalf("expected set reference, got %s", tm2.Reference.Class)
	}

	active, err := f.svc.GetMetadataSetMembers(ctx, tm2.Reference.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	got := make(map[string]bool)
	for _, member := range active {
		got[member.Reference.UUID] = true
	}
	if len(got) != 2 || !got["loc-b"] || !got["loc-c"] {
		t.Fatalf("expected active members {loc-b, loc-c}, got %v", got)
	}

	all, err := f.svc.GetMetadataSetMembers(ctx, tm2.Reference.UUID, IncludeRetired, 0, 0)
	if err != nil {
		t.Fatalf("list all members: %v", err)
	}
	var foundRetiredA bool
	for _, member := range all {
		if member.Reference.UUID == "loc-a" {
			foundRetiredA = true
			if !member.Retired {
				t.Error("expected loc-a member to be retired")
			}
			if member.RetireReason != removedFromSetReason {
				t.Errorf("expected reason %q, got %q", removedFromSetReason, member.RetireReason)
			}
		}
	}
	if !foundRetiredA {
		t.Error("expected loc-a member record to remain, retired")
	}
}

func TestMapMetadataItems_UntouchedMembersKeepIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	refA := f.addLocation("loc-a")
	refB := f.addLocation("loc-b")

	tm, err := f.svc.MapMetadataItems(ctx, []metadata.Reference{refA, refB}, "my-dict", "grp")
	if err != nil {
		t.Fatalf("first map: %v", err)
	}
	before, err := f.svc.GetMetadataSetMembers(ctx, tm.Reference.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	uuidOfB := ""
	for _, member := range before {
		if member.Reference.UUID == "loc-b" {
			uuidOfB = member.UUID
		}
	}

	if _, err := f.svc.MapMetadataItems(ctx, []metadata.Reference{refB}, "my-dict", "grp"); err != nil {
		t.Fatalf("second map: %v", err)
	}
	after, err := f.svc.GetMetadataSetMembers(ctx, tm.Reference.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != 1 || after[0].UUID != uuidOfB {
		t.Fatal("untouched member must keep its record identity across remapping")
	}
}

func TestMapMetadataItems_RejectsSingleItemMappingInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")
	ref := f.addLocation("loc-1")

	if _, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}

	_, err := f.svc.MapMetadataItems(ctx, []metadata.Reference{ref}, "my-dict", "42")
	var mismatch *metadata.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
}

func TestMapMetadataItems_EmptyList(t *testing.T) {
	f := newFixture(t)
	f.mustSource(t, "my-dict")

	_, err := f.svc.MapMetadataItems(context.Background(), nil, "my-dict", "grp")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRetireSet_CascadesToMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	set, err := f.svc.SaveSet(ctx, &Set{Name: "visit forms"})
	if err != nil {
		t.Fatalf("save set: %v", err)
	}
	const n = 250 // more than one cascade page
	for i := 0; i < n; i++ {
		ref := f.addLocation("loc-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i%10)))
		if _, err := f.svc.SaveSetMember(ctx, &SetMember{SetID: set.ID, Reference: ref}); err != nil {
			t.Fatalf("save member: %v", err)
		}
	}

	if _, err := f.svc.RetireSet(ctx, set, "superseded"); err != nil {
		t.Fatalf("retire set: %v", err)
	}

	active, err := f.svc.GetMetadataSetMembers(ctx, set.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active members after cascade, got %d", len(active))
	}

	all, err := f.svc.GetMetadataSetMembers(ctx, set.UUID, IncludeRetired, 0, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != n {
		t.Fatalf("expected %d members, got %d", n, len(all))
	}
	for _, member := range all {
		if !member.Retired {
			t.Fatal("expected every member retired")
		}
		if member.RetireReason != set.RetireReason ||
			member.RetiredBy != set.RetiredBy ||
			!member.DateRetired.Equal(*set.DateRetired) {
			t.Fatal("member retirement stamp must match the set's")
		}
	}
}

func TestGetMetadataSetItems_DescendingWeightOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	set, err := f.svc.SaveSet(ctx, &Set{})
	if err != nil {
		t.Fatalf("save set: %v", err)
	}
	weights := []float64{1.5, 9, 4}
	uuids := []string{"loc-low", "loc-high", "loc-mid"}
	for i, w := range weights {
		weight := w
		ref := f.addLocation(uuids[i])
		member := &SetMember{SetID: set.ID, Reference: ref, SortWeight: &weight}
		if _, err := f.svc.SaveSetMember(ctx, member); err != nil {
			t.Fatalf("save member: %v", err)
		}
	}

	items, err := f.svc.GetMetadataSetItems(ctx, "Location", set.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"loc-high", "loc-mid", "loc-low"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, item := range items {
		if item.GetUUID() != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], item.GetUUID())
		}
	}
}

func TestGetMetadataSetItems_FiltersRetiredReferents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	set, err := f.svc.SaveSet(ctx, &Set{})
	if err != nil {
		t.Fatalf("save set: %v", err)
	}
	active := f.addLocation("loc-active")
	retired := f.addLocation("loc-retired")
	f.locations["loc-retired"].retired = true
	gone := f.addLocation("loc-gone")
	for _, ref := range []metadata.Reference{active, retired, gone} {
		if _, err := f.svc.SaveSetMember(ctx, &SetMember{SetID: set.ID, Reference: ref}); err != nil {
			t.Fatalf("save member: %v", err)
		}
	}
	delete(f.locations, "loc-gone")

	items, err := f.svc.GetMetadataSetItems(ctx, "Location", set.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].GetUUID() != "loc-active" {
		t.Fatalf("expected only loc-active, got %v", items)
	}
}

func TestGetMetadataSetItems_UnresolvableSet(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetMetadataSetItems(context.Background(), "Location", "no-such-set", OnlyActive, 0, 0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSaveTermMapping_RejectsUnregisteredClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.mustSource(t, "my-dict")

	_, err := f.svc.SaveTermMapping(ctx, &TermMapping{
		SourceID:  source.ID,
		Code:      "42",
		Reference: metadata.Reference{Class: "Widget", UUID: "w-1"},
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validationErr.Field != "metadataClass" {
		t.Errorf("expected field metadataClass, got %s", validationErr.Field)
	}
}

func TestSaveTermMapping_UnmappedCodeAllowed(t *testing.T) {
	f := newFixture(t)
	source := f.mustSource(t, "my-dict")

	tm, err := f.svc.SaveTermMapping(context.Background(), &TermMapping{
		SourceID: source.ID,
		Code:     "reserved",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tm.Reference.IsZero() {
		t.Error("expected zero reference for reserved code")
	}
}

func TestSearchTermMappings_StableOrderAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "dict-b")
	f.mustSource(t, "dict-a")

	for i, code := range []string{"3", "1", "2"} {
		sourceName := "dict-a"
		if i == 0 {
			sourceName = "dict-b"
		}
		if _, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-"+code), sourceName, code); err != nil {
			t.Fatalf("map: %v", err)
		}
	}

	all, err := f.svc.SearchTermMappings(ctx, TermMappingCriteria{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.SourceID > cur.SourceID ||
			(prev.SourceID == cur.SourceID && prev.ID > cur.ID) {
			t.Fatal("results must be ordered by (source, id) ascending")
		}
	}

	firstPage, err := f.svc.SearchTermMappings(ctx, TermMappingCriteria{MaxResults: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	secondPage, err := f.svc.SearchTermMappings(ctx, TermMappingCriteria{FirstResult: 2, MaxResults: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(firstPage) != 2 || len(secondPage) != 1 {
		t.Fatalf("unexpected page sizes: %d, %d", len(firstPage), len(secondPage))
	}
	if firstPage[0].UUID == secondPage[0].UUID || firstPage[1].UUID == secondPage[0].UUID {
		t.Error("pages must not overlap")
	}
}

func TestSearchTermMappings_ConjunctiveFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "dict-a")
	f.mustSource(t, "dict-b")

	if _, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-1"), "dict-a", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-2"), "dict-b", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}

	results, err := f.svc.SearchTermMappings(ctx, TermMappingCriteria{SourceName: "dict-a", Code: "42"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Reference.UUID != "loc-1" {
		t.Fatalf("expected only dict-a's mapping, got %v", results)
	}

	byReferent, err := f.svc.SearchTermMappings(ctx, TermMappingCriteria{
		Referent: &metadata.Reference{Class: "Location", UUID: "loc-2"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byReferent) != 1 || byReferent[0].Reference.UUID != "loc-2" {
		t.Fatalf("expected only loc-2's mapping, got %v", byReferent)
	}
}

func TestRetireSource_DoesNotCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.mustSource(t, "my-dict")

	tm, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-1"), "my-dict", "42")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := f.svc.RetireSource(ctx, source, "deprecated"); err != nil {
		t.Fatalf("retire: %v", err)
	}

	got, err := f.svc.GetTermMapping(ctx, tm.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Retired {
		t.Error("retiring a source must not cascade to its term mappings")
	}
}

func TestSaveTermMappings_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.mustSource(t, "my-dict")

	saved, err := f.svc.SaveTermMappings(ctx, []*TermMapping{
		{SourceID: source.ID, Code: "1", Reference: f.addLocation("loc-1")},
		{SourceID: source.ID, Code: "2", Reference: f.addLocation("loc-2")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 saved mappings, got %d", len(saved))
	}
	for _, tm := range saved {
		if tm.ID == 0 || tm.UUID == "" {
			t.Error("saved mapping must carry identity")
		}
	}

	_, err = f.svc.SaveTermMappings(ctx, []*TermMapping{
		{SourceID: source.ID, Code: "3", Reference: f.addLocation("loc-3")},
		{SourceID: source.ID, Code: "4", Reference: metadata.Reference{Class: "Widget", UUID: "w-1"}},
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError from second item, got %v", err)
	}
}

func TestSaveSetMembers_Batch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	set, err := f.svc.SaveSet(ctx, &Set{Name: "order sets"})
	if err != nil {
		t.Fatalf("save set: %v", err)
	}
	saved, err := f.svc.SaveSetMembers(ctx, []*SetMember{
		{SetID: set.ID, Reference: f.addLocation("loc-1")},
		{SetID: set.ID, Reference: f.addLocation("loc-2")},
		{SetID: set.ID, Reference: f.addLocation("loc-3")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("expected 3 saved members, got %d", len(saved))
	}

	members, err := f.svc.GetMetadataSetMembers(ctx, set.UUID, OnlyActive, 0, 0)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
}

func TestGetMetadataSet_ByMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")

	set, err := f.svc.SaveSet(ctx, &Set{Name: "visit forms"})
	if err != nil {
		t.Fatalf("save set: %v", err)
	}
	ref := metadata.Reference{Class: SetClass, UUID: set.UUID}
	if _, err := f.svc.MapMetadataItem(ctx, ref, "my-dict", "forms"); err != nil {
		t.Fatalf("map: %v", err)
	}

	got, err := f.svc.GetMetadataSet(ctx, "my-dict", "forms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.UUID != set.UUID {
		t.Fatalf("expected set %s, got %+v", set.UUID, got)
	}

	missing, err := f.svc.GetMetadataSet(ctx, "my-dict", "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unmapped code, got (%+v, %v)", missing, err)
	}
}

func TestGetMetadataSet_WrongClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustSource(t, "my-dict")

	if _, err := f.svc.MapMetadataItem(ctx, f.addLocation("loc-1"), "my-dict", "42"); err != nil {
		t.Fatalf("map: %v", err)
	}

	_, err := f.svc.GetMetadataSet(ctx, "my-dict", "42")
	var mismatchErr *metadata.TypeMismatchError
	if !errors.As(err, &mismatchErr) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
	if mismatchErr.Expected != SetClass || mismatchErr.Actual != "Location" {
		t.Errorf("unexpected mismatch detail: %+v", mismatchErr)
	}
}
