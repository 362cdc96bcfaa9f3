// Package mapping implements the metadata mapping engine: sources that
// namespace codes, term mappings that bind a source-qualified code to a
// metadata reference, and sets that group references into ordered
// collections.
package mapping

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/metadata-mapping/internal/platform/metadata"
)

// Retirement is the shared retired flag plus audit fields.
type Retirement = metadata.Retirement

// SetClass is the registered metadata class name for Set, allowing a term
// mapping to target a set.
const SetClass = "MetadataSet"

// ErrInvalidArgument marks caller errors: missing required inputs,
// unresolvable references, malformed mapping strings.
var ErrInvalidArgument = errors.New("invalid argument")

// ValidationError reports a field-level problem detected at save time.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RetiredMode selects whether retired records appear in listings. It
// changes result membership, never ordering.
type RetiredMode string

const (
	OnlyActive     RetiredMode = "ONLY_ACTIVE"
	IncludeRetired RetiredMode = "INCLUDE_RETIRED"
)

// Source is a namespace for mapping codes. Name uniqueness across active
// sources is a convention enforced by the store, not the engine.
type Source struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
	Retirement
}

// GetUUID implements metadata.Item.
func (s *Source) GetUUID() string { return s.UUID }

// TermMapping binds (source, code) to a metadata reference. A zero
// Reference means the code is reserved but unmapped.
type TermMapping struct {
	ID          int64              `json:"id"`
	UUID        string             `json:"uuid"`
	SourceID    int64              `json:"sourceId"`
	SourceUUID  string             `json:"sourceUuid,omitempty"`
	SourceName  string             `json:"sourceName,omitempty"`
	Code        string             `json:"code"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Reference   metadata.Reference `json:"reference"`
	DateCreated time.Time          `json:"dateCreated"`
	Retirement
}

func (t *TermMapping) GetUUID() string { return t.UUID }

// Set is a group of metadata references, itself a mappable metadata item.
// Name and description are often blank.
type Set struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
	Retirement
}

func (s *Set) GetUUID() string { return s.UUID }

// SetMember is one reference inside a set. Members with a nil SortWeight
// sort unpredictably relative to each other.
type SetMember struct {
	ID          int64              `json:"id"`
	UUID        string             `json:"uuid"`
	SetID       int64              `json:"setId"`
	Reference   metadata.Reference `json:"reference"`
	SortWeight  *float64           `json:"sortWeight,omitempty"`
	DateCreated time.Time          `json:"dateCreated"`
	Retirement
}

func (m *SetMember) GetUUID() string { return m.UUID }
