// Package concept models the host platform's concept dictionary: concepts,
// concept sources, reference terms, and the concept-to-term maps the local
// mapping synchronizer maintains. Concept mutations publish typed
// lifecycle events to registered listeners.
package concept

import (
	"time"

	"github.com/ehr/metadata-mapping/internal/platform/metadata"
)

// Concept is a dictionary entry. The numeric id doubles as the code of its
// auto-published local mapping.
type Concept struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	DateCreated time.Time `json:"dateCreated"`
	metadata.Retirement
}

// GetUUID implements metadata.Item.
func (c *Concept) GetUUID() string { return c.UUID }

// Source is a concept source: a namespace for reference terms. The local
// dictionary source used by the synchronizer is one of these.
type Source struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	DateCreated time.Time `json:"dateCreated"`
	metadata.Retirement
}

func (s *Source) GetUUID() string { return s.UUID }

// ReferenceTerm is a code within a concept source. Local mappings are
// reference terms whose code is the concept's numeric id.
type ReferenceTerm struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	SourceID    int64     `json:"sourceId"`
	Code        string    `json:"code"`
	DateCreated time.Time `json:"dateCreated"`
	metadata.Retirement
}

func (t *ReferenceTerm) GetUUID() string { return t.UUID }

// Map links a concept to a reference term.
type Map struct {
	ID              int64  `json:"id"`
	UUID            string `json:"uuid"`
	ConceptID       int64  `json:"conceptId"`
	ReferenceTermID int64  `json:"referenceTermId"`
}
