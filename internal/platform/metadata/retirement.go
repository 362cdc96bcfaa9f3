package metadata

import "time"

// Retirement holds the retired flag and its audit fields. Entities embed
// it rather than redeclaring the fields.
type Retirement struct {
	Retired      bool       `json:"retired"`
	RetiredBy    string     `json:"retiredBy,omitempty"`
	DateRetired  *time.Time `json:"dateRetired,omitempty"`
	RetireReason string     `json:"retireReason,omitempty"`
}

// IsRetired implements Item.
func (r Retirement) IsRetired() bool { return r.Retired }
