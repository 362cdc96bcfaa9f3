// Package metadata defines the reference model used to point at metadata
// items across the platform. A term mapping never embeds the target row; it
// stores a Reference (class name plus uuid) and resolution goes through the
// class Registry.
package metadata

// Item is implemented by every metadata type a term mapping can point at.
type Item interface {
	GetUUID() string
	IsRetired() bool
}

// Reference identifies a metadata item by registered class name and uuid.
// The zero value is the null reference.
type Reference struct {
	Class string `json:"class,omitempty"`
	UUID  string `json:"uuid,omitempty"`
}

// IsZero reports whether the reference points at nothing.
func (r Reference) IsZero() bool {
	return r.Class == "" && r.UUID == ""
}
