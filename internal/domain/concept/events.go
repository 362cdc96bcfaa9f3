package concept

import "context"

// Listener receives concept lifecycle events. Events fire synchronously
// inside the transaction of the triggering operation, before it commits; a
// listener error aborts the operation.
type Listener interface {
	// ConceptSaved fires on every save, with the concept's current state.
	ConceptSaved(ctx context.Context, c *Concept) error
	// ConceptRetired fires on an explicit retire.
	ConceptRetired(ctx context.Context, c *Concept) error
	// ConceptUnretired fires on an explicit unretire.
	ConceptUnretired(ctx context.Context, c *Concept) error
	// ConceptPurged fires on a hard delete, before the row is removed.
	ConceptPurged(ctx context.Context, c *Concept) error
}
