// Package settings stores platform global properties. Values are read
// fresh on every use so an administrator changing a property takes effect
// without restarting the server.
package settings

// Module-scoped property keys.
const (
	ModuleID = "metadatamapping"

	PropLocalSourceUUID       = ModuleID + ".localConceptSourceUuid"
	PropSubscribedSourceUUIDs = ModuleID + ".subscribedToConceptSourceUuids"
	PropAddLocalMappings      = ModuleID + ".addLocalMappings"
)

// GlobalProperty is a single key-value configuration row.
type GlobalProperty struct {
	Property    string `json:"property"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}
