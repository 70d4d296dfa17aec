package ir

// Version constants for the persisted schema and engine.
const (
	// SchemaVersion is the event payload schema version.
	SchemaVersion = "1"

	// EngineVersion is the timelock engine version.
	EngineVersion = "0.1.0"
)
