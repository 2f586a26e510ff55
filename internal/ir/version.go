package ir

const (
	// SchemaVersion is the layout version of the persisted session blob.
	// Saved state with any other version is discarded on load.
	SchemaVersion = 1

	// EngineVersion is the kitchensync engine version.
	EngineVersion = "0.1.0"
)
