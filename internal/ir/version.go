package ir

// Version constants for the journal format and engine.
const (
	// JournalVersion is the event journal payload version.
	JournalVersion = "1"

	// EngineVersion is the converge engine version.
	EngineVersion = "0.1.0"
)
