package tracing

// Span attribute keys.
const (
	AttrCommand = "cli.command"
	AttrArgs    = "cli.args"

	AttrSnapshotPath   = "snapshot.path"
	AttrSnapshotFormat = "snapshot.format"

	AttrDataID      = "data.id"
	AttrDataEntries = "data.entries"
	AttrDataFrozen  = "data.frozen"
	AttrDropped     = "data.dropped_types"

	AttrDiffAdded   = "diff.added"
	AttrDiffRemoved = "diff.removed"

	AttrErrorType = "error.type"
)

// Span name prefixes.
const (
	SpanPrefixCommand = "command."
	SpanPrefixPhase   = "phase."
)

// Phase names used as child spans of a command.
const (
	PhaseLoad   = "load"
	PhaseImport = "import"
	PhaseExport = "export"
	PhaseWrite  = "write"
	PhaseDiff   = "diff"
)

// Event names for span events.
const (
	EventTypesDropped = "types.dropped"
	EventConfigLoaded = "config.loaded"
)
