package domain

// SyncMode describes how a source reads a stream
type SyncMode string

const (
	SyncModeFullRefresh SyncMode = "full_refresh"
	SyncModeIncremental SyncMode = "incremental"
)

// DestinationSyncMode describes how a destination writes a stream
type DestinationSyncMode string

const (
	DestinationSyncModeAppend      DestinationSyncMode = "append"
	DestinationSyncModeOverwrite   DestinationSyncMode = "overwrite"
	DestinationSyncModeAppendDedup DestinationSyncMode = "append_dedup"
)

// StreamDescriptor names a stream
type StreamDescriptor struct {
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// ConfiguredStream is one stream of a configured catalog.
// CursorField is the path to the cursor value inside a record's data,
// outermost field first. It may be empty.
type ConfiguredStream struct {
	Stream              StreamDescriptor    `json:"stream" yaml:"stream"`
	SyncMode            SyncMode            `json:"sync_mode,omitempty" yaml:"sync_mode,omitempty"`
	DestinationSyncMode DestinationSyncMode `json:"destination_sync_mode,omitempty" yaml:"destination_sync_mode,omitempty"`
	CursorField         []string            `json:"cursor_field,omitempty" yaml:"cursor_field,omitempty"`
	PrimaryKey          [][]string          `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// ConfiguredCatalog is the set of streams a sync run writes
type ConfiguredCatalog struct {
	Streams []ConfiguredStream `json:"streams" yaml:"streams"`
}

// StreamNames returns the names of all configured streams in catalog order
func (c *ConfiguredCatalog) StreamNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		names = append(names, s.Stream.Name)
	}
	return names
}
