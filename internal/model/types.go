package model

import "time"

// LogEntry is one log line as returned by the log-query API, tagged with the
// labels of the stream it came from.
//
// Timestamp is the nanosecond epoch encoded as a fixed-width decimal string,
// so comparing two timestamps as strings gives the numeric order.
type LogEntry struct {
	Timestamp string
	Line      string
	Labels    map[string]string
}

// Value is one [timestamp, line] pair inside a LabelPartition.
type Value struct {
	Timestamp string
	Line      string
}

// LabelPartition is every value one API response returned for a single label
// set, sorted ascending by timestamp.
type LabelPartition struct {
	Labels map[string]string
	Values []Value
}

// HourWindow is one calendar hour in the exporter's location. End is exclusive.
type HourWindow struct {
	Start time.Time
	End   time.Time
	Key   string
}

// Extractor describes one export job: which logs to select, where to put them
// and how to turn each line into output text.
type Extractor struct {
	Name      string        `mapstructure:"name"`
	Prefix    string        `mapstructure:"prefix"`
	Query     string        `mapstructure:"query"`
	Transform TransformSpec `mapstructure:"transform"`
}

// DisplayName returns Name, falling back to Prefix and then Query.
func (e Extractor) DisplayName() string {
	switch {
	case e.Name != "":
		return e.Name
	case e.Prefix != "":
		return e.Prefix
	default:
		return e.Query
	}
}

// TransformSpec selects one of the registered line transforms.
type TransformSpec struct {
	Kind        string `mapstructure:"kind"`
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
	Level       string `mapstructure:"level"`
}

// ExportRecord is one ledger row describing the outcome of a window export.
type ExportRecord struct {
	RunID       string
	Extractor   string
	Key         string
	WindowStart time.Time
	WindowEnd   time.Time
	Lines       int64
	Dropped     int64
	Bytes       int64
	Duration    time.Duration
	Status      string // "exported" or "failed"
	Error       string
	FinishedAt  time.Time
}

// Export record statuses.
const (
	StatusExported = "exported"
	StatusFailed   = "failed"
)
