package model

import (
	"context"
	"errors"
	"io"
)

// Error classes shared by the exporter packages. Callers wrap them with
// context and match them with errors.Is.
var (
	ErrConfig  = errors.New("configuration error")
	ErrListing = errors.New("object listing failed")
	ErrFetch   = errors.New("log fetch failed")
	ErrWrite   = errors.New("object write failed")
)

// ObjectStore is the storage contract used by the planner and the exporter.
type ObjectStore interface {
	// List returns every existing key that starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Put streams r into key. If r fails, no object may become visible.
	Put(ctx context.Context, key string, r io.Reader) error
}

// ExportLedger records window outcomes. Implementations must be safe for
// concurrent use.
type ExportLedger interface {
	RecordExport(ctx context.Context, rec ExportRecord) error
}
