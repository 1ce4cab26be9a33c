package transform

import (
	"log/slog"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

// Stats counts what Render did with a batch.
type Stats struct {
	Written int // lines appended to the output
	Skipped int // entries the transform returned empty for
	Failed  int // entries dropped because the transform returned an error
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Written += o.Written
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Render appends one newline-terminated line per entry to dst, in order. A
// failing entry is logged with its raw text and left out; it never stops the
// rest of the batch.
func Render(dst []byte, entries []model.LogEntry, t Transformer, logger *slog.Logger) ([]byte, Stats) {
	var stats Stats
	for _, e := range entries {
		out, err := t.Transform(e)
		if err != nil {
			stats.Failed++
			if logger != nil {
				logger.Warn("transform: line dropped", "timestamp", e.Timestamp, "line", e.Line, "error", err)
			}
			continue
		}
		if out == "" {
			stats.Skipped++
			continue
		}
		dst = append(dst, out...)
		dst = append(dst, '\n')
		stats.Written++
	}
	return dst, stats
}
