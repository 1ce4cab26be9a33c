// Package merge combines label partitions from one log-query response into a
// single stream ordered by timestamp.
package merge

import "github.com/tinytelemetry/lotus-export/internal/model"

// Partitions performs a k-way merge of parts, each already sorted ascending by
// timestamp. When fronts tie, the partition with the lowest index wins, so
// identical inputs always give identical output.
//
// Partitions drains parts: every Values slice is empty on return.
func Partitions(parts []model.LabelPartition) []model.LogEntry {
	total := 0
	for i := range parts {
		total += len(parts[i].Values)
	}
	out := make([]model.LogEntry, 0, total)

	for {
		lowest := -1
		for i := range parts {
			if len(parts[i].Values) == 0 {
				continue
			}
			// Fixed-width timestamps: string order is numeric order.
			if lowest < 0 || parts[i].Values[0].Timestamp < parts[lowest].Values[0].Timestamp {
				lowest = i
			}
		}
		if lowest < 0 {
			return out
		}

		v := parts[lowest].Values[0]
		parts[lowest].Values = parts[lowest].Values[1:]
		out = append(out, model.LogEntry{
			Timestamp: v.Timestamp,
			Line:      v.Line,
			Labels:    parts[lowest].Labels,
		})
	}
}
