package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

// ExtractorSummary aggregates the ledger rows of one extractor.
type ExtractorSummary struct {
	Extractor      string     `json:"extractor"`
	Exported       int64      `json:"exported"`
	Failed         int64      `json:"failed"`
	Lines          int64      `json:"lines"`
	Bytes          int64      `json:"bytes"`
	LastExportedAt *time.Time `json:"last_exported_at,omitempty"`
}

// RecordExport appends one window outcome. Safe for concurrent use.
func (s *Store) RecordExport(ctx context.Context, rec model.ExportRecord) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO exports
		(run_id, extractor, object_key, window_start, window_end, lines, dropped, bytes, duration_ms, status, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Extractor, rec.Key,
		rec.WindowStart.UTC(), rec.WindowEnd.UTC(),
		rec.Lines, rec.Dropped, rec.Bytes, rec.Duration.Milliseconds(),
		rec.Status, errText, rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("duckdb: record export %s: %w", rec.Key, err)
	}
	return nil
}

// Recent returns up to limit rows, newest first. A non-empty extractor
// restricts the result to that extractor.
func (s *Store) Recent(ctx context.Context, extractor string, limit int) ([]model.ExportRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT run_id, extractor, object_key, window_start, window_end,
			lines, dropped, bytes, duration_ms, status, error, finished_at
		FROM exports
		WHERE ? = '' OR extractor = ?
		ORDER BY finished_at DESC, object_key DESC
		LIMIT ?`, extractor, extractor, limit)
	if err != nil {
		return nil, fmt.Errorf("duckdb: recent exports: %w", err)
	}
	defer rows.Close()

	var out []model.ExportRecord
	for rows.Next() {
		var (
			rec     model.ExportRecord
			durMS   int64
			errText sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Extractor, &rec.Key, &rec.WindowStart, &rec.WindowEnd,
			&rec.Lines, &rec.Dropped, &rec.Bytes, &durMS, &rec.Status, &errText, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("duckdb: scan export: %w", err)
		}
		rec.Duration = time.Duration(durMS) * time.Millisecond
		rec.Error = errText.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: recent exports: %w", err)
	}
	return out, nil
}

// Summaries returns one row per extractor, ordered by name.
func (s *Store) Summaries(ctx context.Context) ([]ExtractorSummary, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT extractor, exported, failed, lines, bytes, last_exported_at
		FROM extractor_summary ORDER BY extractor`)
	if err != nil {
		return nil, fmt.Errorf("duckdb: extractor summary: %w", err)
	}
	defer rows.Close()

	var out []ExtractorSummary
	for rows.Next() {
		var (
			sum  ExtractorSummary
			last sql.NullTime
		)
		if err := rows.Scan(&sum.Extractor, &sum.Exported, &sum.Failed, &sum.Lines, &sum.Bytes, &last); err != nil {
			return nil, fmt.Errorf("duckdb: scan summary: %w", err)
		}
		if last.Valid {
			t := last.Time
			sum.LastExportedAt = &t
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: extractor summary: %w", err)
	}
	return out, nil
}

// DeleteBefore removes rows that finished before cutoff and returns how many
// were removed.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM exports WHERE finished_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("duckdb: delete before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}
