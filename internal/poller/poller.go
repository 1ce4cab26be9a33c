// Package poller fetches one hour window from the log-query API as a sequence
// of merged, time-ordered batches.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/loki"
	"github.com/tinytelemetry/lotus-export/internal/merge"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

// RangeQuerier is the part of the log-query client the poller needs.
type RangeQuerier interface {
	QueryRange(ctx context.Context, req loki.QueryRangeRequest) ([]model.LabelPartition, error)
}

// Window is the range and selector a poller covers. End is exclusive.
type Window struct {
	Start time.Time
	End   time.Time
	Query string
}

// Options tunes retry and paging. Zero values take the package defaults.
type Options struct {
	Attempts   int
	RetryDelay time.Duration
	PageLimit  int
	Sleep      func(time.Duration)
	Logger     *slog.Logger
}

// Poller walks a window forward with a cursor. It is not safe for concurrent
// use and cannot be restarted once exhausted.
type Poller struct {
	client RangeQuerier
	query  string
	end    string
	cursor string
	done   bool

	// Entries already consumed at the cursor timestamp, by identity. Pages
	// restart at the cursor inclusively, so these come back on every request.
	seen      map[string]int
	seenCount int
	dropFirst bool

	attempts   int
	retryDelay time.Duration
	pageLimit  int
	sleep      func(time.Duration)
	logger     *slog.Logger
}

// New returns a poller positioned at the window start.
func New(client RangeQuerier, w Window, opts Options) *Poller {
	if opts.Attempts <= 0 {
		opts.Attempts = model.DefaultFetchAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = model.DefaultFetchRetryDelay
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = model.DefaultPageLimit
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		client:     client,
		query:      w.Query,
		end:        loki.FormatNanos(w.End),
		cursor:     loki.FormatNanos(w.Start),
		seen:       map[string]int{},
		dropFirst:  true,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		pageLimit:  opts.PageLimit,
		sleep:      opts.Sleep,
		logger:     opts.Logger,
	}
}

// Cursor returns the timestamp of the last emitted entry, or the window start
// if nothing was emitted yet.
func (p *Poller) Cursor() string { return p.cursor }

// Next returns the next ascending batch. It returns io.EOF once the window is
// exhausted and on every call after that. Cancellation of ctx is honored
// before a fetch starts; a fetch that has started runs its retries to the end.
func (p *Poller) Next(ctx context.Context) ([]model.LogEntry, error) {
	if p.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := p.pageLimit
	for {
		parts, err := p.fetch(context.WithoutCancel(ctx), limit)
		if err != nil {
			return nil, err
		}

		page := merge.Partitions(parts)
		batch := p.unseen(page)
		if len(batch) > 0 {
			p.advance(batch)
			return batch, nil
		}
		if len(page) < limit {
			p.done = true
			return nil, io.EOF
		}

		// A full page of entries already emitted at the cursor cannot move
		// it. Widen the page past them.
		limit = p.seenCount + p.pageLimit
		p.logger.Debug("poller: widening page past tied timestamps",
			"cursor", p.cursor,
			"tied", p.seenCount,
			"limit", limit)
	}
}

// unseen drops the entries of page that were already emitted at the cursor
// timestamp. On the first page it also drops one entry stamped exactly at
// the window start.
func (p *Poller) unseen(page []model.LogEntry) []model.LogEntry {
	out := page
	if p.seenCount > 0 {
		left := maps.Clone(p.seen)
		out = make([]model.LogEntry, 0, len(page))
		for i, e := range page {
			if e.Timestamp != p.cursor {
				out = append(out, page[i:]...)
				break
			}
			if k := entryKey(e); left[k] > 0 {
				left[k]--
				continue
			}
			out = append(out, e)
		}
	}

	if p.dropFirst {
		p.dropFirst = false
		if len(out) > 0 && out[0].Timestamp == p.cursor {
			p.remember(out[0])
			out = out[1:]
		}
	}
	return out
}

// advance moves the cursor to the last timestamp of batch and records the
// entries emitted at it.
func (p *Poller) advance(batch []model.LogEntry) {
	last := batch[len(batch)-1].Timestamp
	if last != p.cursor {
		p.cursor = last
		clear(p.seen)
		p.seenCount = 0
	}
	for i := len(batch) - 1; i >= 0 && batch[i].Timestamp == last; i-- {
		p.remember(batch[i])
	}
}

func (p *Poller) remember(e model.LogEntry) {
	p.seen[entryKey(e)]++
	p.seenCount++
}

// entryKey identifies an entry within one timestamp by its labels and line.
func entryKey(e model.LogEntry) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(e.Labels)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Labels[k])
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteString(e.Line)
	return b.String()
}

func (p *Poller) fetch(ctx context.Context, limit int) ([]model.LabelPartition, error) {
	req := loki.QueryRangeRequest{
		Query:     p.query,
		Start:     p.cursor,
		End:       p.end,
		Limit:     limit,
		Direction: "forward",
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			p.sleep(p.retryDelay)
		}
		parts, err := p.client.QueryRange(ctx, req)
		if err == nil {
			return parts, nil
		}
		lastErr = err
		p.logger.Warn("poller: fetch failed",
			"attempt", attempt,
			"max_attempts", p.attempts,
			"start", req.Start,
			"end", req.End,
			"error", err)
	}
	return nil, fmt.Errorf("poller: %d attempts from cursor %s: %w: %w", p.attempts, p.cursor, model.ErrFetch, lastErr)
}
