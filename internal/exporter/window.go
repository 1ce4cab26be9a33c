package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/compress"
	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/tinytelemetry/lotus-export/internal/poller"
	"github.com/tinytelemetry/lotus-export/internal/transform"
	"golang.org/x/sync/errgroup"
)

// WindowResult describes one window export.
type WindowResult struct {
	Key      string
	Stats    transform.Stats
	Bytes    int64 // compressed bytes handed to the store
	Duration time.Duration
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ExportWindow streams one window into the store as a single object.
//
// A producer drains the poller, renders each batch and compresses it into an
// unbuffered pipe; the store reads the other end. The producer can only be
// one batch ahead of the store. Cancellation is checked between batches; the
// store write itself is never cancelled, and an abandoned window closes the
// pipe with an error so the store discards the object.
func (e *Exporter) ExportWindow(ctx context.Context, ex model.Extractor, tr transform.Transformer, w model.HourWindow) (WindowResult, error) {
	logger := e.logger.With("extractor", ex.DisplayName(), "key", w.Key)
	res := WindowResult{Key: w.Key}
	started := e.now()
	logger.Info("exporter: processing window")

	pr, pw := io.Pipe()
	counter := &countingWriter{w: pw}
	zw, err := compress.NewWriter(counter, e.codec)
	if err != nil {
		return res, err
	}

	p := poller.New(e.client, poller.Window{Start: w.Start, End: w.End, Query: ex.Query}, e.pollerO)

	var produceErr, putErr error
	var g errgroup.Group
	g.Go(func() error {
		produceErr = e.produce(ctx, p, tr, zw, &res.Stats, logger)
		if produceErr == nil {
			if err := zw.Close(); err != nil {
				produceErr = fmt.Errorf("exporter: flush %s: %w: %w", w.Key, model.ErrWrite, err)
			}
		}
		pw.CloseWithError(produceErr)
		if produceErr != nil {
			_ = zw.Close()
		}
		return produceErr
	})
	g.Go(func() error {
		if err := e.store.Put(context.WithoutCancel(ctx), w.Key, pr); err != nil {
			putErr = fmt.Errorf("exporter: store %s: %w: %w", w.Key, model.ErrWrite, err)
		}
		// Unblocks the producer if the store stopped reading early.
		pr.CloseWithError(putErr)
		return putErr
	})
	_ = g.Wait()

	res.Bytes = counter.n
	res.Duration = e.now().Sub(started)

	switch {
	case produceErr != nil:
		return res, produceErr
	case putErr != nil:
		return res, putErr
	}
	logger.Info("exporter: persisted window",
		"took_ms", res.Duration.Milliseconds(),
		"lines", res.Stats.Written,
		"dropped", res.Stats.Failed,
		"bytes", res.Bytes)
	return res, nil
}

// produce pulls batches until the poller is exhausted and writes their
// rendered text into zw. The render buffer is reused, so at most one batch is
// held at a time.
func (e *Exporter) produce(ctx context.Context, p *poller.Poller, tr transform.Transformer, zw io.Writer, stats *transform.Stats, logger *slog.Logger) error {
	var buf []byte
	for {
		batch, err := p.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var s transform.Stats
		buf, s = transform.Render(buf[:0], batch, tr, logger)
		stats.Add(s)
		if len(buf) == 0 {
			continue
		}
		if _, err := zw.Write(buf); err != nil {
			return fmt.Errorf("exporter: write batch: %w: %w", model.ErrWrite, err)
		}
	}
}
