// Package compress wraps the streaming codecs an export can be written with.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tinytelemetry/lotus-export/internal/model"
)

// Codec names.
const (
	Gzip = "gzip"
	Zstd = "zstd"
	LZ4  = "lz4"
)

// Validate reports whether codec is supported.
func Validate(codec string) error {
	switch codec {
	case Gzip, Zstd, LZ4:
		return nil
	default:
		return fmt.Errorf("compress: unsupported codec %q (gzip, zstd, lz4): %w", codec, model.ErrConfig)
	}
}

// Extension returns the file extension for codec, including the dot.
func Extension(codec string) string {
	switch codec {
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ".gz"
	}
}

// ContentType returns the MIME type stored with objects written with codec.
func ContentType(codec string) string {
	switch codec {
	case Zstd:
		return "application/zstd"
	case LZ4:
		return "application/x-lz4"
	default:
		return "application/gzip"
	}
}

// NewWriter returns a compressing writer on top of w. Close flushes the codec
// but does not close w.
func NewWriter(w io.Writer, codec string) (io.WriteCloser, error) {
	switch codec {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, Validate(codec)
	}
}

// NewReader returns a decompressing reader for data written by NewWriter.
func NewReader(r io.Reader, codec string) (io.ReadCloser, error) {
	switch codec {
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, Validate(codec)
	}
}
