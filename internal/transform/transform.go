// Package transform turns fetched log entries into output lines.
//
// Transforms form a closed set selected by name. Configuration can pick a
// transform and its parameters but never supplies code.
package transform

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

// Transform kinds.
const (
	KindJSON        = "json"
	KindJSONLabels  = "jsonLabels"
	KindRaw         = "raw"
	KindRegexStrip  = "regexStrip"
	KindRegexFilter = "regexFilter"
	KindMinSeverity = "minSeverity"
)

// Transformer maps one entry to an output line. An empty result drops the
// entry silently; an error drops it and is logged by Render.
type Transformer interface {
	Transform(e model.LogEntry) (string, error)
}

// Func adapts a function to Transformer.
type Func func(e model.LogEntry) (string, error)

// Transform calls f(e).
func (f Func) Transform(e model.LogEntry) (string, error) { return f(e) }

// Kinds lists the registered transform names.
func Kinds() []string {
	return []string{KindJSON, KindJSONLabels, KindRaw, KindRegexStrip, KindRegexFilter, KindMinSeverity}
}

// New returns the transformer spec selects. Unknown kinds and bad parameters
// are configuration errors.
func New(spec model.TransformSpec) (Transformer, error) {
	switch spec.Kind {
	case KindJSON:
		return Func(jsonLine), nil
	case KindJSONLabels:
		return Func(jsonWithLabels), nil
	case KindRaw:
		return Func(func(e model.LogEntry) (string, error) { return e.Line, nil }), nil
	case KindRegexStrip:
		return newRegexStrip(spec.Pattern, spec.Replacement)
	case KindRegexFilter:
		return newRegexFilter(spec.Pattern)
	case KindMinSeverity:
		return newMinSeverity(spec.Level)
	case "":
		return nil, fmt.Errorf("transform: kind is required (one of %s): %w", strings.Join(Kinds(), ", "), model.ErrConfig)
	default:
		return nil, fmt.Errorf("transform: unknown kind %q (one of %s): %w", spec.Kind, strings.Join(Kinds(), ", "), model.ErrConfig)
	}
}
