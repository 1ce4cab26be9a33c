package transform

import (
	"fmt"
	"regexp"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

func compile(kind, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("transform: %s requires a pattern: %w", kind, model.ErrConfig)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("transform: %s pattern: %v: %w", kind, err, model.ErrConfig)
	}
	return re, nil
}

func newRegexStrip(pattern, replacement string) (Transformer, error) {
	re, err := compile(KindRegexStrip, pattern)
	if err != nil {
		return nil, err
	}
	return Func(func(e model.LogEntry) (string, error) {
		return re.ReplaceAllString(e.Line, replacement), nil
	}), nil
}

func newRegexFilter(pattern string) (Transformer, error) {
	re, err := compile(KindRegexFilter, pattern)
	if err != nil {
		return nil, err
	}
	return Func(func(e model.LogEntry) (string, error) {
		if !re.MatchString(e.Line) {
			return "", nil
		}
		return e.Line, nil
	}), nil
}
