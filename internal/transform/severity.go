package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/valyala/fastjson"
)

var severityRegex = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\b`)

var severityRank = map[string]int{
	"TRACE": 0,
	"DEBUG": 1,
	"INFO":  2,
	"WARN":  3,
	"ERROR": 4,
	"FATAL": 5,
}

// newMinSeverity keeps lines at or above level. JSON lines are judged by their
// "level" (or "severity") field, other lines by the first severity word.
func newMinSeverity(level string) (Transformer, error) {
	if level == "" {
		return nil, fmt.Errorf("transform: %s requires a level: %w", KindMinSeverity, model.ErrConfig)
	}
	if !knownSeverity(level) {
		return nil, fmt.Errorf("transform: %s: unknown level %q: %w", KindMinSeverity, level, model.ErrConfig)
	}
	floor := severityRank[normalizeSeverity(level)]
	return Func(func(e model.LogEntry) (string, error) {
		if severityRank[lineSeverity(e.Line)] < floor {
			return "", nil
		}
		return e.Line, nil
	}), nil
}

func knownSeverity(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL", "CRITICAL":
		return true
	}
	return false
}

func lineSeverity(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		p := parsers.Get()
		defer parsers.Put(p)
		if v, err := p.Parse(line); err == nil {
			for _, key := range []string{"level", "severity"} {
				f := v.Get(key)
				if f == nil {
					continue
				}
				switch f.Type() {
				case fastjson.TypeNumber:
					return pinoLevel(f.GetInt())
				case fastjson.TypeString:
					return normalizeSeverity(string(f.GetStringBytes()))
				}
			}
		}
	}
	return severityFromText(line)
}

// normalizeSeverity folds common spellings to TRACE..FATAL. Anything
// unrecognized counts as INFO.
func normalizeSeverity(severity string) string {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC":
		return "TRACE"
	case "DEBUG", "DEBU", "DBG", "DEB":
		return "DEBUG"
	case "INFO", "INFORMATION", "INF":
		return "INFO"
	case "WARN", "WARNING", "WRNG", "WRN":
		return "WARN"
	case "ERROR", "ERR", "ERRO":
		return "ERROR"
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT", "PANIC", "PNC":
		return "FATAL"
	}
	if len(normalized) >= 4 {
		switch normalized[:4] {
		case "WARN":
			return "WARN"
		case "ERRO":
			return "ERROR"
		case "DEBU":
			return "DEBUG"
		case "TRAC":
			return "TRACE"
		case "FATA", "CRIT":
			return "FATAL"
		}
	}
	return "INFO"
}

func severityFromText(message string) string {
	matches := severityRegex.FindStringSubmatch(message)
	if len(matches) < 2 {
		return "INFO"
	}
	return normalizeSeverity(matches[1])
}

// pinoLevel maps pino/bunyan numeric levels (10 trace .. 60 fatal).
func pinoLevel(level int) string {
	switch {
	case level < 20:
		return "TRACE"
	case level < 30:
		return "DEBUG"
	case level < 40:
		return "INFO"
	case level < 50:
		return "WARN"
	case level < 60:
		return "ERROR"
	default:
		return "FATAL"
	}
}
