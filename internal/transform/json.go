package transform

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/valyala/fastjson"
)

// Some upstream proxies log raw bytes of user agents as \xNN sequences, which
// is not a valid JSON escape.
var hexEscape = regexp.MustCompile(`\\x[a-f0-9]{2}`)

var parsers fastjson.ParserPool

func cleanJSON(line string) string {
	return hexEscape.ReplaceAllString(line, "")
}

// jsonLine strips \xNN artifacts and checks that what is left is JSON. The
// cleaned text is emitted as is, without re-encoding.
func jsonLine(e model.LogEntry) (string, error) {
	line := cleanJSON(e.Line)
	if err := fastjson.Validate(line); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	return line, nil
}

// jsonWithLabels cleans the line like jsonLine and adds the stream labels as
// a "labels" object. Only JSON objects can carry labels.
func jsonWithLabels(e model.LogEntry) (string, error) {
	line := cleanJSON(e.Line)

	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.Parse(line)
	if err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return "", errors.New("json line is not an object")
	}

	keys := make([]string, 0, len(e.Labels))
	for k := range e.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var a fastjson.Arena
	labels := a.NewObject()
	for _, k := range keys {
		labels.Set(k, a.NewString(e.Labels[k]))
	}
	v.Set("labels", labels)
	return string(v.MarshalTo(nil)), nil
}
