package transform

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

func entry(line string) model.LogEntry {
	return model.LogEntry{Timestamp: "0000000000000000001", Line: line, Labels: map[string]string{"app": "api"}}
}

func mustNew(t *testing.T, spec model.TransformSpec) Transformer {
	t.Helper()
	tr, err := New(spec)
	if err != nil {
		t.Fatalf("New(%+v): %v", spec, err)
	}
	return tr
}

func TestRender_IsolatesFailingLine(t *testing.T) {
	t.Parallel()

	entries := []model.LogEntry{
		entry(`{"n":1}`),
		entry(`{"n":2}`),
		entry(`{"n":3`),
		entry(`{"n":4}`),
		entry(`{"n":5}`),
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	out, stats := Render(nil, entries, mustNew(t, model.TransformSpec{Kind: KindJSON}), logger)

	want := "{\"n\":1}\n{\"n\":2}\n{\"n\":4}\n{\"n\":5}\n"
	if string(out) != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
	if stats.Written != 4 || stats.Failed != 1 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v, want 4 written, 1 failed", stats)
	}
	if !strings.Contains(logs.String(), `{\"n\":3`) {
		t.Fatalf("log does not name the raw line: %s", logs.String())
	}
}

func TestRender_EmptyResultContributesNothing(t *testing.T) {
	t.Parallel()

	drop := Func(func(e model.LogEntry) (string, error) {
		if e.Line == "skip" {
			return "", nil
		}
		return strings.ToUpper(e.Line), nil
	})

	out, stats := Render([]byte("prev\n"), []model.LogEntry{entry("a"), entry("skip"), entry("b")}, drop, nil)
	if string(out) != "prev\nA\nB\n" {
		t.Fatalf("output = %q", out)
	}
	if stats.Skipped != 1 || stats.Written != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	var total Stats
	total.Add(stats)
	total.Add(Stats{Failed: 2})
	if total != (Stats{Written: 2, Skipped: 1, Failed: 2}) {
		t.Fatalf("total = %+v", total)
	}
}

func TestJSON_StripsHexEscapes(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, model.TransformSpec{Kind: KindJSON})

	tests := []struct {
		name    string
		line    string
		want    string
		wantErr bool
	}{
		{name: "clean", line: `{"a": 1}`, want: `{"a": 1}`},
		{name: "varnish user agent", line: `{"ua":"Mozilla\x2f5.0 \xe2\x80"}`, want: `{"ua":"Mozilla5.0 "}`},
		{name: "array", line: `[1,2]`, want: `[1,2]`},
		{name: "plain text", line: `GET / 200`, wantErr: true},
		{name: "uppercase hex is not an artifact", line: `{"a":"\xAB"}`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tr.Transform(entry(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Transform(%q) = %q, want error", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transform(%q): %v", tt.line, err)
			}
			if got != tt.want {
				t.Fatalf("Transform(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestJSONLabels(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, model.TransformSpec{Kind: KindJSONLabels})

	e := model.LogEntry{Line: `{"msg":"hi\x21"}`, Labels: map[string]string{"env": "prod", "app": "api"}}
	got, err := tr.Transform(e)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	want := `{"msg":"hi","labels":{"app":"api","env":"prod"}}`
	if got != want {
		t.Fatalf("Transform = %q, want %q", got, want)
	}

	if _, err := tr.Transform(entry(`[1]`)); err == nil {
		t.Fatal("expected error for non-object json")
	}
}

func TestRegexTransforms(t *testing.T) {
	t.Parallel()

	strip := mustNew(t, model.TransformSpec{Kind: KindRegexStrip, Pattern: `token=\w+`, Replacement: "token=***"})
	got, _ := strip.Transform(entry("GET /?token=abc123 200"))
	if got != "GET /?token=*** 200" {
		t.Fatalf("regexStrip = %q", got)
	}

	remove := mustNew(t, model.TransformSpec{Kind: KindRegexStrip, Pattern: `\s*\(debug\)`})
	got, _ = remove.Transform(entry("started (debug)"))
	if got != "started" {
		t.Fatalf("regexStrip without replacement = %q", got)
	}

	filter := mustNew(t, model.TransformSpec{Kind: KindRegexFilter, Pattern: `status=5\d\d`})
	if got, _ := filter.Transform(entry("status=503")); got != "status=503" {
		t.Fatalf("regexFilter match = %q", got)
	}
	if got, _ := filter.Transform(entry("status=200")); got != "" {
		t.Fatalf("regexFilter miss = %q, want empty", got)
	}
}

func TestMinSeverity(t *testing.T) {
	t.Parallel()

	tr := mustNew(t, model.TransformSpec{Kind: KindMinSeverity, Level: "warning"})

	tests := []struct {
		line string
		keep bool
	}{
		{line: `{"level":50,"msg":"boom"}`, keep: true},
		{line: `{"level":30,"msg":"ok"}`, keep: false},
		{line: `{"level":"error"}`, keep: true},
		{line: `{"severity":"debug"}`, keep: false},
		{line: `2024-01-01 WARN disk almost full`, keep: true},
		{line: `2024-01-01 request served`, keep: false},
	}
	for _, tt := range tests {
		got, err := tr.Transform(entry(tt.line))
		if err != nil {
			t.Fatalf("Transform(%q): %v", tt.line, err)
		}
		if kept := got != ""; kept != tt.keep {
			t.Fatalf("Transform(%q) kept = %v, want %v", tt.line, kept, tt.keep)
		}
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	t.Parallel()

	specs := []model.TransformSpec{
		{},
		{Kind: "eval"},
		{Kind: KindRegexStrip},
		{Kind: KindRegexFilter, Pattern: "("},
		{Kind: KindMinSeverity},
		{Kind: KindMinSeverity, Level: "loud"},
	}
	for _, spec := range specs {
		_, err := New(spec)
		if !errors.Is(err, model.ErrConfig) {
			t.Fatalf("New(%s) err = %v, want ErrConfig", fmt.Sprintf("%+v", spec), err)
		}
	}

	for _, kind := range []string{KindJSON, KindJSONLabels, KindRaw} {
		if _, err := New(model.TransformSpec{Kind: kind}); err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
	}
}
