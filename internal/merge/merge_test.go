package merge

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"testing"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

func ts(n int64) string {
	return fmt.Sprintf("%019d", n)
}

func TestPartitions_Scenario(t *testing.T) {
	t.Parallel()

	parts := []model.LabelPartition{
		{Labels: map[string]string{"s": "A"}, Values: []model.Value{{Timestamp: ts(100), Line: "a1"}, {Timestamp: ts(300), Line: "a2"}}},
		{Labels: map[string]string{"s": "B"}, Values: []model.Value{{Timestamp: ts(200), Line: "b1"}}},
	}

	got := Partitions(parts)
	want := []string{"a1", "b1", "a2"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Line != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Line, want[i])
		}
	}
	if got[1].Labels["s"] != "B" {
		t.Fatalf("entry 1 labels = %v, want s=B", got[1].Labels)
	}
	for i, p := range parts {
		if len(p.Values) != 0 {
			t.Fatalf("partition %d not drained: %d values left", i, len(p.Values))
		}
	}
}

func TestPartitions_Empty(t *testing.T) {
	t.Parallel()

	got := Partitions(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("Partitions(nil) = %#v, want empty non-nil slice", got)
	}

	got = Partitions([]model.LabelPartition{{Labels: map[string]string{"a": "1"}}})
	if len(got) != 0 {
		t.Fatalf("Partitions(empty partition) len = %d, want 0", len(got))
	}
}

func TestPartitions_TieBreaksByPartitionIndex(t *testing.T) {
	t.Parallel()

	parts := []model.LabelPartition{
		{Labels: map[string]string{"p": "0"}, Values: []model.Value{{Timestamp: ts(5), Line: "p0-a"}, {Timestamp: ts(5), Line: "p0-b"}}},
		{Labels: map[string]string{"p": "1"}, Values: []model.Value{{Timestamp: ts(5), Line: "p1-a"}}},
		{Labels: map[string]string{"p": "2"}, Values: []model.Value{{Timestamp: ts(4), Line: "p2-a"}, {Timestamp: ts(5), Line: "p2-b"}}},
	}

	got := Partitions(parts)
	want := []string{"p2-a", "p0-a", "p0-b", "p1-a", "p2-b"}
	for i := range want {
		if got[i].Line != want[i] {
			t.Fatalf("order = %v, want %v", lines(got), want)
		}
	}
}

func TestPartitions_SortedPermutation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		nparts := rng.Intn(6)
		parts := make([]model.LabelPartition, nparts)
		var inputs []string
		for p := range parts {
			n := rng.Intn(20)
			stamps := make([]int64, n)
			for i := range stamps {
				stamps[i] = rng.Int63n(50)
			}
			sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
			parts[p].Labels = map[string]string{"p": fmt.Sprint(p)}
			for i, s := range stamps {
				line := fmt.Sprintf("%d/%d", p, i)
				parts[p].Values = append(parts[p].Values, model.Value{Timestamp: ts(s), Line: line})
				inputs = append(inputs, line)
			}
		}

		got := Partitions(parts)
		if len(got) != len(inputs) {
			t.Fatalf("round %d: len = %d, want %d", round, len(got), len(inputs))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp < got[i-1].Timestamp {
				t.Fatalf("round %d: not sorted at %d: %s < %s", round, i, got[i].Timestamp, got[i-1].Timestamp)
			}
			if got[i].Timestamp == got[i-1].Timestamp && partIndex(got[i]) < partIndex(got[i-1]) {
				t.Fatalf("round %d: tie at %s not broken by partition index", round, got[i].Timestamp)
			}
		}
		gotLines := lines(got)
		sort.Strings(gotLines)
		sort.Strings(inputs)
		for i := range inputs {
			if gotLines[i] != inputs[i] {
				t.Fatalf("round %d: output is not a permutation of input", round)
			}
		}
	}
}

func lines(entries []model.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Line
	}
	return out
}

func partIndex(e model.LogEntry) int {
	n, _ := strconv.Atoi(e.Labels["p"])
	return n
}
