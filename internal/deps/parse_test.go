package deps

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestParseBlockedBy(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []int
	}{
		{
			name: "single blocker",
			body: "Some intro\n**Blocked by:** #10\nMore text",
			want: []int{10},
		},
		{
			name: "multiple blockers in order",
			body: "**Blocked by:** #10, #15, #3",
			want: []int{10, 15, 3},
		},
		{
			name: "case insensitive",
			body: "**blocked BY:** #7",
			want: []int{7},
		},
		{
			name: "leading whitespace",
			body: "   **Blocked by:** #4",
			want: []int{4},
		},
		{
			name: "no declaration",
			body: "Just a description mentioning #99 casually",
			want: []int{},
		},
		{
			name: "empty body",
			body: "",
			want: []int{},
		},
		{
			name: "declaration with no refs",
			body: "**Blocked by:** none",
			want: []int{},
		},
		{
			name: "strike-through blockers skipped",
			body: "**Blocked by:** ~~#10~~, #15",
			want: []int{15},
		},
		{
			name: "all struck through",
			body: "**Blocked by:** ~~#10~~, ~~#15~~",
			want: []int{},
		},
		{
			name: "only first matching line counts",
			body: "**Blocked by:** #1\n**Blocked by:** #2",
			want: []int{1},
		},
		{
			name: "refs elsewhere in line",
			body: "**Blocked by:** depends on #12 and also #34",
			want: []int{12, 34},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBlockedBy(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseBlockedBy(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestParseBlockedByIdempotent(t *testing.T) {
	// Parsing a body, rendering the result back as a blocker line, and
	// parsing again must give the same numbers.
	body := "**Blocked by:** #10, ~~#5~~, #15"
	first := ParseBlockedBy(body)

	refs := make([]string, len(first))
	for i, n := range first {
		refs[i] = fmt.Sprintf("#%d", n)
	}
	rendered := "**Blocked by:** " + strings.Join(refs, ", ")

	second := ParseBlockedBy(rendered)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reparse of rendered output = %v, want %v", second, first)
	}
}

func TestParseBlockerCSV(t *testing.T) {
	tests := []struct {
		csv  string
		want []int
	}{
		{"", []int{}},
		{"   ", []int{}},
		{"10,15", []int{10, 15}},
		{" 10 , 15 ", []int{10, 15}},
		{"10,garbage,15", []int{10, 15}},
		{"0,-3,5", []int{5}},
	}

	for _, tt := range tests {
		if got := ParseBlockerCSV(tt.csv); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseBlockerCSV(%q) = %v, want %v", tt.csv, got, tt.want)
		}
	}
}

func TestFormatBlockerCSVRoundTrip(t *testing.T) {
	blockers := []int{10, 15, 3}
	csv := FormatBlockerCSV(blockers)
	if csv != "10,15,3" {
		t.Errorf("FormatBlockerCSV = %q, want 10,15,3", csv)
	}
	if got := ParseBlockerCSV(csv); !reflect.DeepEqual(got, blockers) {
		t.Errorf("round trip = %v, want %v", got, blockers)
	}

	if FormatBlockerCSV(nil) != "" {
		t.Error("expected empty CSV for nil blockers")
	}
}
