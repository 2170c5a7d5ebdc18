package latest

import (
	"testing"
	"time"
)

func TestSelect(t *testing.T) {
	t.Parallel()

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		candidates []Candidate
		want       string
		wantOK     bool
	}{
		{name: "empty", wantOK: false},
		{
			name:       "newest timestamp wins",
			candidates: []Candidate{{Tag: "v1.0.0", UpdatedAt: day(1)}, {Tag: "v1.1.0", UpdatedAt: day(5)}, {Tag: "v0.9.0", UpdatedAt: day(3)}},
			want:       "v1.1.0",
			wantOK:     true,
		},
		{
			name:       "timestamp beats version",
			candidates: []Candidate{{Tag: "v2.0.0", UpdatedAt: day(1)}, {Tag: "v1.9.9", UpdatedAt: day(2)}},
			want:       "v1.9.9",
			wantOK:     true,
		},
		{
			name:       "prereleases ignored",
			candidates: []Candidate{{Tag: "v1.0.0", UpdatedAt: day(1)}, {Tag: "v2.0.0-rc.1", UpdatedAt: day(9), Prerelease: true}},
			want:       "v1.0.0",
			wantOK:     true,
		},
		{
			name:       "only prereleases",
			candidates: []Candidate{{Tag: "v2.0.0-rc.1", UpdatedAt: day(9), Prerelease: true}},
			wantOK:     false,
		},
		{
			name:       "tie broken by semver not lexical order",
			candidates: []Candidate{{Tag: "v1.10.0", UpdatedAt: day(4)}, {Tag: "v1.9.0", UpdatedAt: day(4)}},
			want:       "v1.10.0",
			wantOK:     true,
		},
		{
			name:       "tie on non-version tags uses name",
			candidates: []Candidate{{Tag: "nightly-a", UpdatedAt: day(4)}, {Tag: "nightly-b", UpdatedAt: day(4)}},
			want:       "nightly-b",
			wantOK:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Select(tc.candidates)
			if ok != tc.wantOK {
				t.Fatalf("Select ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got.Tag != tc.want {
				t.Fatalf("Select = %q, want %q", got.Tag, tc.want)
			}
		})
	}
}

func TestSelectIgnoresListingOrder(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a := []Candidate{{Tag: "v1.2.0", UpdatedAt: ts}, {Tag: "1.2.1", UpdatedAt: ts}}
	b := []Candidate{a[1], a[0]}
	ga, _ := Select(a)
	gb, _ := Select(b)
	if ga.Tag != "1.2.1" || gb.Tag != ga.Tag {
		t.Fatalf("order dependent result: %q vs %q", ga.Tag, gb.Tag)
	}
}

func TestCompareTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b   string
		want   int
		wantOK bool
	}{
		{"v0.2.5", "0.2.5", 0, true},
		{"v0.2.5-rc1", "v0.2.5", -1, true},
		{"1.2", "1.1.9", 1, true},
		{"latest-build", "v1.0.0", 0, false},
	}
	for _, tc := range tests {
		got, ok := CompareTags(tc.a, tc.b)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Fatalf("CompareTags(%q, %q) = %d, %v; want %d, %v", tc.a, tc.b, got, ok, tc.want, tc.wantOK)
		}
	}
}
