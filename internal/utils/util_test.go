package utils

import "testing"

func TestEscapeMd(t *testing.T) {
	got := EscapeMd("so_ng *with* `weird~ chars")
	want := "so\\_ng \\*with\\* \\`weird\\~ chars"
	if got != want {
		t.Fatalf("EscapeMd = %q, want %q", got, want)
	}
}

func TestPrettyTime(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{65, "1:05"},
		{600, "10:00"},
		{3600, "1:00:00"},
		{3723, "1:02:03"},
	}
	for _, tc := range tests {
		if got := PrettyTime(tc.sec); got != tc.want {
			t.Errorf("PrettyTime(%d) = %q, want %q", tc.sec, got, tc.want)
		}
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"90", 90, true},
		{" 45 ", 45, true},
		{"1:30", 90, true},
		{"1:02:03", 3723, true},
		{"30s", 30, true},
		{"2m", 120, true},
		{"1h5m30s", 3930, true},
		{"1H5M30S", 3930, true},
		{"garbage", 0, false},
		{"1:bad", 0, false},
		{"", 0, false},
		{"   ", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseDurationString(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseDurationString(%q) = %d, %v, want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestShuffleSliceKeepsElements(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8}
	ShuffleSlice(in)
	if len(in) != 8 {
		t.Fatalf("length changed: %d", len(in))
	}
	seen := map[int]bool{}
	for _, v := range in {
		seen[v] = true
	}
	for v := 1; v <= 8; v++ {
		if !seen[v] {
			t.Fatalf("element %d lost in shuffle", v)
		}
	}
}
