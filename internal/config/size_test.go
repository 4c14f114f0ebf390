package config

import (
	"strconv"
	"testing"
)

func TestParseByteSizeUnits(t *testing.T) {
	units := map[string]uint64{
		"b": 1,
		"k": 1024,
		"m": 1024 * 1024,
		"g": 1024 * 1024 * 1024,
		"t": 1024 * 1024 * 1024 * 1024,
	}

	for suffix, multiplier := range units {
		for _, n := range []uint64{1, 7, 500} {
			for _, s := range []string{suffix, string(suffix[0] - 'a' + 'A')} {
				raw := strconv.FormatUint(n, 10) + s
				if got := ParseByteSize(raw); got != n*multiplier {
					t.Fatalf("ParseByteSize(%q) = %d, want %d", raw, got, n*multiplier)
				}
			}
		}
	}
}

func TestParseByteSizeFallbacks(t *testing.T) {
	testCases := []struct {
		raw  string
		want uint64
	}{
		{"1073741824", 1073741824},
		{"10x", 10},
		{"garbage", DefaultCleanerMaxSize},
		{"0", DefaultCleanerMaxSize},
		{"0G", DefaultCleanerMaxSize},
		{"0b", DefaultCleanerMaxSize},
		{"G", DefaultCleanerMaxSize},
		{"-5G", DefaultCleanerMaxSize},
		{"", DefaultCleanerMaxSize},
		{"99999999999T", DefaultCleanerMaxSize},
		{" 2G ", 2 * 1024 * 1024 * 1024},
	}

	for _, tc := range testCases {
		if got := ParseByteSize(tc.raw); got != tc.want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestDefaultCleanerMaxSizeValue(t *testing.T) {
	if DefaultCleanerMaxSize != 536870912000 {
		t.Fatalf("unexpected default %d", DefaultCleanerMaxSize)
	}
}
