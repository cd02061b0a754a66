package models

import "testing"

func TestSplitTrailingNumeral(t *testing.T) {
	cases := []struct {
		value   string
		prefix  string
		numeral string
		ok      bool
	}{
		{"ABC0042", "ABC", "0042", true},
		{"7", "", "7", true},
		{"SKU-12", "SKU-", "12", true},
		{"NOPE", "", "", false},
		{"", "", "", false},
		{"12ABC", "", "", false},
	}
	for _, c := range cases {
		prefix, numeral, ok := splitTrailingNumeral(c.value)
		if ok != c.ok || prefix != c.prefix || numeral != c.numeral {
			t.Fatalf("split(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.value, prefix, numeral, ok, c.prefix, c.numeral, c.ok)
		}
	}
}

func TestIncrementStoredValue(t *testing.T) {
	cases := []struct {
		value string
		next  string
		ok    bool
	}{
		{"ABC0042", "ABC0043", true},
		{"7", "8", true},
		{"9", "10", true},
		{"0099", "0100", true},
		{"ABC0999", "ABC1000", true},
		// Width grows when the successor no longer fits the pad.
		{"ABC9999", "ABC10000", true},
		// Non-incrementable values come back untouched.
		{"NOPE", "NOPE", false},
		{"", "", false},
	}
	for _, c := range cases {
		next, ok := incrementStoredValue(c.value)
		if ok != c.ok || next != c.next {
			t.Fatalf("increment(%q) = (%q, %v), want (%q, %v)", c.value, next, ok, c.next, c.ok)
		}
	}
}

func TestFormatProductCode(t *testing.T) {
	cases := []struct {
		value   string
		pattern string
		want    string
	}{
		// No pattern: stored value is the code.
		{"ABC0042", "", "ABC0042"},
		// Padded pattern renders the numeric tail.
		{"7", "SKU-{num:04d}", "SKU-0007"},
		{"123", "SKU-{num:04d}", "SKU-0123"},
		{"12345", "SKU-{num:04d}", "SKU-12345"},
		{"7", "PRD-{num}", "PRD-7"},
		// The stored prefix is ignored once a pattern takes over.
		{"ABC0042", "P{num:06d}", "P000042"},
		// Pattern without a placeholder falls back to the stored value.
		{"7", "SKU-", "7"},
		// Non-numeric values cannot be patterned.
		{"NOPE", "SKU-{num:04d}", "NOPE"},
	}
	for _, c := range cases {
		got := formatProductCode(c.value, c.pattern)
		if got != c.want {
			t.Fatalf("format(%q, %q) = %q, want %q", c.value, c.pattern, got, c.want)
		}
	}
}
