package id

import (
	"testing"

	swaperr "github.com/avelar/swapflow/internal/errors"
)

func TestToBaseUnitsTruncatesExcessPrecision(t *testing.T) {
	got, err := ToBaseUnits("1.23456789", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1234567" {
		t.Fatalf("expected truncation to 1234567, got %s", got)
	}
}

func TestToBaseUnitsTable(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.5", 6, "500000"},
		{"007.25", 2, "725"},
		{"1.2e5", 6, "120000000000"},
		{"3E-7", 18, "300000000000"},
		{"1.5e0", 2, "150"},
		{".5", 1, "5"},
		{"0.000001", 6, "1"},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q, %d): %v", tc.in, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("ToBaseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestToBaseUnitsRejectsInvalidInput(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "-1", "0", "0.0", "1e", "--2", "1,5", "0.0000001e0"} {
		_, err := ToBaseUnits(in, 6)
		if err == nil {
			t.Fatalf("expected error for %q", in)
		}
		typed, ok := swaperr.As(err)
		if !ok || typed.Code != swaperr.CodeInvalidAmount {
			t.Fatalf("expected InvalidAmount for %q, got %v", in, err)
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1234567", 6, "1.234567"},
		{"1000000000000000000", 18, "1"},
		{"1", 6, "0.000001"},
		{"0", 6, "0"},
		{"725", 2, "7.25"},
	}
	for _, tc := range cases {
		got, err := FromBaseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("FromBaseUnits(%q, %d): %v", tc.in, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("FromBaseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestRoundTripReproducesTruncatedInput(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1.23456789", 6, "1.234567"},
		{"42", 8, "42"},
		{"0.1", 3, "0.1"},
		{"9.999999999", 4, "9.9999"},
	}
	for _, tc := range cases {
		base, err := ToBaseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q): %v", tc.in, err)
		}
		back, err := FromBaseUnits(base, tc.decimals)
		if err != nil {
			t.Fatalf("FromBaseUnits(%q): %v", base, err)
		}
		if back != tc.want {
			t.Fatalf("round trip of %q = %s, want %s", tc.in, back, tc.want)
		}
	}
}
