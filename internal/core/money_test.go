package core

import (
	"math"
	"testing"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 1, true},
		{"40", 40, true},
		{" 70 ", 70, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Units: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Units: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Units: -5}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestMoneyDisplay(t *testing.T) {
	if got := (Money{Units: 1250}).Display("INR"); got != "₹1,250.00" {
		t.Fatalf("expected ₹1,250.00, got %q", got)
	}
	if got := (Money{Units: 7}).Display("nope"); got != "7" {
		t.Fatalf("unknown currency should fall back to units, got %q", got)
	}
	if got := (Money{Units: math.MaxInt64}).Display("INR"); got != "₹9,223,372,036,854,775,807" {
		t.Fatalf("large amounts must not overflow, got %q", got)
	}
	if got := (Money{Units: math.MaxInt64 / 100}).Display("INR"); got != "₹92,233,720,368,547,758.00" {
		t.Fatalf("largest scalable amount, got %q", got)
	}
}
