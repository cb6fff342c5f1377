package main

import (
	"flag"
	"fmt"
	"strings"
	"testing"

	"campuschain/internal/core"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("transfer TX1: %w", core.ErrUnconfirmed), "Do not resend"},
		{fmt.Errorf("%w: dial", core.ErrLedgerUnavailable), "safe to retry"},
		{core.ErrForbidden, "forbidden"},
		{core.ErrInsufficientFunds, "insufficient funds"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describe(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

func TestParseMonth(t *testing.T) {
	m, err := parseMonth("2026-02")
	if err != nil || m.String() != "2026-02" {
		t.Errorf("parseMonth = %v, %v", m, err)
	}
	if _, err := parseMonth("Feb 2026"); err == nil {
		t.Error("expected error for bad month")
	}
	if m, err := parseMonth(""); err != nil || m.Validate() != nil {
		t.Errorf("default month = %v, %v", m, err)
	}
}

func TestRequireFlags(t *testing.T) {
	c := &spendCmd{}
	f := flag.NewFlagSet("spend", flag.ContinueOnError)
	c.SetFlags(f)
	if err := f.Parse([]string{"-spender", "s1"}); err != nil {
		t.Fatal(err)
	}
	err := requireFlags(f, "spender", "merchant")
	if err == nil || !strings.Contains(err.Error(), "-merchant") {
		t.Errorf("error = %v, want missing -merchant", err)
	}
}

func TestCommandsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		if seen[c.Name()] {
			t.Errorf("duplicate command %s", c.Name())
		}
		seen[c.Name()] = true
	}
}
