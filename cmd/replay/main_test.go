package main

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAlphas(t *testing.T) {
	got, err := parseAlphas(" 0.05, 0.1,,0.5 ")
	if err != nil {
		t.Fatalf("parseAlphas: %v", err)
	}
	if diff := cmp.Diff([]float64{0.05, 0.1, 0.5}, got); diff != "" {
		t.Fatalf("alphas (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"", ",", "abc", "0.1,-1"} {
		if _, err := parseAlphas(bad); err == nil {
			t.Errorf("parseAlphas(%q): expected error", bad)
		}
	}
}

func TestRunExitCodes(t *testing.T) {
	fixture := filepath.Join("..", "..", "internal", "replay", "testdata", "two_profiles.json")
	if code := run(fixture, "0,0.2", true, true); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if code := run(filepath.Join(t.TempDir(), "missing.json"), "", false, false); code != 2 {
		t.Fatalf("expected exit 2 for a missing fixture, got %d", code)
	}
	if code := run(fixture, "x", false, false); code != 2 {
		t.Fatalf("expected exit 2 for bad alphas, got %d", code)
	}
}
