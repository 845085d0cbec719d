package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateThenCheckRoundtrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fixtures")
	if err := generate(dir); err != nil {
		t.Fatalf("generate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read fixture dir: %v", err)
	}
	if len(entries) != 7 {
		t.Fatalf("expected 7 fixture files (1, 2, 3x2, 4x2, 7), got %d", len(entries))
	}

	if err := check(dir); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckFailsOnTamperedExpectation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fixtures")
	if err := generate(dir); err != nil {
		t.Fatalf("generate: %v", err)
	}

	var f scenarioFixture
	path := filepath.Join(dir, "scenario1.json")
	if err := readJSON(path, &f); err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	f.Expect.Outcome = "unauthorized"
	if err := writeJSON(path, f); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if err := check(dir); err == nil {
		t.Fatalf("expected check to fail after tampering with the recorded expectation")
	}
}

func TestCheckFailsOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := check(dir); err == nil {
		t.Fatalf("expected check to fail when no fixtures have been generated")
	}
}
