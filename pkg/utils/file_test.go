package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileWithOwnership(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "hotspot.rsc")

	err := WriteFileWithOwnership(testFile, []byte("/ip pool print"), 0644)
	if err != nil {
		t.Fatalf("WriteFileWithOwnership failed: %v", err)
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "/ip pool print" {
		t.Errorf("Content mismatch: got %q, want %q", string(content), "/ip pool print")
	}
}

func TestMkdirAllWithOwnership(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "var", "lib", "madric")

	if err := MkdirAllWithOwnership(nested, 0755); err != nil {
		t.Fatalf("MkdirAllWithOwnership failed: %v", err)
	}

	info, err := os.Stat(nested)
	if err != nil {
		t.Fatalf("Directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("Expected directory, got file")
	}
}

func TestFixFileOwnership_NoSudo(t *testing.T) {
	t.Setenv("SUDO_USER", "")

	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := FixFileOwnership(path); err != nil {
		t.Errorf("expected nil without SUDO_USER, got %v", err)
	}
}
