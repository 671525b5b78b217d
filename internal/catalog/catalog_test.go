package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanClassifiesAndRegistersBinaries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"afsrv_decode", "afsrv_terminal", "README.txt"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// README.txt is not executable-classified and shouldn't resolve.
	if err := os.Chmod(filepath.Join(dir, "README.txt"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}

	if p, ok := c.Resolve("media"); !ok || filepath.Base(p) != "afsrv_decode" {
		t.Errorf("Resolve(media) = %q, %v", p, ok)
	}
	if p, ok := c.Resolve("terminal"); !ok || filepath.Base(p) != "afsrv_terminal" {
		t.Errorf("Resolve(terminal) = %q, %v", p, ok)
	}
	if _, ok := c.Resolve("unknown"); ok {
		t.Errorf("expected no unknown-archetype entry to survive Scan")
	}
}

func TestScanMissingDirReturnsEmptyCatalog(t *testing.T) {
	c, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries) != 0 {
		t.Errorf("expected empty catalog, got %v", c.Entries)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := &Catalog{Entries: map[string]Entry{}}
	c.Register(filepath.Join(dir, "afsrv_game"))

	if err := c.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := loaded.Resolve("game")
	if !ok {
		t.Fatalf("expected game archetype to round-trip, got %v", loaded.Entries)
	}
	if filepath.Base(p) != "afsrv_game" {
		t.Errorf("path = %q, want afsrv_game", p)
	}
}

func TestLoadMissingFileReturnsEmptyCatalog(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries) != 0 {
		t.Errorf("expected empty catalog, got %v", c.Entries)
	}
}
