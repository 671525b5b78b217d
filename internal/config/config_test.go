package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnpointPrefix != "" || cfg.SegmentSizeCap != 0 || len(cfg.BrokerWhitelist) != 0 {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	want := &Config{
		ConnpointPrefix:  "sandbox",
		SegmentSizeCap:   1 << 24,
		BrokerWhitelist:  []string{"/dev/input/event0", "/dev/dri/card0"},
		DefaultArchetype: "lwa",
	}
	if err := Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ConnpointPrefix != want.ConnpointPrefix || got.SegmentSizeCap != want.SegmentSizeCap || got.DefaultArchetype != want.DefaultArchetype {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.BrokerWhitelist) != 2 {
		t.Fatalf("expected 2 whitelist entries, got %d", len(got.BrokerWhitelist))
	}
}

func TestGetSetUnknownKeyRejected(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if _, err := Get("nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := Set("nonexistent", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestGetSetSegmentSizeCap(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if err := Set("segment_size_cap", "65536"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := Get("segment_size_cap")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "65536" {
		t.Fatalf("got %q, want %q", v, "65536")
	}
}

func TestSetSegmentSizeCapRejectsNonInteger(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if err := Set("segment_size_cap", "not-a-number"); err == nil {
		t.Fatal("expected error for non-integer segment_size_cap")
	}
}

func TestFindAndReadShmifrc(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WriteShmifrc(dir, "mywm"); err != nil {
		t.Fatalf("WriteShmifrc: %v", err)
	}

	found, err := FindShmifrc(sub)
	if err != nil {
		t.Fatalf("FindShmifrc: %v", err)
	}
	if found == "" {
		t.Fatal("expected to find .shmifrc walking up from a nested dir")
	}
	name, err := ReadShmifrc(found)
	if err != nil {
		t.Fatalf("ReadShmifrc: %v", err)
	}
	if name != "mywm" {
		t.Fatalf("got %q, want %q", name, "mywm")
	}
}

func TestResolveConnpointNamePrecedence(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if name, err := ResolveConnpointName("fromflag", "fromenv"); err != nil || name != "fromflag" {
		t.Fatalf("flag should win, got %q, %v", name, err)
	}
	if name, err := ResolveConnpointName("", "fromenv"); err != nil || name != "fromenv" {
		t.Fatalf("env should win over config/default, got %q, %v", name, err)
	}
	if err := Set("connpoint_prefix", "fromconfig"); err != nil {
		t.Fatal(err)
	}
	if name, err := ResolveConnpointName("", ""); err != nil || name != "fromconfig" {
		t.Fatalf("config default should apply, got %q, %v", name, err)
	}
}

func TestResolveConnpointNameFallsBackToDefault(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	name, err := ResolveConnpointName("", "")
	if err != nil {
		t.Fatalf("ResolveConnpointName: %v", err)
	}
	if name != defaultConnpointName {
		t.Fatalf("got %q, want default %q", name, defaultConnpointName)
	}
}
