package rconfig

import (
	"path/filepath"
	"testing"
)

func TestNewDefaultOptions(t *testing.T) {
	o := NewDefaultOptions()
	if !o.CRC {
		t.Errorf("expected CRC enabled by default")
	}
	if o.FollowSymlinks {
		t.Errorf("expected FollowSymlinks disabled by default")
	}
	if o.PathOnly {
		t.Errorf("expected PathOnly disabled by default")
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("default options should validate: %v", err)
	}
}

func TestValidateRejectsBadBlockSize(t *testing.T) {
	o := NewDefaultOptions()
	o.TreeBlockSize = 100
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for non-power-of-two block size")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.json")

	o := NewDefaultOptions()
	o.PathOnly = true
	o.TreeBlockSize = 128

	if err := o.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if !loaded.PathOnly || loaded.TreeBlockSize != 128 {
		t.Fatalf("round trip lost fields: %+v", loaded)
	}
}

func TestLoadOptionsMissing(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "missing.json"))
	if err != ErrOptionsNotFound {
		t.Fatalf("expected ErrOptionsNotFound, got %v", err)
	}
}
