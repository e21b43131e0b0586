package bomfile

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bomkit/gobom/pkg/bomerr"
)

func TestAllocateAndRead(t *testing.T) {
	s := New()
	i1 := s.Allocate([]byte("hello"))
	i2 := s.Allocate([]byte("world"))

	if i1 == 0 || i2 == 0 {
		t.Fatalf("allocated indices must not be 0 (reserved for the null block)")
	}

	b, err := s.Read(0)
	if err != nil || len(b) != 0 {
		t.Fatalf("Read(0) should return the empty null block, got %q, err %v", b, err)
	}

	b1, err := s.Read(i1)
	if err != nil || string(b1) != "hello" {
		t.Fatalf("Read(%d) = %q, %v; want %q", i1, b1, err, "hello")
	}

	if _, err := s.Read(999); !errors.Is(err, bomerr.ErrBlockOutOfRange) {
		t.Fatalf("expected ErrBlockOutOfRange, got %v", err)
	}
}

func TestAllocateNamedRejectsDuplicates(t *testing.T) {
	s := New()
	if _, err := s.AllocateNamed("Paths", []byte("a")); err != nil {
		t.Fatalf("first AllocateNamed failed: %v", err)
	}
	if _, err := s.AllocateNamed("Paths", []byte("b")); err == nil {
		t.Fatalf("expected error registering duplicate name")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := New()
	i1 := s.Allocate([]byte("first block"))
	i2 := s.Allocate([]byte("second, a little longer block"))
	if _, err := s.AllocateNamed("BomInfo", []byte{0, 0, 0, 1}); err != nil {
		t.Fatalf("AllocateNamed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.NumBlocks() != s.NumBlocks() {
		t.Fatalf("NumBlocks: got %d, want %d", got.NumBlocks(), s.NumBlocks())
	}

	for _, idx := range []uint32{0, i1, i2} {
		want, _ := s.Read(idx)
		have, err := got.Read(idx)
		if err != nil {
			t.Fatalf("Read(%d) after round trip: %v", idx, err)
		}
		if !bytes.Equal(want, have) {
			t.Fatalf("block %d mismatch: got %q, want %q", idx, have, want)
		}
	}

	index, ok := got.Named("BomInfo")
	if !ok {
		t.Fatalf("named block BomInfo missing after round trip")
	}
	data, err := got.Read(index)
	if err != nil || !bytes.Equal(data, []byte{0, 0, 0, 1}) {
		t.Fatalf("named block content mismatch: %q, %v", data, err)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, "NOTABOM!")
	if _, err := Read(bytes.NewReader(buf)); !errors.Is(err, bomerr.ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadRejectsBadVersion(t *testing.T) {
	s := New()
	var buf bytes.Buffer
	s.WriteTo(&buf)
	raw := buf.Bytes()
	raw[11] = 9 // version field, big-endian low byte
	if _, err := Read(bytes.NewReader(raw)); !errors.Is(err, bomerr.ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestNumNonNullBlocks(t *testing.T) {
	s := New()
	s.Allocate([]byte("x"))
	s.Allocate([]byte{})   // zero-length occupied slot, per spec should not count
	s.Allocate([]byte("y"))

	var buf bytes.Buffer
	s.WriteTo(&buf)
	got, err := Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	_ = got

	hdr, err := parseHeader(buf.Bytes())
	if err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if hdr.NumNonNullBlocks != 2 {
		t.Fatalf("NumNonNullBlocks = %d, want 2", hdr.NumNonNullBlocks)
	}
}

func TestWriteFileAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bom")

	s := New()
	s.Allocate([]byte("payload"))
	if err := s.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := got.Read(1)
	if err != nil || string(b) != "payload" {
		t.Fatalf("Read(1) = %q, %v", b, err)
	}
}
