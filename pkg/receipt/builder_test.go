package receipt

import (
	"bytes"
	"io"
	"testing"

	"github.com/bomkit/gobom/pkg/cksum"
	"github.com/bomkit/gobom/pkg/receipt/walk"
)

type fakeWalker struct {
	entries []walk.Entry
}

func (f fakeWalker) Walk(string) ([]walk.Entry, error) {
	return f.entries, nil
}

func openBytes(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

const dirMode = 0040755
const fileMode = 0100644
const linkMode = 0120755

func TestBuilderEmptyRoot(t *testing.T) {
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
	}}
	r, err := NewReceiptBuilder(nil).WithWalker(w).Create("/tmp/empty")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Path != "." || entries[0].Metadata.Type != EntryDirectory {
		t.Fatalf("root entry = %+v", entries[0])
	}

	info := readBomInfo(t, r)
	if info.NumEntries != uint32(len(info.Entries)) {
		t.Fatalf("NumEntries %d != len(Entries) %d", info.NumEntries, len(info.Entries))
	}
	if len(info.Entries) != 1 || info.Entries[0] != (BomInfoEntry{CPUType: 0, TotalSize: 0}) {
		t.Fatalf("Entries = %+v, want a single zeroed cpu_type 0 entry", info.Entries)
	}
}

func readBomInfo(t *testing.T, r *Receipt) BomInfo {
	t.Helper()
	idx, ok := r.Store().Named("BomInfo")
	if !ok {
		t.Fatalf("BomInfo block missing")
	}
	data, err := r.Store().Read(idx)
	if err != nil {
		t.Fatalf("read BomInfo block: %v", err)
	}
	info, err := DecodeBomInfo(data)
	if err != nil {
		t.Fatalf("DecodeBomInfo: %v", err)
	}
	return info
}

func TestBuilderSingleSmallFile(t *testing.T) {
	content := []byte("Hello, BOM!\n")
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
		{RelPath: "a", Type: walk.Directory, Mode: dirMode, Ino: 2},
		{RelPath: "a/hello.txt", Type: walk.File, Mode: fileMode, Size: uint64(len(content)), Ino: 3, Open: openBytes(content)},
	}}
	r, err := NewReceiptBuilder(nil).WithWalker(w).Create("/tmp/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	file := entries[2]
	if file.Path != "a/hello.txt" {
		t.Fatalf("path = %q, want %q", file.Path, "a/hello.txt")
	}
	if file.Metadata.Size != uint32(len(content)) {
		t.Fatalf("size = %d, want %d", file.Metadata.Size, len(content))
	}
	wantCRC, _ := cksum.Sum(content)
	if file.Metadata.Checksum != wantCRC {
		t.Fatalf("checksum = %d, want %d", file.Metadata.Checksum, wantCRC)
	}

	info := readBomInfo(t, r)
	if info.NumEntries != uint32(len(info.Entries)) {
		t.Fatalf("NumEntries %d != len(Entries) %d", info.NumEntries, len(info.Entries))
	}
	if len(info.Entries) != 1 || info.Entries[0].CPUType != 0 || info.Entries[0].TotalSize != file.Metadata.Size {
		t.Fatalf("Entries = %+v, want a single cpu_type 0 entry totalling %d", info.Entries, file.Metadata.Size)
	}
}

func TestBuilderSymlink(t *testing.T) {
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
		{RelPath: "a", Type: walk.Link, Mode: linkMode, LinkTarget: "b", Ino: 2},
	}}
	r, err := NewReceiptBuilder(nil).WithWalker(w).Create("/tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	link := r.Entries()[1]
	if link.Metadata.Type != EntryLink || link.Metadata.Target != "b" || link.Metadata.TargetLen != 2 {
		t.Fatalf("link entry = %+v", link.Metadata)
	}
	wantCRC, _ := cksum.Sum([]byte("b"))
	if link.Metadata.Checksum != wantCRC {
		t.Fatalf("checksum = %d, want %d", link.Metadata.Checksum, wantCRC)
	}
}

func TestBuilderLargeFileUsesSize64(t *testing.T) {
	const bigSize = uint64(5) << 30
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
		{RelPath: "big.bin", Type: walk.File, Mode: fileMode, Size: bigSize, Ino: 2, Open: openBytes(nil)},
	}}
	r, err := NewReceiptBuilder(nil).WithWalker(w).Create("/tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entry := r.Entries()[1]
	if uint64(entry.Metadata.Size) != bigSize%(1<<32) {
		t.Fatalf("truncated size = %d, want %d", entry.Metadata.Size, bigSize%(1<<32))
	}
	if entry.TrueSize != bigSize {
		t.Fatalf("true size = %d, want %d", entry.TrueSize, bigSize)
	}
}

func TestBuilderHardLinkPair(t *testing.T) {
	content := []byte("shared")
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
		{RelPath: "one", Type: walk.File, Mode: fileMode, Size: uint64(len(content)), Dev: 1, Ino: 42, Open: openBytes(content)},
		{RelPath: "two", Type: walk.File, Mode: fileMode, Size: uint64(len(content)), Dev: 1, Ino: 42, Open: openBytes(content)},
	}}
	r, err := NewReceiptBuilder(nil).WithWalker(w).Create("/tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	idx, ok := r.Store().Named("HLIndex")
	if !ok {
		t.Fatalf("HLIndex block missing")
	}
	if _, err := r.Store().Read(idx); err != nil {
		t.Fatalf("read HLIndex header: %v", err)
	}
}

func TestBuilderPathOnly(t *testing.T) {
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
		{RelPath: "x", Type: walk.File, Mode: fileMode, Size: 3, Ino: 2, Open: openBytes([]byte("abc"))},
	}}
	b := NewReceiptBuilder(nil).WithWalker(w)
	b.opts.PathOnly = true
	r, err := b.Create("/tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, e := range r.Entries() {
		if !e.Metadata.PathOnly {
			t.Fatalf("entry %q is not path-only: %+v", e.Path, e.Metadata)
		}
	}

	info := readBomInfo(t, r)
	if info.NumEntries != uint32(len(info.Entries)) {
		t.Fatalf("NumEntries %d != len(Entries) %d", info.NumEntries, len(info.Entries))
	}
	if len(info.Entries) != 0 {
		t.Fatalf("Entries = %+v, want none under PathOnly", info.Entries)
	}
}

func TestBuilderWriteReadRoundTrip(t *testing.T) {
	content := []byte("Hello, BOM!\n")
	w := fakeWalker{entries: []walk.Entry{
		{RelPath: ".", Type: walk.Directory, Mode: dirMode, Ino: 1},
		{RelPath: "a", Type: walk.Directory, Mode: dirMode, Ino: 2},
		{RelPath: "a/hello.txt", Type: walk.File, Mode: fileMode, Size: uint64(len(content)), Ino: 3, Open: openBytes(content)},
	}}
	built, err := NewReceiptBuilder(nil).WithWalker(w).Create("/tmp/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var buf bytes.Buffer
	if _, err := built.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	wantEntries := built.Entries()
	gotEntries := got.Entries()
	if len(gotEntries) != len(wantEntries) {
		t.Fatalf("got %d entries, want %d", len(gotEntries), len(wantEntries))
	}
	for i := range wantEntries {
		if gotEntries[i].Path != wantEntries[i].Path {
			t.Fatalf("entry %d path: got %q, want %q", i, gotEntries[i].Path, wantEntries[i].Path)
		}
		if gotEntries[i].Metadata != wantEntries[i].Metadata {
			t.Fatalf("entry %d metadata: got %+v, want %+v", i, gotEntries[i].Metadata, wantEntries[i].Metadata)
		}
	}
}
