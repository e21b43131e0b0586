package tree

import (
	"testing"

	"github.com/bomkit/gobom/pkg/bomfile"
)

func TestWriteReadRoundTripSmall(t *testing.T) {
	s := bomfile.New()
	pairs := []Pair{{Key: 30, Value: 300}, {Key: 10, Value: 100}, {Key: 20, Value: 200}}

	root, err := Write(s, 128, pairs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(s, root)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []Pair{{Key: 10, Value: 100}, {Key: 20, Value: 200}, {Key: 30, Value: 300}}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pair %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWriteReadRoundTripSpansMultipleDataNodes(t *testing.T) {
	s := bomfile.New()

	const n = 500
	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		// insert in descending order to exercise the sort in Write
		pairs[i] = Pair{Key: uint32(n - i), Value: uint32(n-i) * 10}
	}

	// small block size forces many data nodes and a meta spine
	root, err := Write(s, MinBlockSize, pairs)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(s, root)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != n {
		t.Fatalf("got %d pairs, want %d", len(got), n)
	}
	for i, p := range got {
		wantKey := uint32(i + 1)
		if p.Key != wantKey || p.Value != wantKey*10 {
			t.Fatalf("pair %d: got %+v, want key=%d value=%d", i, p, wantKey, wantKey*10)
		}
		if i > 0 && got[i-1].Key >= p.Key {
			t.Fatalf("keys not strictly ascending at %d: %d >= %d", i, got[i-1].Key, p.Key)
		}
	}
}

func TestWriteEmpty(t *testing.T) {
	s := bomfile.New()
	root, err := Write(s, 128, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(s, root)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d pairs, want 0", len(got))
	}
}

func TestClampBlockSize(t *testing.T) {
	if got := clampBlockSize(4); got != MinBlockSize {
		t.Fatalf("clampBlockSize(4) = %d, want %d", got, MinBlockSize)
	}
	if got := clampBlockSize(1 << 30); got != MaxBlockSize {
		t.Fatalf("clampBlockSize huge = %d, want %d", got, MaxBlockSize)
	}
}
