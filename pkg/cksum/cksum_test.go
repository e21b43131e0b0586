package cksum

import "testing"

func TestSumKnownVectors(t *testing.T) {
	// Reference values taken from the POSIX cksum(1) utility.
	cases := []struct {
		name string
		data []byte
		crc  uint32
		len  uint64
	}{
		{"empty", nil, 4294967295, 0},
		{"hello", []byte("Hello, BOM!\n"), 3149732909, 12},
		{"single-byte", []byte("b"), 975775277, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			crc, length := Sum(tc.data)
			if length != tc.len {
				t.Errorf("length = %d, want %d", length, tc.len)
			}
			if crc != tc.crc {
				t.Errorf("crc = %#x, want %#x", crc, tc.crc)
			}
		})
	}
}

func TestSumDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	c1, l1 := Sum(data)
	c2, l2 := Sum(data)
	if c1 != c2 || l1 != l2 {
		t.Fatalf("Sum is not deterministic: (%d,%d) != (%d,%d)", c1, l1, c2, l2)
	}
}
