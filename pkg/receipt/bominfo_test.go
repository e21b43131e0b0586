package receipt

import "testing"

func TestBomInfoRoundTrip(t *testing.T) {
	info := BomInfo{
		Version:    1,
		NumPaths:   3,
		NumEntries: 1,
		Entries: []BomInfoEntry{
			{CPUType: 0, TotalSize: 4096},
		},
	}
	buf := EncodeBomInfo(info)
	got, err := DecodeBomInfo(buf)
	if err != nil {
		t.Fatalf("DecodeBomInfo: %v", err)
	}
	if got.Version != info.Version || got.NumPaths != info.NumPaths || got.NumEntries != info.NumEntries {
		t.Fatalf("header mismatch: got %+v, want %+v", got, info)
	}
	if len(got.Entries) != 1 || got.Entries[0] != info.Entries[0] {
		t.Fatalf("entries mismatch: got %+v, want %+v", got.Entries, info.Entries)
	}
}

func TestBomInfoEmpty(t *testing.T) {
	info := BomInfo{Version: 1, NumPaths: 1, NumEntries: 1}
	buf := EncodeBomInfo(info)
	got, err := DecodeBomInfo(buf)
	if err != nil {
		t.Fatalf("DecodeBomInfo: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(got.Entries))
	}
}
