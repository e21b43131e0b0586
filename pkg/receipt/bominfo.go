package receipt

import (
	"bytes"
	"fmt"

	"github.com/bomkit/gobom/pkg/bomerr"
)

// BomInfoEntry accumulates the total size contributed by one CPU
// architecture. cpu_type 0 aggregates every non-executable entry (this
// implementation never inspects Mach-O load commands, so it accumulates
// the size field of every non-path-only entry, directories included,
// under cpu_type 0 — see DESIGN.md).
type BomInfoEntry struct {
	CPUType   uint32
	TotalSize uint32
}

// BomInfo is the packed statistics record stored in the BomInfo named
// block: a version tag, path/entry counts, then one BomInfoEntry per
// encountered CPU type.
type BomInfo struct {
	Version    uint32
	NumPaths   uint32
	NumEntries uint32
	Entries    []BomInfoEntry
}

const bomInfoEntrySize = 16

// EncodeBomInfo renders info in its on-wire layout.
func EncodeBomInfo(info BomInfo) []byte {
	buf := &bytes.Buffer{}
	writeU32(buf, info.Version)
	writeU32(buf, info.NumPaths)
	writeU32(buf, info.NumEntries)
	for _, e := range info.Entries {
		writeU32(buf, e.CPUType)
		writeU32(buf, 0) // unknown
		writeU32(buf, e.TotalSize)
		writeU32(buf, 0) // unknown
	}
	return buf.Bytes()
}

// DecodeBomInfo parses a BomInfo record.
func DecodeBomInfo(data []byte) (BomInfo, error) {
	if len(data) < 12 {
		return BomInfo{}, fmt.Errorf("%w: BomInfo block too short (%d bytes)", bomerr.ErrMetadataInvariant, len(data))
	}
	r := bytes.NewReader(data)
	info := BomInfo{
		Version:    readU32(r),
		NumPaths:   readU32(r),
		NumEntries: readU32(r),
	}
	if r.Len()%bomInfoEntrySize != 0 {
		return BomInfo{}, fmt.Errorf("%w: BomInfo trailing bytes (%d) not a multiple of entry size", bomerr.ErrMetadataInvariant, r.Len())
	}
	n := r.Len() / bomInfoEntrySize
	info.Entries = make([]BomInfoEntry, n)
	for i := range info.Entries {
		cpuType := readU32(r)
		readU32(r) // unknown
		totalSize := readU32(r)
		readU32(r) // unknown
		info.Entries[i] = BomInfoEntry{CPUType: cpuType, TotalSize: totalSize}
	}
	return info, nil
}
