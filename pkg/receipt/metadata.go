package receipt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bomkit/gobom/pkg/bomerr"
)

// EntryType tags which Metadata variant a record holds.
type EntryType uint8

const (
	EntryFile      EntryType = 1
	EntryDirectory EntryType = 2
	EntryLink      EntryType = 3
	EntryDevice    EntryType = 4
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	case EntryLink:
		return "link"
	case EntryDevice:
		return "device"
	default:
		return fmt.Sprintf("entry_type(%d)", uint8(t))
	}
}

// BinaryClass is the lower nibble of a File record's flags: whether the
// file is an ordinary regular file, a single-architecture executable, or
// a universal (fat) binary.
type BinaryClass uint8

const (
	BinaryRegular    BinaryClass = 0
	BinaryExecutable BinaryClass = 1
	BinaryUniversal  BinaryClass = 2
)

// Metadata is the per-entry record: a common prefix, and, unless the
// record is path-only, a common body plus a variant-specific tail.
type Metadata struct {
	Type   EntryType
	Class  BinaryClass // meaningful only for Type == EntryFile
	PathOnly bool

	Mode  uint16
	Uid   uint32
	Gid   uint32
	Mtime uint32

	// Size is the on-wire, possibly-truncated 32-bit size. Callers that
	// need the true size for files above 2^32-1 bytes track it
	// separately (see Receipt's Size64 handling); Metadata itself only
	// ever carries the truncated value, matching the wire record.
	Size uint32

	Checksum uint32 // File, Link

	TargetLen uint32 // Link: length of Target including its trailing NUL
	Target    string // Link

	Dev uint32 // Device
}

const (
	commonPrefixSize = 4  // entry_type, unknown, flags
	commonBodySize   = 19 // mode, uid, gid, mtime, size, unknown

	unknownConstant = 1
)

// modeFileType extracts the POSIX S_IFMT file-type bits from mode and
// reports the EntryType they correspond to.
func modeFileType(mode uint16) (EntryType, bool) {
	switch mode & 0xF000 {
	case 0x8000: // S_IFREG
		return EntryFile, true
	case 0x4000: // S_IFDIR
		return EntryDirectory, true
	case 0xA000: // S_IFLNK
		return EntryLink, true
	case 0x2000, 0x6000: // S_IFCHR, S_IFBLK
		return EntryDevice, true
	default:
		return 0, false
	}
}

// EncodeMetadata renders m in the on-wire big-endian layout.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m.Type < EntryFile || m.Type > EntryDevice {
		return nil, fmt.Errorf("%w: entry_type %d", bomerr.ErrUnsupported, m.Type)
	}
	if !m.PathOnly {
		if ft, ok := modeFileType(m.Mode); !ok || ft != m.Type {
			return nil, fmt.Errorf("%w: mode 0%o does not match entry_type %s", bomerr.ErrMetadataInvariant, m.Mode, m.Type)
		}
	}

	buf := &bytes.Buffer{}
	buf.WriteByte(byte(m.Type))
	buf.WriteByte(unknownConstant)

	var flags uint16
	if !m.PathOnly {
		flags = 0xF000 | uint16(m.Class)
	}
	writeU16(buf, flags)

	if m.PathOnly {
		return buf.Bytes(), nil
	}

	writeU16(buf, m.Mode)
	writeU32(buf, m.Uid)
	writeU32(buf, m.Gid)
	writeU32(buf, m.Mtime)
	writeU32(buf, m.Size)
	buf.WriteByte(unknownConstant)

	switch m.Type {
	case EntryFile:
		writeU32(buf, m.Checksum)
	case EntryDirectory:
		// no tail
	case EntryLink:
		writeU32(buf, m.Checksum)
		writeU32(buf, m.TargetLen)
		buf.WriteString(m.Target)
		buf.WriteByte(0)
	case EntryDevice:
		writeU32(buf, m.Dev)
	}

	return buf.Bytes(), nil
}

// DecodeMetadata parses a Metadata record from a block's bytes. Trailing
// bytes beyond the record (padding, if the block is larger than needed)
// are ignored.
func DecodeMetadata(data []byte) (Metadata, error) {
	if len(data) < commonPrefixSize {
		return Metadata{}, fmt.Errorf("%w: metadata block too short (%d bytes)", bomerr.ErrMetadataInvariant, len(data))
	}
	r := bytes.NewReader(data)

	entryTypeByte, _ := r.ReadByte()
	entryType := EntryType(entryTypeByte)
	if entryType < EntryFile || entryType > EntryDevice {
		return Metadata{}, fmt.Errorf("%w: entry_type %d", bomerr.ErrUnsupported, entryType)
	}
	r.ReadByte() // unknown
	flags := readU16(r)

	m := Metadata{Type: entryType}
	if isPathOnly(flags) {
		m.PathOnly = true
		return m, nil
	}
	m.Class = BinaryClass(flags & 0x0F)

	if r.Len() < commonBodySize-1 { // -1: unknown byte accounted below
		return Metadata{}, fmt.Errorf("%w: metadata body truncated", bomerr.ErrMetadataInvariant)
	}
	m.Mode = readU16(r)
	m.Uid = readU32(r)
	m.Gid = readU32(r)
	m.Mtime = readU32(r)
	m.Size = readU32(r)
	r.ReadByte() // unknown

	if ft, ok := modeFileType(m.Mode); !ok || ft != m.Type {
		return Metadata{}, fmt.Errorf("%w: mode 0%o does not match entry_type %s", bomerr.ErrMetadataInvariant, m.Mode, m.Type)
	}

	switch m.Type {
	case EntryFile:
		m.Checksum = readU32(r)
	case EntryDirectory:
		// no tail
	case EntryLink:
		m.Checksum = readU32(r)
		m.TargetLen = readU32(r)
		target, err := readCString(r)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: link target: %v", bomerr.ErrMetadataInvariant, err)
		}
		if uint32(len(target)+1) != m.TargetLen {
			return Metadata{}, fmt.Errorf("%w: target_len %d does not match target %q", bomerr.ErrMetadataInvariant, m.TargetLen, target)
		}
		m.Target = target
	case EntryDevice:
		m.Dev = readU32(r)
	}

	return m, nil
}

func isPathOnly(flags uint16) bool {
	return (flags>>12)&0xF == 0
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU16(r *bytes.Reader) uint16 {
	var b [2]byte
	r.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func readU32(r *bytes.Reader) uint32 {
	var b [4]byte
	r.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func readCString(r *bytes.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}
