package bomfile

// HeaderSize is the fixed size of every BOM file header, zero-padded to
// this length regardless of how small the fields actually written are.
// Layout mirrors _examples/paduszym-go-bom/pkg/bom/format.go's header,
// blockPointer and variable types, renamed to this package's vocabulary.
const HeaderSize = 512

var magic = [8]byte{'B', 'O', 'M', 'S', 't', 'o', 'r', 'e'}

const formatVersion = uint32(1)

// blockPointer locates a byte region within the file: offset from the
// start of the file, and its length.
type blockPointer struct {
	Offset uint32
	Size   uint32
}

func (b blockPointer) isNull() bool { return b.Offset == 0 && b.Size == 0 }

// header is the on-disk representation of the first HeaderSize bytes of a
// BOM file.
type header struct {
	Magic            [8]byte
	Version          uint32
	NumNonNullBlocks uint32
	Index            blockPointer
	NamedBlocks      blockPointer
}
