// Package walk provides the library's own directory-walker
// implementation: a deterministic, lexicographic pre-order traversal
// that satisfies pkg/receipt's DirWalker interface. Spec-wise this is an
// external collaborator to the format itself, but a builder is not
// exercisable end to end without one, so this is the batteries-included
// default rather than a hidden requirement — callers may substitute
// their own DirWalker (e.g. over a virtual filesystem).
package walk

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"syscall"
)

// FileType classifies a walked entry the way the receipt builder needs
// to see it — coarser than a full os.FileMode, matching the four entry
// kinds the metadata codec supports.
type FileType uint8

const (
	File FileType = iota + 1
	Directory
	Link
	Device
)

// Entry is one filesystem item discovered by a walk, carrying every
// field the receipt builder's metadata codec needs.
type Entry struct {
	RelPath string
	Type    FileType

	Mode  uint16
	Uid   uint32
	Gid   uint32
	Mtime uint32
	Size  uint64

	// Dev/Ino identify the entry's inode for hard-link detection; both
	// are zero for a synthetic or non-POSIX entry.
	Dev uint64
	Ino uint64

	Rdev       uint32 // valid when Type == Device
	LinkTarget string // valid when Type == Link

	// Open returns a fresh reader over the entry's content. Valid when
	// Type == File; nil otherwise.
	Open func() (io.ReadCloser, error)
}

// Walker is the default DirWalker: real POSIX filesystem traversal via
// os.Lstat.
type Walker struct {
	// FollowSymlinks, when true, resolves a symlink's target type and
	// metadata via os.Stat instead of reporting it as a Link. Walking
	// never recurses through a symlinked directory even so, to avoid
	// traversal cycles; only the leaf entry's own reported type changes.
	FollowSymlinks bool
}

// Walk performs the default traversal starting at root.
func (w Walker) Walk(root string) ([]Entry, error) {
	return w.walk(root)
}

// Walk is the package-level convenience form of Walker{}.Walk.
func Walk(root string) ([]Entry, error) {
	return Walker{}.Walk(root)
}

func (w Walker) walk(root string) ([]Entry, error) {
	rootInfo, err := os.Lstat(root)
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	rootEntry, err := w.entryFromInfo(".", root, rootInfo)
	if err != nil {
		return nil, err
	}

	entries := []Entry{rootEntry}
	if rootInfo.IsDir() {
		children, err := w.walkDir(root, ".")
		if err != nil {
			return nil, err
		}
		entries = append(entries, children...)
	}
	return entries, nil
}

func (w Walker) walkDir(absDir, relDir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}

	var out []Entry
	for _, de := range dirEntries {
		absPath := filepath.Join(absDir, de.Name())
		relPath := path.Join(relDir, de.Name())

		info, err := os.Lstat(absPath)
		if err != nil {
			return nil, fmt.Errorf("walk: %w", err)
		}
		entry, err := w.entryFromInfo(relPath, absPath, info)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)

		if info.IsDir() {
			children, err := w.walkDir(absPath, relPath)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
	}
	return out, nil
}

func (w Walker) entryFromInfo(relPath, absPath string, info os.FileInfo) (Entry, error) {
	statInfo := info
	if w.FollowSymlinks && info.Mode()&os.ModeSymlink != 0 {
		if resolved, err := os.Stat(absPath); err == nil {
			statInfo = resolved
		}
	}

	stat, ok := statInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return Entry{}, fmt.Errorf("walk: %s: no POSIX stat information available on this platform", absPath)
	}

	e := Entry{
		RelPath: relPath,
		Mode:    uint16(stat.Mode),
		Uid:     stat.Uid,
		Gid:     stat.Gid,
		Mtime:   uint32(stat.Mtim.Sec),
		Size:    uint64(stat.Size),
		Dev:     uint64(stat.Dev),
		Ino:     uint64(stat.Ino),
	}

	switch {
	case statInfo.Mode()&os.ModeSymlink != 0:
		e.Type = Link
		target, err := os.Readlink(absPath)
		if err != nil {
			return Entry{}, fmt.Errorf("walk: %w", err)
		}
		e.LinkTarget = target
	case statInfo.IsDir():
		e.Type = Directory
	case statInfo.Mode()&(os.ModeDevice|os.ModeCharDevice) != 0:
		e.Type = Device
		e.Rdev = uint32(stat.Rdev)
	default:
		e.Type = File
		path := absPath
		e.Open = func() (io.ReadCloser, error) { return os.Open(path) }
	}

	return e, nil
}
