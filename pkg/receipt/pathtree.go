package receipt

import (
	"fmt"
	"strings"

	"github.com/bomkit/gobom/pkg/bomerr"
)

// PathEntry is one row reconstructed from the Paths tree: a paths-key
// record (SeqNo, MetadataIndex) paired with its paths-value record
// (Parent, Name).
type PathEntry struct {
	SeqNo         uint32
	Parent        uint32
	Name          string
	MetadataIndex uint32
}

// ValidateName rejects path components containing NUL or '/'.
func ValidateName(name string) error {
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: name %q contains a NUL byte", bomerr.ErrPathInvariant, name)
	}
	if strings.IndexByte(name, '/') >= 0 {
		return fmt.Errorf("%w: name %q contains a '/' byte", bomerr.ErrPathInvariant, name)
	}
	return nil
}

const pathCycleGuard = "\x00in-progress"

// resolvePaths walks each entry's parent chain up to a root (Parent == 0)
// and joins names with '/', returning seq_no -> rooted path. Cycles that
// never reach 0 are reported as corruption.
func resolvePaths(entries []PathEntry) (map[uint32]string, error) {
	bySeq := make(map[uint32]PathEntry, len(entries))
	for _, e := range entries {
		if err := ValidateName(e.Name); err != nil {
			return nil, err
		}
		bySeq[e.SeqNo] = e
	}

	resolved := make(map[uint32]string, len(entries))

	var resolve func(seq uint32) (string, error)
	resolve = func(seq uint32) (string, error) {
		if p, ok := resolved[seq]; ok {
			if p == pathCycleGuard {
				return "", fmt.Errorf("%w: cycle detected reaching seq_no %d", bomerr.ErrPathInvariant, seq)
			}
			return p, nil
		}
		e, ok := bySeq[seq]
		if !ok {
			return "", fmt.Errorf("%w: seq_no %d referenced as parent but not present", bomerr.ErrPathInvariant, seq)
		}

		resolved[seq] = pathCycleGuard
		var full string
		if e.Parent == 0 {
			full = e.Name
		} else {
			parentPath, err := resolve(e.Parent)
			if err != nil {
				return "", err
			}
			// The root entry is always named "." with Parent 0; its
			// direct children render as bare names rather than "./name",
			// matching the reference tool's display convention.
			if parentPath == "." {
				full = e.Name
			} else {
				full = parentPath + "/" + e.Name
			}
		}
		resolved[seq] = full
		return full, nil
	}

	for _, e := range entries {
		if _, err := resolve(e.SeqNo); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}
