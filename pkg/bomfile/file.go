package bomfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile serializes s to path atomically: the file is written to a
// temporary sibling and renamed into place, so a reader never observes a
// partially written BOM file. Grounded in the teacher's
// pkg/sstable/writer.go FileManager, which uses the same temp-then-rename
// discipline for SSTables.
func (s *Store) WriteFile(path string) (err error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("bomfile: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = s.WriteTo(f); err != nil {
		return fmt.Errorf("bomfile: write: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("bomfile: close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("bomfile: rename into place: %w", err)
	}
	return nil
}

// Open reads and parses the BOM file at path.
func Open(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bomfile: open: %w", err)
	}
	defer f.Close()
	return Read(f)
}
