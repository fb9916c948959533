package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SweepOrphans deletes image files that no record references. Files modified
// within grace are kept: a capture writes its image before inserting the
// record, so a fresh unreferenced file may belong to an add in flight.
// Leftover temp files from interrupted writes are removed under the same rule.
// It returns the removed paths.
func (s *Store) SweepOrphans(grace time.Duration) ([]string, error) {
	referenced := make(map[string]struct{})
	for _, p := range s.Photos() {
		referenced[filepath.Base(filepath.FromSlash(p.ImageFileReference))] = struct{}{}
	}

	entries, err := os.ReadDir(s.imageDir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	cutoff := s.now().Add(-grace)
	var removed []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isTempName(name) && !isImageName(name) {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.imageDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		s.log.WithField("path", path).Info("removed orphaned image")
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

func isImageName(name string) bool {
	if !strings.HasSuffix(name, imageExt) {
		return false
	}
	_, err := uuid.Parse(strings.TrimSuffix(name, imageExt))
	return err == nil
}

// isTempName matches the dot-prefixed names of pending atomic writes.
func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, imageExt)
}
