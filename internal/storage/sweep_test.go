package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSweepOrphans(t *testing.T) {
	dir := t.TempDir()
	s, _ := newTestStore(t, dir, Config{})
	now := time.Now()
	kept, err := s.AddTestRecord([]byte("kept"), now, now)
	if err != nil {
		t.Fatalf("AddTestRecord: %v", err)
	}

	photos := filepath.Join(dir, ImageDirName)
	old := now.Add(-time.Hour)
	write := func(name string, mtime time.Time) string {
		t.Helper()
		path := filepath.Join(photos, name)
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
		return path
	}
	staleOrphan := write(uuid.NewString()+imageExt, old)
	freshOrphan := write(uuid.NewString()+imageExt, now)
	staleTemp := write("."+uuid.NewString()+imageExt+"12345", old)
	unrelated := write("notes.txt", old)
	// the referenced file is old too; it must survive anyway
	if err := os.Chtimes(s.ImagePath(kept), old, old); err != nil {
		t.Fatalf("chtimes kept: %v", err)
	}

	removed, err := s.SweepOrphans(10 * time.Minute)
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	sort.Strings(removed)
	want := []string{staleOrphan, staleTemp}
	sort.Strings(want)
	if len(removed) != len(want) || removed[0] != want[0] || removed[1] != want[1] {
		t.Fatalf("removed = %v, want %v", removed, want)
	}
	for _, path := range []string{freshOrphan, unrelated, s.ImagePath(kept)} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s should survive the sweep: %v", path, err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("sweep must not touch records")
	}
}

func TestSweepEmptyDir(t *testing.T) {
	s, _ := newTestStore(t, t.TempDir(), Config{})
	removed, err := s.SweepOrphans(0)
	if err != nil || len(removed) != 0 {
		t.Fatalf("SweepOrphans = %v, %v; want nothing", removed, err)
	}
}
