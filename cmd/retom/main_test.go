package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/retom/internal/retro"
)

func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedListPremium(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, "seed", "-n", "3", "--developing", "1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err := run(t, dir, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := strings.Count(out, "ready"); got != 2 {
		t.Fatalf("expected 2 ready photos, got %d:\n%s", got, out)
	}
	if !strings.Contains(out, "developing ") || !strings.Contains(out, "3 photos") {
		t.Fatalf("unexpected listing:\n%s", out)
	}

	out, err = run(t, dir, "premium", "on")
	if err != nil || !strings.Contains(out, "premium true") {
		t.Fatalf("premium on = %q, %v", out, err)
	}
	out, _ = run(t, dir, "list")
	if strings.Contains(out, "developing ") {
		t.Fatalf("premium should make every photo viewable:\n%s", out)
	}
	if _, err := run(t, dir, "premium", "maybe"); err == nil {
		t.Fatalf("expected an error for an invalid premium argument")
	}
}

func TestAddAndUnlock(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(src)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, retro.Placeholder(64, 48, time.Now())); err != nil {
		t.Fatalf("png: %v", err)
	}
	f.Close()

	out, err := run(t, dir, "add", src)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	id := strings.Fields(out)[0]

	out, err = run(t, dir, "unlock", id)
	if err != nil || !strings.Contains(out, "unlocked "+id) {
		t.Fatalf("unlock = %q, %v", out, err)
	}
	out, _ = run(t, dir, "list")
	if !strings.Contains(out, "unlocked") {
		t.Fatalf("listing does not show the unlock:\n%s", out)
	}
	if _, err := run(t, dir, "unlock", "not-an-id"); err == nil {
		t.Fatalf("expected an error for a malformed id")
	}
}

func TestSweepRemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, dir, "seed", "-n", "1", "--developing", "0"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stale := filepath.Join(dir, "photos", "0b5b7c2e-3c1f-4f58-9a7b-1d2e3f405060.jpg")
	fresh := filepath.Join(dir, "photos", "7f1e2d3c-4b5a-4968-8776-a5b4c3d2e1f0.jpg")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, err := run(t, dir, "sweep", "--grace", "0s")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "warning: grace 0s is below the minimum, using 1m0s") {
		t.Fatalf("missing clamp warning:\n%s", out)
	}
	if !strings.Contains(out, "1 orphaned files removed") {
		t.Fatalf("sweep output:\n%s", out)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale orphan still present: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file swept: %v", err)
	}
}

func TestSweepWarnsBelowConfiguredGrace(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "sweep", "--grace", "2m")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "shorter than the configured 10m0s") {
		t.Fatalf("missing warning:\n%s", out)
	}
	if !strings.Contains(out, "0 orphaned files removed") {
		t.Fatalf("sweep output:\n%s", out)
	}
}
