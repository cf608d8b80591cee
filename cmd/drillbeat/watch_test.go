package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchDrillFile_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drill.yaml")
	if err := os.WriteFile(path, []byte("mode: single\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := make(chan Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchDrillFile(ctx, path, events, 20*time.Millisecond, discardLogger()) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("watcher returned %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("watcher did not stop")
		}
	}()

	// Other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(dualManualDrill), 0o644); err != nil {
		t.Fatalf("write other: %v", err)
	}

	// The watcher may not be registered yet; keep rewriting until a reload arrives.
	deadline := time.After(3 * time.Second)
	for {
		if err := os.WriteFile(path, []byte(dualManualDrill), 0o644); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		select {
		case ev := <-events:
			dl, ok := ev.(DrillLoaded)
			if !ok {
				t.Fatalf("expected DrillLoaded, got %T", ev)
			}
			if dl.Drill.Weapons.B.Name != "Pistol" {
				t.Fatalf("unexpected drill %+v", dl.Drill)
			}
			want, _ := filepath.Abs(path)
			if dl.Source != want {
				t.Fatalf("unexpected source %q, want %q", dl.Source, want)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no reload after rewriting the drill file")
		}
	}
}

func TestWatchDrillFile_InvalidDrillKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drill.yaml")
	if err := os.WriteFile(path, []byte("mode: single\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := make(chan Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchDrillFile(ctx, path, events, 20*time.Millisecond, discardLogger())

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("mode: triple\n"), 0o644); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("invalid drill produced %T", ev)
	case <-time.After(200 * time.Millisecond):
	}

	deadline := time.After(3 * time.Second)
	for {
		if err := os.WriteFile(path, []byte("mode: dual_auto\n"), 0o644); err != nil {
			t.Fatalf("write valid: %v", err)
		}
		select {
		case ev := <-events:
			if dl, ok := ev.(DrillLoaded); !ok || dl.Drill.Mode != "dual_auto" {
				t.Fatalf("unexpected event %#v", ev)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatalf("watcher stopped reloading after an invalid drill")
		}
	}
}

func TestWatchDrillFile_MissingDirectory(t *testing.T) {
	err := watchDrillFile(context.Background(), "/nonexistent-dir/drill.yaml", make(chan Event), time.Millisecond, discardLogger())
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
