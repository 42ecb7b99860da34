package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"blaulicht/internal/config"
	"blaulicht/internal/logger"
)

func TestWatchReportsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "show.wasm")
	other := filepath.Join(dir, "other.wasm")
	for _, p := range []string{path, other} {
		if err := os.WriteFile(p, []byte("v1"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, logger.NewDiscard(), []string{path}, func(p string) { changed <- p })
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(other, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case p := <-changed:
		if p != path {
			t.Fatalf("changed %s, want %s", p, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case p := <-changed:
		t.Fatalf("burst reported twice (%s)", p)
	case <-time.After(2 * settle):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchedPaths(t *testing.T) {
	confs := []config.PluginConf{
		{FilePath: "a.wasm", Enabled: true, Watch: true},
		{FilePath: "b.wasm", Enabled: true},
		{FilePath: "c.wasm", Watch: true},
	}
	got := WatchedPaths(confs)
	if len(got) != 1 || got[0] != "a.wasm" {
		t.Fatalf("WatchedPaths = %v", got)
	}
}
