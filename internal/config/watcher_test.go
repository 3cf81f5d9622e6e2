package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kora-labs/kora-rent/internal/config"
)

func TestWatcher_DetectsWhitelistFileChange(t *testing.T) {
	homeDir := t.TempDir()
	whitelistPath := filepath.Join(homeDir, "whitelist.txt")
	if err := os.WriteFile(whitelistPath, []byte("Addr1\n"), 0o644); err != nil {
		t.Fatalf("write initial whitelist: %v", err)
	}

	w := config.NewWatcher(homeDir, whitelistPath, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	if err := os.WriteFile(whitelistPath, []byte("Addr1\nAddr2\n"), 0o644); err != nil {
		t.Fatalf("write updated whitelist: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "whitelist.txt" {
				t.Fatalf("expected whitelist.txt event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			_ = os.WriteFile(whitelistPath, []byte("Addr1\nAddr2\n"), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for whitelist.txt change event")
		}
	}
}
