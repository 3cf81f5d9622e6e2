package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent names a watched file that changed.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher pushes ReloadEvents when config.yaml or the whitelist file
// changes on disk, so a long-running `policy evaluate --watch` can pick up
// edits without restarting (EXPANSION, §6).
type Watcher struct {
	homeDir       string
	whitelistPath string
	logger        *slog.Logger
	events        chan ReloadEvent
}

func NewWatcher(homeDir, whitelistPath string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:       homeDir,
		whitelistPath: whitelistPath,
		logger:        logger,
		events:        make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	files := []string{ConfigPath(w.homeDir)}
	if w.whitelistPath != "" {
		files = append(files, w.whitelistPath)
	}
	for _, file := range files {
		_ = fsw.Add(file)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
