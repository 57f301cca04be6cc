package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads configuration when the file changes on disk
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   zerolog.Logger
	done     chan struct{}
}

// NewWatcher creates a config file watcher. onChange receives the freshly
// loaded configuration; invalid files are logged and skipped so a half-saved
// edit never takes down a running process.
func NewWatcher(loader *Loader, onChange func(*Config), logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	w := &Watcher{
		loader:   loader,
		watcher:  fw,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}

	// Watch the directory; editors replace files rather than writing in place
	dir := filepath.Dir(loader.GetConfigPath())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	target := w.loader.GetConfigPath()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous config")
				continue
			}
			if err := Validate(cfg); err != nil {
				w.logger.Warn().Err(err).Msg("Config reload rejected by validation")
				continue
			}

			w.logger.Info().Str("path", target).Msg("Config reloaded")
			w.onChange(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
