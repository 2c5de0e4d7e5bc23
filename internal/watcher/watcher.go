// Package watcher monitors the configuration file and hot-reloads it when it
// changes. Editors rewrite files in several steps, so events are deduplicated
// by content hash before the reload callback fires.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/llmlog/llmlog/internal/config"
)

// Watcher reloads the configuration file on change.
type Watcher struct {
	configPath     string
	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher
	lastHash       string
}

// NewWatcher creates a watcher for configPath. The callback receives every
// successfully reloaded configuration.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
		lastHash:       fileHash(configPath),
	}, nil
}

// Start begins watching. Watching the parent directory keeps the watch alive
// across rename-based saves.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		log.Errorf("failed to watch config directory: %v", err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name != w.configPath {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	hash := fileHash(w.configPath)
	if hash == "" || hash == w.lastHash {
		return
	}
	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return
	}
	w.lastHash = hash
	log.Infof("config file changed, reloading")
	w.reloadCallback(cfg)
}

func fileHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
