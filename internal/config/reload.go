// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	logger  zerolog.Logger

	listenMu  sync.RWMutex
	listeners []func(old, updated AppConfig)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHolder creates a holder seeded with an already loaded config.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  xglog.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers a callback invoked after every successful reload.
// Callbacks run on the reloading goroutine and must not block for long.
func (h *Holder) OnChange(fn func(old, updated AppConfig)) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload loads and validates the file again. On failure the old config stays active.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	updated, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = updated
	h.mu.Unlock()

	h.logChanges(old, updated)

	h.listenMu.RLock()
	listeners := append([]func(old, updated AppConfig){}, h.listeners...)
	h.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(old, updated)
	}

	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded")
	return nil
}

// Watch starts watching the config file until ctx is cancelled.
// With no config file this is a no-op.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = watcher
	h.done = make(chan struct{})

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str(xglog.FieldPath, path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, filepath.Clean(path))
	return nil
}

// Done is closed when the watch loop exits. Nil when no watcher was started.
func (h *Holder) Done() <-chan struct{} { return h.done }

func (h *Holder) watchLoop(ctx context.Context, path string) {
	defer close(h.done)
	defer func() { _ = h.watcher.Close() }()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return

		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", ev.Op.String()).
				Msg("config file changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().
						Err(err).
						Str("event", "config.auto_reload_failed").
						Msg("automatic config reload failed")
				}
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

func (h *Holder) logChanges(old, updated AppConfig) {
	if old.LogLevel != updated.LogLevel {
		h.logger.Info().Str("old", old.LogLevel).Str("new", updated.LogLevel).Msg("config changed: logLevel")
	}
	if old.Transcode.Encoder != updated.Transcode.Encoder {
		h.logger.Info().
			Str("old", old.Transcode.Encoder).
			Str("new", updated.Transcode.Encoder).
			Msg("config changed: transcode.encoder")
	}
	if old.Transcode.MaxConcurrent != updated.Transcode.MaxConcurrent {
		h.logger.Info().
			Int("old", old.Transcode.MaxConcurrent).
			Int("new", updated.Transcode.MaxConcurrent).
			Msg("config changed: transcode.maxConcurrent (applies after restart)")
	}
	if old.Cache != updated.Cache {
		h.logger.Info().Msg("config changed: cache")
	}
}
