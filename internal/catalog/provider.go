package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Provider pushes catalog generations. Each emitted slice replaces the
// previous one entirely.
type Provider interface {
	// Watch starts emitting catalogs until ctx is done. The channel is closed
	// when the provider stops.
	Watch(ctx context.Context) (<-chan []ModelConfiguration, error)
}

// StaticProvider emits one fixed catalog.
type StaticProvider struct {
	Models []ModelConfiguration
}

func (p StaticProvider) Watch(ctx context.Context) (<-chan []ModelConfiguration, error) {
	ch := make(chan []ModelConfiguration, 1)
	models := append([]ModelConfiguration(nil), p.Models...)
	ch <- models
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// defaultDebounce coalesces the burst of events editors produce on save.
const defaultDebounce = 100 * time.Millisecond

// FileProvider loads a catalog file and re-emits it whenever the file changes.
type FileProvider struct {
	Path     string
	Debounce time.Duration
	Log      zerolog.Logger
}

// NewFileProvider returns a provider for the catalog at path.
func NewFileProvider(path string, log zerolog.Logger) *FileProvider {
	return &FileProvider{Path: path, Debounce: defaultDebounce, Log: log}
}

// Watch emits the current catalog, then a fresh one after every change. A
// catalog that fails to decode is logged and skipped; the last good one stays.
func (p *FileProvider) Watch(ctx context.Context) (<-chan []ModelConfiguration, error) {
	path, err := filepath.Abs(p.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog path: %w", err)
	}
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	// Watch the directory: editors often replace the file via rename.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	debounce := p.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	ch := make(chan []ModelConfiguration, 1)
	ch <- initial
	go func() {
		defer close(ch)
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.Log.Warn().Err(err).Str("path", path).Msg("catalog event=watch_error")
			case <-fire:
				fire = nil
				models, err := LoadFile(path)
				if err != nil {
					p.Log.Warn().Err(err).Str("path", path).Msg("catalog event=reload_failed")
					continue
				}
				p.Log.Info().Int("models", len(models)).Str("path", path).Msg("catalog event=reloaded")
				select {
				case ch <- models:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
