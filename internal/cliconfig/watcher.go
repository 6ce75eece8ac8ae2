package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/forgesight/eventship/internal/ports"
)

// DefaultDebounceDelay is how long the watcher waits after a file change
// before reloading; editors often write config files in several steps.
const DefaultDebounceDelay = 100 * time.Millisecond

// Watcher monitors the config file and invokes a callback with the parsed
// file when it changes. The shipper uses this to swap filter rules and
// rate-limit thresholds without restarting the connection.
type Watcher struct {
	path          string
	debounceDelay time.Duration
	onChange      func(FileConfig)
	logger        ports.Logger

	mu       sync.Mutex
	debounce *time.Timer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, onChange func(FileConfig), logger ports.Logger) *Watcher {
	return &Watcher{
		path:          path,
		debounceDelay: DefaultDebounceDelay,
		onChange:      onChange,
		logger:        logger,
	}
}

// Start begins watching. Returns an error only when the watch cannot be
// established at all; later watch errors are logged, not fatal.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(watchCtx, watcher)

	w.logger.Info("config watcher started", ports.String("path", w.path))
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", ports.Err(err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current settings",
			ports.String("path", w.path), ports.Err(err))
		return
	}
	w.logger.Info("config file changed, applying live settings")
	w.onChange(fc)
}
