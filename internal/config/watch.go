package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the decision section of a config file when the file
// changes. Only the decision section is applied on reload; everything else
// requires a restart.
type Watcher struct {
	path     string
	onChange func(DecisionConfig)
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	watcher *fsnotify.Watcher
}

// NewWatcher creates a config watcher. onChange is called with the freshly
// loaded decision section after every successful reload.
func NewWatcher(path string, onChange func(DecisionConfig), logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Start begins watching. Idempotent: starting a running watcher is an error.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("config watcher is already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes quiet.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.running = true

	go w.run(fw, w.stopCh)

	w.logger.Info("config watcher started", zap.String("path", w.path))
	return nil
}

// Stop stops watching. Safe to call on a stopped watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	_ = w.watcher.Close()
}

func (w *Watcher) run(fw *fsnotify.Watcher, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config watcher panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous decision config", zap.Error(err))
		return
	}
	w.logger.Info("decision config reloaded",
		zap.Float64("drop_threshold_pct", cfg.Decision.DropThresholdPct),
		zap.Float64("rise_threshold_pct", cfg.Decision.RiseThresholdPct))
	w.onChange(cfg.Decision)
}
