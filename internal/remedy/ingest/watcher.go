// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/format"
)

// DefaultDebounce is how long a file must be quiet before it is emitted
const DefaultDebounce = 250 * time.Millisecond

// Watcher emits batch files created or rewritten in a directory. Bursts of
// events for one file are coalesced into a single emission.
type Watcher struct {
	dir      string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	batches chan string
	ready   chan string
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher starts watching dir. A zero debounce uses DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("error watching %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		fsw:      fsw,
		debounce: debounce,
		logger:   logger,
		batches:  make(chan string),
		ready:    make(chan string, 16),
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Batches delivers batch file paths. It is closed when Run returns.
func (w *Watcher) Batches() <-chan string {
	return w.batches
}

// Run processes filesystem events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isBatchFile(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.String("dir", w.dir), zap.Error(err))

		case path := <-w.ready:
			w.logger.Debug("Batch file ready", zap.String("path", path))
			select {
			case w.batches <- path:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stop() {
	close(w.done)

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.fsw.Close()
	close(w.batches)
}

// isBatchFile skips hidden and editor temp files
func isBatchFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return format.IsDocumentFile(base)
}
