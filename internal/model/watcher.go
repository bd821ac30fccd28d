package model

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay gives the producer time to finish writing a dropped
// model file before we try to load it.
const settleDelay = 500 * time.Millisecond

// Watcher watches the incoming-models directory and validates every
// new .onnx file through the lifecycle manager, recording verdicts in
// the registry. It never promotes anything; promotion stays an
// explicit operator action.
type Watcher struct {
	manager *Manager
	dir     string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher over dir using the given manager.
func NewWatcher(manager *Manager, dir string) *Watcher {
	return &Watcher{manager: manager, dir: dir}
}

// Start begins watching. It returns once the directory watch is
// established; validation runs on a background goroutine until Stop
// is called or ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx, fsw)
	log.Printf("model: watching %s for candidate models", w.dir)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".onnx") {
				continue
			}
			w.validate(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("model: watch error on %s: %v", w.dir, err)
		}
	}
}

func (w *Watcher) validate(ctx context.Context, path string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(settleDelay):
	}

	errs := w.manager.ValidateModel(ctx, path)
	if len(errs) == 0 {
		log.Printf("model: candidate %s validated clean", filepath.Base(path))
		return
	}
	log.Printf("model: candidate %s rejected: %s", filepath.Base(path), errs[0].Message)
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw := w.watcher
	done := w.done
	w.watcher = nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	fsw.Close()
	<-done
}
