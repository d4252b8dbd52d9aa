package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Kind names a record type.
type Kind string

const (
	KindWorkflow     Kind = "workflow"
	KindPageWorkflow Kind = "page_workflow"
)

// Change reports that a record was written or removed on disk, possibly by
// another process sharing the store directory.
type Change struct {
	Kind    Kind
	ID      string
	Removed bool
}

// Watch emits a Change for every record file event until ctx is done.
// The returned channel is closed when watching stops.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	dirs := map[string]Kind{
		filepath.Clean(s.workflows.BasePath): KindWorkflow,
		filepath.Clean(s.pages.BasePath):     KindPageWorkflow,
	}
	for dir := range dirs {
		if err := ensureDir(dir); err != nil {
			watcher.Close()
			return nil, err
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				kind, known := dirs[filepath.Dir(ev.Name)]
				id := filepath.Base(ev.Name)
				if !known || strings.HasPrefix(id, ".") {
					continue
				}
				var change Change
				switch {
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					change = Change{Kind: kind, ID: id, Removed: true}
				case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
					change = Change{Kind: kind, ID: id}
				default:
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
