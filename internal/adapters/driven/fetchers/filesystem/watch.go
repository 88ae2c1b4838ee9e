package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// DefaultDebounce is how long a watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watch emits batches of documents for files created or written under
// root. Events are collected until no new event arrives for debounce, then
// the changed files are read and sent as one batch. Subdirectories created
// while watching are watched too. The channel is closed when ctx is done.
func (f *Fetcher) Watch(ctx context.Context, root string, debounce time.Duration) (<-chan []domain.Document, error) {
	path, err := ResolvePath(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, path)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := addTree(watcher, path); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan []domain.Document)
	go f.watchLoop(ctx, watcher, path, debounce, out)
	return out, nil
}

func (f *Fetcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, root string, debounce time.Duration, out chan<- []domain.Document) {
	defer close(out)
	defer watcher.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if p, ok := f.handleEvent(watcher, root, event); ok {
				pending[p] = struct{}{}
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Watcher error: %v", err)

		case <-timer.C:
			docs := f.flush(pending)
			clear(pending)
			if len(docs) == 0 {
				continue
			}
			select {
			case out <- docs:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleEvent returns the path to re-read for event, if any. New
// directories are added to the watcher instead. Hidden entries below root
// are ignored.
func (f *Fetcher) handleEvent(watcher *fsnotify.Watcher, root string, event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if rel, err := filepath.Rel(root, event.Name); err != nil || hasHiddenElement(rel) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := addTree(watcher, event.Name); err != nil {
				logger.Warn("Cannot watch %s: %v", event.Name, err)
			}
		}
		return "", false
	}
	if !info.Mode().IsRegular() {
		return "", false
	}
	return event.Name, true
}

// flush reads the pending files in path order, skipping any that vanished
// or cannot be read.
func (f *Fetcher) flush(pending map[string]struct{}) []domain.Document {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		doc, err := f.read(p, info)
		if err != nil {
			logger.Warn("Skipping %s: %v", p, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// addTree watches dir and every visible directory beneath it.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && isHidden(d.Name()) {
			return fs.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// hasHiddenElement reports whether any element of path is a dotfile.
func hasHiddenElement(path string) bool {
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if isHidden(elem) {
			return true
		}
	}
	return false
}
