package configrepo

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rzbill/cruise/pkg/log"
)

// watcher turns file changes into debounced refreshes.
type watcher struct {
	svc    *Service
	fs     *fsnotify.Watcher
	logger log.Logger

	mainFile string
	// roots maps checkout directories to repo ids.
	roots map[string]string
}

func newWatcher(svc *Service, logger log.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{svc: svc, fs: fw, logger: logger, roots: map[string]string{}}

	if svc.opts.MainFile != "" {
		w.mainFile = filepath.Clean(svc.opts.MainFile)
		// Editors replace files on save, so the directory is watched.
		if err := fw.Add(filepath.Dir(w.mainFile)); err != nil {
			logger.Warn("Cannot watch main configuration file", log.Str("path", w.mainFile), log.Err(err))
		}
	}
	for id, r := range svc.repos {
		// Git checkouts change only when GitFetcher pulls.
		if r.Dir == "" || r.Kind() == TypeGit {
			continue
		}
		root := filepath.Clean(r.Dir)
		w.roots[root] = id
		w.addTree(root)
	}
	return w, nil
}

func (w *watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("Cannot watch directory", log.Str("path", path), log.Err(err))
		}
		return nil
	})
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", log.Err(err))
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if path == w.mainFile {
		w.svc.queue.AddAfter(mainKey, w.svc.opts.Debounce)
		return
	}
	id, ok := w.repoOf(path)
	if !ok {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addTree(path)
		}
	}
	w.logger.Debug("Config repo checkout changed", log.Repo(id), log.Str("path", path))
	w.svc.queue.AddAfter(repoKeyPrefix+id, w.svc.opts.Debounce)
}

func (w *watcher) repoOf(path string) (string, bool) {
	for root, id := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return id, true
	}
	return "", false
}

func (w *watcher) close() {
	if err := w.fs.Close(); err != nil {
		w.logger.Debug("Closing file watcher", log.Err(err))
	}
}
