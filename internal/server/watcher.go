package server

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smutch/hyperspec/internal/capture"
)

// CaptureEvent reports a reflectance header appearing or changing under
// the watched tree.
type CaptureEvent struct {
	CaptureID string    `json:"capture_id"`
	Path      string    `json:"path"`
	Time      time.Time `json:"time"`
}

// Watcher monitors a capture root for new reflectance headers so a crop
// session can pick up captures written while it is running.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan CaptureEvent
	root    string
	log     *slog.Logger
	done    chan bool
}

// NewWatcher creates a watcher rooted at root.
func NewWatcher(root string, log *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher: watcher,
		Events:  make(chan CaptureEvent, 100),
		root:    root,
		log:     log,
		done:    make(chan bool),
	}, nil
}

// Start begins monitoring. fsnotify watches are not recursive, so every
// existing subdirectory is added and new ones are added as they appear.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.log.Warn("cannot watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	go w.processEvents()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	close(w.Events)
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				// New directories need their own watch.
				if isDir(event.Name) {
					if err := w.watcher.Add(event.Name); err != nil {
						w.log.Warn("cannot watch directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isReflectanceHeader(event.Name) {
				continue
			}

			ev := CaptureEvent{
				CaptureID: capture.IDFromPath(event.Name),
				Path:      event.Name,
				Time:      time.Now(),
			}
			select {
			case w.Events <- ev:
			default:
				w.log.Warn("event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func isReflectanceHeader(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, "REFLECTANCE_") && strings.HasSuffix(name, ".hdr")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
