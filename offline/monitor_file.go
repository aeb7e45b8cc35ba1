// ABOUTME: Connectivity events from a status file, e.g. one written by a NetworkManager dispatcher script.
// ABOUTME: Uses fsnotify on the parent directory so atomic replaces are seen.
package offline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileSource turns changes of a connectivity status file into online/offline
// events. A missing file reads as offline.
type FileSource struct {
	path   string
	events chan bool
	log    logrus.FieldLogger
}

// NewFileSource watches path once Run is called.
func NewFileSource(path string, log logrus.FieldLogger) *FileSource {
	if log == nil {
		log = defaultLogger()
	}
	return &FileSource{
		path:   filepath.Clean(path),
		events: make(chan bool, 8),
		log:    log.WithField("status_file", path),
	}
}

// Events returns the channel of connectivity states; it is closed when Run returns.
func (fs *FileSource) Events() <-chan bool { return fs.events }

// ParseStatus interprets status file contents.
func ParseStatus(b []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "online", "up", "connected", "1", "true":
		return true
	default:
		return false
	}
}

// Run emits the current state, then one event per change, until ctx is done.
func (fs *FileSource) Run(ctx context.Context) error {
	defer close(fs.events)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(fs.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	last := fs.read()
	if !fs.emit(ctx, last) {
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != fs.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cur := fs.read()
			if cur == last {
				continue
			}
			last = cur
			if !fs.emit(ctx, cur) {
				return ctx.Err()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fs.log.WithError(err).Warn("status file watcher error")
		}
	}
}

func (fs *FileSource) read() bool {
	b, err := os.ReadFile(fs.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.log.WithError(err).Warn("read status file")
		}
		return false
	}
	return ParseStatus(b)
}

func (fs *FileSource) emit(ctx context.Context, online bool) bool {
	select {
	case fs.events <- online:
		return true
	case <-ctx.Done():
		return false
	}
}
