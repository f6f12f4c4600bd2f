package watcher

import "github.com/fsnotify/fsnotify"

// Notifier abstracts the raw filesystem-event source so tests can drive the
// Watcher without touching a real filesystem, mirroring the Watcher
// interface in Yakitrak-obsidian-cli's pkg/cache/service.go.
type Notifier interface {
	Add(path string) error
	Remove(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyNotifier struct {
	*fsnotify.Watcher
}

// NewFsnotifyNotifier wraps a real fsnotify.Watcher as a Notifier.
func NewFsnotifyNotifier() (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyNotifier{Watcher: w}, nil
}

func (f *fsnotifyNotifier) Events() <-chan fsnotify.Event { return f.Watcher.Events }
func (f *fsnotifyNotifier) Errors() <-chan error          { return f.Watcher.Errors }
