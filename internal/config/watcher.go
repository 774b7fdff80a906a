package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher republishes a fresh Config snapshot whenever the backing
// config.properties file is written. It never reaches into a running
// transfer: engines are handed a *Config when a task is sent or when
// listening starts, so a mid-transfer edit to chunk.size never changes a
// task already chunking.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan *Config
	errors  chan error
	done    chan struct{}
}

// NewWatcher starts watching path's parent directory (fsnotify cannot
// watch a single file across editors that write-then-rename) and
// delivers a reloaded Config on Changes() after every write or create
// event naming path.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		changes: make(chan *Config, 1),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.changes)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				select {
				case w.errors <- err:
				default:
				}
				continue
			}
			select {
			case w.changes <- cfg:
			default:
				// drop stale snapshot, latest reload always wins
				select {
				case <-w.changes:
				default:
				}
				w.changes <- cfg
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

// Changes returns the channel of reloaded configs.
func (w *Watcher) Changes() <-chan *Config { return w.changes }

// Errors returns the channel of watch/reload errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
