// Package rulebook is the Rulebook Store: the on-disk JSON document holding
// the current Rulebook, with load/save and a filesystem-watcher-driven
// hot-reload stream.
package rulebook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/sentineld/internal/model"
)

// debounce coalesces bursts of writes to the rulebook file before reloading.
const debounce = 100 * time.Millisecond

// Store owns the rulebook file path. Writes are serialized through the
// Learner (single writer); Load/Save themselves are not internally locked.
// Save writes the file in place (no temp-file rename, so not atomic); the
// watcher's debounce on the read side coalesces partial writes.
type Store struct {
	path string
}

// New returns a Store for path, creating the parent directory if absent.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("rulebook: create dir %s: %w", dir, err)
		}
	}
	return &Store{path: path}, nil
}

// Path returns the rulebook file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the rulebook file. If absent, it writes and returns
// a fresh default rulebook (version 1, no rules).
func (s *Store) Load() (model.Rulebook, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			rb := model.NewRulebook()
			if err := s.Save(rb); err != nil {
				return model.Rulebook{}, err
			}
			return rb, nil
		}
		return model.Rulebook{}, fmt.Errorf("rulebook: read %s: %w", s.path, err)
	}

	var rb model.Rulebook
	if err := json.Unmarshal(data, &rb); err != nil {
		return model.Rulebook{}, fmt.Errorf("rulebook: parse %s: %w", s.path, err)
	}
	return rb, nil
}

// Save serializes rulebook as pretty-printed JSON and writes it to disk.
func (s *Store) Save(rb model.Rulebook) error {
	data, err := json.MarshalIndent(rb, "", "  ")
	if err != nil {
		return fmt.Errorf("rulebook: encode: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("rulebook: write %s: %w", s.path, err)
	}
	return nil
}

// Update is the result delivered on the Watch stream: either a freshly
// loaded Rulebook, or a parse/read error. Consumers keep their previous
// rulebook on an error update.
type Update struct {
	Rulebook model.Rulebook
	Err      error
}

// Watch starts a filesystem watcher on the rulebook's containing directory
// and returns a channel of Updates. On a create/modify event matching the
// rulebook's filename, it waits out the debounce window, reloads, and
// delivers the result. The channel is bounded and drops under backpressure —
// only the latest state matters, per the hot-reload design note. Watch
// returns immediately; the watching goroutine runs until stop is closed,
// then closes the channel.
func (s *Store) Watch(stop <-chan struct{}) (<-chan Update, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rulebook: create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("rulebook: watch %s: %w", dir, err)
	}

	name := filepath.Base(s.path)
	out := make(chan Update, 1)

	go func() {
		defer watcher.Close()
		defer close(out)

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-stop:
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(debounce)
				timerC = timer.C

			case <-timerC:
				timerC = nil
				rb, err := s.Load()
				u := Update{Rulebook: rb, Err: err}
				select {
				case out <- u:
				default:
					// Drop under backpressure; the next tick carries the latest state.
					select {
					case <-out:
					default:
					}
					out <- u
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case out <- Update{Err: fmt.Errorf("rulebook: watcher error: %w", err)}:
				default:
				}
			}
		}
	}()

	return out, nil
}
