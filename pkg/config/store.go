package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active configuration. Readers call Current once per unit of work.
type Store struct {
	current atomic.Pointer[Config]
}

func NewStore(c *Config) *Store {
	s := &Store{}
	s.current.Store(c)
	return s
}

func (s *Store) Current() *Config { return s.current.Load() }

// Strategy is a shorthand for Current().Strategy.
func (s *Store) Strategy() Strategy { return s.current.Load().Strategy }

// Swap validates c and makes it current.
func (s *Store) Swap(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.current.Store(c)
	return nil
}

// ReloadFunc reports the outcome of a reload attempt.
type ReloadFunc func(c *Config, err error)

// Watch reloads the file on change until ctx is done. Invalid files keep the previous config.
func (s *Store) Watch(ctx context.Context, path string, onReload ReloadFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace files on save, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer w.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case <-pending:
				pending = nil
				c, err := LoadWithEnv(path)
				if err == nil {
					err = s.Swap(c)
				}
				if onReload != nil {
					onReload(c, err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onReload != nil {
					onReload(nil, err)
				}
			}
		}
	}()
	return nil
}
