// Copyright 2026 The Ecovisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watch observes a directory tree and reports changes once they
// settle down.
package watch

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDelay is the quiet period used when Options.Delay is zero.
const DefaultDelay = time.Second

type Options struct {
	// Ignore lists base names (or glob patterns on base names) of files
	// and directories whose changes do not count.
	Ignore []string
	Delay  time.Duration
	Logger *log.Logger
	// OnChange is called after changes have been quiet for Delay.  It runs
	// on its own goroutine; if it is still busy when the next burst
	// settles it is called again concurrently, and the receiver decides
	// whether to drop that call.
	OnChange func()
}

// Watcher watches a directory recursively.  Directories created after the
// watcher starts are picked up as they appear.
type Watcher struct {
	root   string
	opts   Options
	fw     *fsnotify.Watcher
	deb    *Debouncer
	logger *log.Logger
}

// New starts watching root.  Nothing is reported until Run is called.
func New(root string, opts Options) (*Watcher, error) {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	root, e := filepath.Abs(root)
	if e != nil {
		return nil, e
	}
	fw, e := fsnotify.NewWatcher()
	if e != nil {
		return nil, e
	}
	w := &Watcher{
		root:   root,
		opts:   opts,
		fw:     fw,
		logger: opts.Logger,
	}
	if w.logger == nil {
		w.logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	w.deb = NewDebouncer(opts.Delay, w.fire)
	if e := w.addTree(root); e != nil {
		fw.Close()
		return nil, e
	}
	return w, nil
}

// Root returns the absolute path being watched.
func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) ignored(path string) bool {
	rel, e := filepath.Rel(w.root, path)
	if e != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		for _, pat := range w.opts.Ignore {
			if ok, _ := filepath.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished while walking.
			if os.IsNotExist(err) && path != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

func (w *Watcher) fire() {
	if w.opts.OnChange != nil {
		w.opts.OnChange()
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || w.ignored(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, e := os.Stat(ev.Name); e == nil && fi.IsDir() {
			if e := w.addTree(ev.Name); e != nil {
				w.logger.Printf("Cannot watch %s: %v", ev.Name, e)
			}
		}
	}
	w.deb.Poke()
}

// Run delivers changes to OnChange until ctx is done, then releases the
// underlying watches.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	defer w.deb.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case e, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("Watch error on %s: %v", w.root, e)
		}
	}
}
