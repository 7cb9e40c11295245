// Copyright 2025 The takt authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package source loads workflow definitions from a YAML file and keeps the
// workflow store in sync with it. The file is watched with fsnotify; edits
// are debounced and applied as a full reload, so the file is the declarative
// record of the workflows it manages.
package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/takt-io/takt/internal/log"
	"github.com/takt-io/takt/internal/metrics"
	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/internal/trigger"
	"github.com/takt-io/takt/pkg/errors"
)

// DefaultDebounce is how long reloads wait for the file to settle. Editors
// typically emit several events per save (write, rename, chmod); one reload
// covers them all.
const DefaultDebounce = 250 * time.Millisecond

// Config carries the optional knobs of a FileSource.
type Config struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	// Logger receives reload and watch logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// FileSource watches one workflow definition file and applies it to the
// workflow store: present definitions are registered (with natural-trigger
// cursor initialization), definitions that vanish from the file are deleted.
// Only workflows this source loaded are ever deleted; workflows registered
// through the API are left alone.
type FileSource struct {
	path     string
	store    storage.WorkflowStore
	debounce time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	watcher *fsnotify.Watcher
	timer   *time.Timer

	reloadMu sync.Mutex
	loaded   map[model.WorkflowID]bool
}

// New creates a FileSource for the given definition file. The watch starts
// with Start.
func New(store storage.WorkflowStore, path string, cfg Config) *FileSource {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:     path,
		store:    store,
		debounce: debounce,
		logger:   log.WithComponent(logger, "workflow-source"),
		now:      time.Now,
		loaded:   make(map[model.WorkflowID]bool),
	}
}

// Start performs the initial load and begins watching the file's directory.
// Watching the directory rather than the file survives editors that replace
// the file by rename. A missing file at startup is tolerated; a missing
// directory is not.
func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return errors.Wrapf(err, "resolving workflow definition file %s", s.path)
	}
	s.path = abs

	s.load(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating file watcher")
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watching %s", filepath.Dir(abs))
	}
	s.watcher = watcher

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)

	s.logger.Info("workflow source started", log.String("path", abs))
	return nil
}

// Stop ends the watch. Safe to call more than once.
func (s *FileSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.stopCh)
	watcher := s.watcher
	s.mu.Unlock()

	<-s.doneCh
	watcher.Close()
	s.logger.Info("workflow source stopped")
}

func (s *FileSource) run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", log.Attr("error", err))
		}
	}
}

func (s *FileSource) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if filepath.Base(ev.Name) != filepath.Base(s.path) {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.load(ctx) })
}

// load reads and applies the file, recording the outcome. Errors keep the
// previously applied definitions in place.
func (s *FileSource) load(ctx context.Context) {
	err := s.reload(ctx)
	metrics.RecordSourceReload(err)
	if err != nil {
		s.logger.Warn("reloading workflow definitions failed",
			log.String("path", s.path), log.Attr("error", err))
	}
}

func (s *FileSource) reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "reading workflow definitions")
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return err
	}

	seen := make(map[model.WorkflowID]bool, len(defs))
	registered := 0
	for _, def := range defs {
		id := def.ID()
		if err := def.Validate(); err != nil {
			// The stored version, if any, stays until the file entry is
			// fixed or removed.
			if s.loaded[id] {
				seen[id] = true
			}
			s.logger.Warn("skipping invalid workflow definition",
				log.String(log.ComponentKey, def.Component),
				log.String(log.WorkflowKey, def.Name),
				log.Attr("error", err))
			continue
		}
		if err := trigger.RegisterWorkflow(ctx, s.store, def.Workflow(), s.now()); err != nil {
			if s.loaded[id] {
				seen[id] = true
			}
			s.logger.Warn("registering workflow failed",
				log.String(log.ComponentKey, def.Component),
				log.String(log.WorkflowKey, def.Name),
				log.Attr("error", err))
			continue
		}
		if def.Enabled != nil {
			if err := s.store.SetEnabled(ctx, id, *def.Enabled); err != nil {
				s.logger.Warn("applying enabled flag failed",
					log.String(log.ComponentKey, def.Component),
					log.String(log.WorkflowKey, def.Name),
					log.Attr("error", err))
			}
		}
		seen[id] = true
		registered++
	}

	removed := 0
	for id := range s.loaded {
		if seen[id] {
			continue
		}
		if err := s.store.DeleteWorkflow(ctx, id); err != nil {
			var notFound *errors.NotFoundError
			if !errors.As(err, &notFound) {
				s.logger.Warn("removing workflow failed",
					log.String(log.ComponentKey, id.Component),
					log.String(log.WorkflowKey, id.Name),
					log.Attr("error", err))
				// Keep tracking it so the next reload retries the delete.
				seen[id] = true
				continue
			}
		}
		removed++
		s.logger.Info("workflow removed",
			log.String(log.ComponentKey, id.Component),
			log.String(log.WorkflowKey, id.Name))
	}

	s.loaded = seen
	s.logger.Info("workflow definitions loaded",
		log.String("path", s.path),
		log.Int("workflows", registered),
		log.Int("removed", removed))
	return nil
}
