// Package docsync watches a documentation directory and ingests its markdown
// and text files into the docs memory namespace, so retrieval can prime code
// generation with project knowledge. Files dropped or edited while the
// service runs are picked up live.
package docsync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces rapid successive writes to one file into a single
// ingest.
var debounceDelay = 200 * time.Millisecond

// maxDocBytes caps a single ingested file; larger files are skipped.
const maxDocBytes = 1 << 20

// DocSink receives ingested documents; satisfied by memory.Store.
type DocSink interface {
	AddDoc(ctx context.Context, title, content string, metadata map[string]any) (string, error)
}

// newWatcherFunc creates an fsnotify watcher; tests may replace it to inject
// errors.
type newWatcherFunc func() (*fsnotify.Watcher, error)

// Watcher mirrors one directory of docs into memory.
type Watcher struct {
	dir          string
	sink         DocSink
	logger       *slog.Logger
	watcher      *fsnotify.Watcher
	done         chan struct{}
	mu           sync.Mutex
	running      bool
	timersMu     sync.Mutex
	timers       map[string]*time.Timer
	newWatcherFn newWatcherFunc // nil means use fsnotify.NewWatcher
}

// New creates a Watcher over dir. Call Start to begin and Stop to release
// resources.
func New(dir string, sink DocSink, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:    dir,
		sink:   sink,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// ingestible reports whether name looks like a documentation file.
func ingestible(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Start ingests every existing doc, then watches for creates and writes.
// Start must not be called more than once without an intervening Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("docsync: already started")
	}

	newWatcher := fsnotify.NewWatcher
	if w.newWatcherFn != nil {
		newWatcher = w.newWatcherFn
	}
	watcher, err := newWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.running = true

	go w.initialScan(ctx)
	go w.eventLoop(ctx)
	return nil
}

// Stop ceases watching and releases resources. Safe to call even if not
// started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.running = false

	w.timersMu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.timersMu.Unlock()
	return err
}

// initialScan ingests the docs already present when the watcher starts.
func (w *Watcher) initialScan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("docs scan failed", "dir", w.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !ingestible(entry.Name()) {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ingestible(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.scheduleIngest(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("docs watch error", "error", err)
		}
	}
}

// scheduleIngest debounces per file: the timer resets on every qualifying
// event until writes settle.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceDelay, func() {
		w.timersMu.Lock()
		delete(w.timers, path)
		w.timersMu.Unlock()
		w.ingest(ctx, path)
	})
}

// ingest reads one file and stores it in the docs namespace. Failures are
// logged; a bad doc never stops the watcher.
func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("doc stat failed", "path", path, "error", err)
		}
		return
	}
	if info.Size() > maxDocBytes {
		w.logger.Warn("doc skipped, too large", "path", path, "bytes", info.Size())
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("doc read failed", "path", path, "error", err)
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}

	title := docTitle(path, content)
	meta := map[string]any{"path": filepath.Base(path)}
	if _, err := w.sink.AddDoc(ctx, title, content, meta); err != nil {
		w.logger.Warn("doc ingest failed", "path", path, "error", err)
		return
	}
	w.logger.Info("doc ingested", "path", filepath.Base(path), "title", title)
}

// docTitle prefers the first markdown heading, falling back to the filename
// stem.
func docTitle(path, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "#"); ok {
			if title := strings.TrimSpace(strings.TrimLeft(rest, "#")); title != "" {
				return title
			}
		}
		if line != "" {
			break
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
