// Package watch runs the intake directory watcher: application packets
// dropped as text files are picked up, run through the pipeline, and moved
// aside once evaluated.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"casewise/internal/logging"
)

// Handler evaluates one ingested packet. caseID is derived from the file
// name; sourceText is the packet body.
type Handler func(ctx context.Context, caseID, sourceText string) error

// Stats tracks watcher activity for debugging.
type Stats struct {
	FilesSeen     int
	CasesStarted  int
	CasesFailed   int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// IntakeWatcher watches an intake directory for new packet files. Writes
// are debounced so a file still being copied in is not ingested half way.
type IntakeWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	intakeDir string
	handler   Handler
	settle    time.Duration
	pending   map[string]time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	stats     Stats
}

// NewIntakeWatcher creates a watcher over intakeDir. The directory is
// created on Start if it does not exist.
func NewIntakeWatcher(intakeDir string, settle time.Duration, handler Handler) (*IntakeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &IntakeWatcher{
		watcher:   w,
		intakeDir: intakeDir,
		handler:   handler,
		settle:    settle,
		pending:   make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
// Files already sitting in the intake directory are queued immediately.
func (iw *IntakeWatcher) Start(ctx context.Context) error {
	iw.mu.Lock()
	if iw.running {
		iw.mu.Unlock()
		return nil
	}
	iw.running = true
	iw.mu.Unlock()

	if err := os.MkdirAll(iw.intakeDir, 0755); err != nil {
		return err
	}
	if err := iw.watcher.Add(iw.intakeDir); err != nil {
		return err
	}
	logging.Watch("intake watcher: watching %s", iw.intakeDir)

	entries, err := os.ReadDir(iw.intakeDir)
	if err == nil {
		now := time.Now()
		iw.mu.Lock()
		for _, e := range entries {
			if !e.IsDir() && isPacketFile(e.Name()) {
				iw.pending[filepath.Join(iw.intakeDir, e.Name())] = now
				iw.stats.FilesSeen++
			}
		}
		iw.mu.Unlock()
	}

	go iw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (iw *IntakeWatcher) Stop() {
	iw.mu.Lock()
	if !iw.running {
		iw.mu.Unlock()
		return
	}
	iw.running = false
	iw.mu.Unlock()

	close(iw.stopCh)
	<-iw.doneCh

	if err := iw.watcher.Close(); err != nil {
		logging.Watch("intake watcher: close error: %v", err)
	}
	logging.Watch("intake watcher: stopped")
}

// GetStats returns a snapshot of watcher activity.
func (iw *IntakeWatcher) GetStats() Stats {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.stats
}

func (iw *IntakeWatcher) run(ctx context.Context) {
	defer close(iw.doneCh)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-iw.stopCh:
			return

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			iw.handleEvent(event)

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			logging.Watch("intake watcher: %v", err)
			iw.mu.Lock()
			iw.stats.Errors++
			iw.mu.Unlock()

		case <-ticker.C:
			iw.processSettled(ctx)
		}
	}
}

func (iw *IntakeWatcher) handleEvent(event fsnotify.Event) {
	if !isPacketFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	iw.mu.Lock()
	if _, seen := iw.pending[event.Name]; !seen {
		iw.stats.FilesSeen++
	}
	iw.pending[event.Name] = time.Now()
	iw.stats.LastEventTime = time.Now()
	iw.stats.LastEventPath = event.Name
	iw.mu.Unlock()
}

// processSettled ingests files whose last write is older than the settle
// window.
func (iw *IntakeWatcher) processSettled(ctx context.Context) {
	iw.mu.Lock()
	now := time.Now()
	var ready []string
	for path, last := range iw.pending {
		if now.Sub(last) >= iw.settle {
			ready = append(ready, path)
			delete(iw.pending, path)
		}
	}
	iw.mu.Unlock()

	for _, path := range ready {
		iw.ingest(ctx, path)
	}
}

func (iw *IntakeWatcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logging.Watch("intake watcher: read %s: %v", path, err)
		iw.mu.Lock()
		iw.stats.Errors++
		iw.mu.Unlock()
		return
	}

	caseID := caseIDFromPath(path)
	logging.Watch("intake watcher: ingesting %s as case %s", path, caseID)

	iw.mu.Lock()
	iw.stats.CasesStarted++
	iw.mu.Unlock()

	if err := iw.handler(ctx, caseID, string(data)); err != nil {
		logging.Watch("intake watcher: case %s: %v", caseID, err)
		iw.mu.Lock()
		iw.stats.CasesFailed++
		iw.mu.Unlock()
		return
	}

	iw.archive(path)
}

// archive moves a processed file into the processed/ subdirectory so a
// restart does not re-ingest it.
func (iw *IntakeWatcher) archive(path string) {
	dir := filepath.Join(iw.intakeDir, "processed")
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Watch("intake watcher: create %s: %v", dir, err)
		return
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		logging.Watch("intake watcher: archive %s: %v", path, err)
	}
}

func isPacketFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}

func caseIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
