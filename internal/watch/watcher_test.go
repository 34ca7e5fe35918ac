package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerCalls struct {
	mu    sync.Mutex
	cases map[string]string
}

func (h *handlerCalls) handle(ctx context.Context, caseID, sourceText string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cases[caseID] = sourceText
	return nil
}

func (h *handlerCalls) get(caseID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	text, ok := h.cases[caseID]
	return text, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not reached within 5s")
}

func TestIntakeWatcher_IngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	h := &handlerCalls{cases: make(map[string]string)}

	iw, err := NewIntakeWatcher(dir, 100*time.Millisecond, h.handle)
	require.NoError(t, err)
	require.NoError(t, iw.Start(context.Background()))
	defer iw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "applicant-42.txt"), []byte("packet body"), 0644))

	waitFor(t, func() bool {
		_, ok := h.get("applicant-42")
		return ok
	})
	text, _ := h.get("applicant-42")
	assert.Equal(t, "packet body", text)

	// The processed file is archived out of the intake directory.
	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "processed", "applicant-42.txt"))
		return err == nil
	})
	_, err = os.Stat(filepath.Join(dir, "applicant-42.txt"))
	assert.True(t, os.IsNotExist(err))

	stats := iw.GetStats()
	assert.Equal(t, 1, stats.FilesSeen)
	assert.Equal(t, 1, stats.CasesStarted)
	assert.Equal(t, 0, stats.CasesFailed)
}

func TestIntakeWatcher_PicksUpPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backlog.md"), []byte("waiting"), 0644))

	h := &handlerCalls{cases: make(map[string]string)}
	iw, err := NewIntakeWatcher(dir, 50*time.Millisecond, h.handle)
	require.NoError(t, err)
	require.NoError(t, iw.Start(context.Background()))
	defer iw.Stop()

	waitFor(t, func() bool {
		_, ok := h.get("backlog")
		return ok
	})
}

func TestIntakeWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	h := &handlerCalls{cases: make(map[string]string)}

	iw, err := NewIntakeWatcher(dir, 50*time.Millisecond, h.handle)
	require.NoError(t, err)
	require.NoError(t, iw.Start(context.Background()))
	defer iw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("binary"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("packet"), 0644))

	waitFor(t, func() bool {
		_, ok := h.get("real")
		return ok
	})
	_, ok := h.get("notes")
	assert.False(t, ok)
	assert.Equal(t, 1, iw.GetStats().FilesSeen)
}

func TestIntakeWatcher_StopIsIdempotent(t *testing.T) {
	iw, err := NewIntakeWatcher(t.TempDir(), 50*time.Millisecond, func(context.Context, string, string) error { return nil })
	require.NoError(t, err)
	require.NoError(t, iw.Start(context.Background()))

	iw.Stop()
	iw.Stop()
}
