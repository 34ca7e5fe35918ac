package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initWorkspace(t *testing.T, configYAML string) string {
	t.Helper()
	dir := t.TempDir()
	if configYAML != "" {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".casewise"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".casewise", "config.yaml"), []byte(configYAML), 0644))
	}
	t.Cleanup(Close)
	return dir
}

func TestInitialize_DebugOffIsSilent(t *testing.T) {
	dir := initWorkspace(t, "")
	require.NoError(t, Initialize(dir))

	assert.False(t, IsDebugMode())
	Pipeline("this goes nowhere")

	_, err := os.Stat(filepath.Join(dir, ".casewise", "logs"))
	assert.True(t, os.IsNotExist(err), "no logs directory when debug is off")
}

func TestInitialize_DebugModeWritesCategoryFiles(t *testing.T) {
	dir := initWorkspace(t, "logging:\n  debug: true\n  level: debug\n")
	require.NoError(t, Initialize(dir))
	require.True(t, IsDebugMode())

	Pipeline("case %s accepted", "case-1")
	TaskDebug("task %s starting", "extract")
	Close()

	pipeLog, err := os.ReadFile(filepath.Join(dir, ".casewise", "logs", "pipeline.log"))
	require.NoError(t, err)
	assert.Contains(t, string(pipeLog), "case case-1 accepted")

	taskLog, err := os.ReadFile(filepath.Join(dir, ".casewise", "logs", "tasks.log"))
	require.NoError(t, err)
	assert.Contains(t, string(taskLog), "[DEBUG]")
}

func TestInitialize_CategoryFilter(t *testing.T) {
	dir := initWorkspace(t, "logging:\n  debug: true\n  level: debug\n  categories:\n    pipeline: true\n    llm: false\n")
	require.NoError(t, Initialize(dir))

	Pipeline("kept")
	LLM("dropped")
	Close()

	_, err := os.Stat(filepath.Join(dir, ".casewise", "logs", "pipeline.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ".casewise", "logs", "llm.log"))
	assert.True(t, os.IsNotExist(err), "disabled category opens no file")
}

func TestLevelFiltering(t *testing.T) {
	dir := initWorkspace(t, "logging:\n  debug: true\n  level: warn\n")
	require.NoError(t, Initialize(dir))

	l := Get(CategoryStore)
	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("shown warn")
	l.Error("shown error")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, ".casewise", "logs", "store.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown warn")
	assert.Contains(t, string(data), "shown error")
}
