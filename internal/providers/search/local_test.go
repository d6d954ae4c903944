package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openreport-ai/orchestrator/internal/config"
)

func buildTestIndex(t *testing.T, enabled []string) *Index {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.txt"),
		[]byte("The zebra is a striped African equine."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.md"),
		[]byte("Lions are large cats native to Africa."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"),
		[]byte{0x00, 0x01}, 0o644))

	ix, err := BuildIndex(dir, filepath.Join(t.TempDir(), "index.db"), 1000, 200, enabled, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestBuildIndexAndSearch(t *testing.T) {
	ix := buildTestIndex(t, nil)

	chunks, files, err := ix.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.GreaterOrEqual(t, chunks, 2)

	rows, err := ix.Search(context.Background(), "zebra", 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alpha.txt", rows[0].FilePath)
}

func TestBuildIndexEnabledFilesFilter(t *testing.T) {
	ix := buildTestIndex(t, []string{"beta.md"})

	files, err := ix.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta.md"}, files)
}

func TestLocalProviderSearch(t *testing.T) {
	ix := buildTestIndex(t, nil)
	p := NewLocalProvider(ix, zaptest.NewLogger(t))

	settings := config.SearchSettings{Local: config.LocalSearchSettings{TopK: 3}}
	findings, err := p.Search(context.Background(), "lions", settings)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "beta.md", findings[0].URL)
	assert.Contains(t, findings[0].Content, "Lions")
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := chunkText(text, 1000, 200)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 1000)
	}
}
