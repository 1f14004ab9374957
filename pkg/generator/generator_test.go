package generator

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func TestListName(t *testing.T) {
	assert.Equal(t, "uncategorized", ListName(""))
	assert.Equal(t, "advertising", ListName("advertising"))
}

func TestGenerateListFormats(t *testing.T) {
	dir := t.TempDir()
	g, err := New(filepath.Join(dir, "output"))
	require.NoError(t, err)

	domains := []string{"ads.example.com", "tracker.example.net"}
	files, err := g.GenerateList("all_domains", domains, nil)
	require.NoError(t, err)
	require.Len(t, files, 3)

	expected := map[string]string{
		"hosts":   "0.0.0.0 ads.example.com\n0.0.0.0 tracker.example.net\n",
		"plain":   "ads.example.com\ntracker.example.net\n",
		"adblock": "||ads.example.com^\n||tracker.example.net^\n",
	}

	for _, file := range files {
		assert.Equal(t, "all_domains", file.Name)
		assert.Equal(t, int64(2), file.DomainCount)
		assert.Positive(t, file.SizeBytes)

		path := filepath.Join(g.OutputDir(), "all_domains_"+file.Format+".txt.gz")
		assert.Equal(t, expected[file.Format], readGzip(t, path))

		info, statErr := os.Stat(path)
		require.NoError(t, statErr)
		assert.Equal(t, file.SizeBytes, info.Size())
	}
}

func TestGenerateListEmpty(t *testing.T) {
	g, err := New(t.TempDir())
	require.NoError(t, err)

	files, err := g.GenerateList("empty", nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 3)

	for _, file := range files {
		assert.Zero(t, file.DomainCount)
		path := filepath.Join(g.OutputDir(), "empty_"+file.Format+".txt.gz")
		assert.Empty(t, readGzip(t, path))
	}
}

func TestGenerateListProgress(t *testing.T) {
	g, err := New(t.TempDir())
	require.NoError(t, err)

	var events []types.FormatProgress
	_, err = g.GenerateList("l", []string{"a.example.com"}, func(p types.FormatProgress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	// generating, compressing and completed per format
	require.Len(t, events, 9)
	for i, format := range Formats {
		generating, compressing, completed := events[i*3], events[i*3+1], events[i*3+2]
		assert.Equal(t, format, generating.Format)
		assert.Equal(t, types.FormatGenerating, generating.Status)
		assert.Equal(t, types.FormatCompressing, compressing.Status)
		assert.Equal(t, types.FormatCompleted, completed.Status)
		assert.Equal(t, int64(1), completed.DomainsWritten)
		require.NotNil(t, completed.GzSize)
		assert.Positive(t, *completed.GzSize)
	}
}

func TestCleanupOldFiles(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	_, err = g.GenerateList("stale", []string{"a.example.com"}, nil)
	require.NoError(t, err)

	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0o644))

	require.NoError(t, g.CleanupOldFiles())

	matches, err := filepath.Glob(filepath.Join(dir, "*.gz"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = os.Stat(keep)
	assert.NoError(t, err)
}

func TestGenerateLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	_, err = g.GenerateList("clean", []string{"a.example.com"}, nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
}
