package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueListOrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, "newer", created.Add(time.Hour))
	writeEntry(t, dir, "older", created)
	writeEntry(t, dir, "tie-b", created.Add(time.Minute))
	writeEntry(t, dir, "tie-a", created.Add(time.Minute))

	// Neither a staging directory nor a directory without a manifest is listed.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".staging", "half-written"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "no-manifest"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644))

	entries, err := NewQueue(dir, zap.NewNop()).List()
	require.NoError(t, err)

	var ids []string
	for _, e := range entries {
		ids = append(ids, e.RunID())
	}
	assert.Equal(t, []string{"older", "tie-a", "tie-b", "newer"}, ids)
}

func TestQueueListMissingDir(t *testing.T) {
	entries, err := NewQueue(filepath.Join(t.TempDir(), "absent"), zap.NewNop()).List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueueListSkipsCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "entry.json"), []byte("{not json"), 0o644))
	writeEntry(t, dir, "good", created)

	entries, err := NewQueue(dir, zap.NewNop()).List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].RunID())

	files, err := entries[0].Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"entry.json", "execution_trace.json", "final.png"}, files)
}

func TestLogTransportSucceeds(t *testing.T) {
	assert.NoError(t, NewLogTransport(zap.NewNop()).Send(context.Background(), Alert{Subject: "s"}))
}
