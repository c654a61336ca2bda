// File: cmd/sweep_test.go
package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/monitor"
	"github.com/xkilldash9x/canary-cli/internal/reporting"
)

type recordingStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingStore) Put(_ context.Context, obj monitor.Object) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, obj.Key)
	return "s3://qa-bucket/" + obj.Key, nil
}

type recordingTransport struct {
	alerts []monitor.Alert
}

func (r *recordingTransport) Send(_ context.Context, a monitor.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func queueEntry(t *testing.T, queueDir, runID string) string {
	t.Helper()
	dir := filepath.Join(queueDir, runID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, reporting.ExecutionTraceFile), []byte(`{}`), 0o644))
	require.NoError(t, reporting.WriteManifest(dir, reporting.Manifest{
		RunID:             runID,
		RunType:           "run_chats",
		CreatedAt:         time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Health:            "ERROR",
		HealthDescription: "no reply",
	}))
	return dir
}

func TestSweepCmd_DrainsQueue(t *testing.T) {
	dir := isolate(t)
	t.Setenv("S3_BUCKET", "qa-bucket")
	queueDir := filepath.Join(dir, "artefacts", "error")
	entry := queueEntry(t, queueDir, "run-42")

	store := &recordingStore{}
	alerts := &recordingTransport{}
	var gotCfg config.MonitorConfig
	targets := func(_ context.Context, cfg config.MonitorConfig, _ *zap.Logger) (monitor.ObjectStore, monitor.AlertTransport, error) {
		gotCfg = cfg
		return store, alerts, nil
	}

	out, err := executeCommand(t, newRootCommand(nil, targets), "sweep")
	require.NoError(t, err)

	assert.Equal(t, "qa-bucket", gotCfg.S3Bucket)
	assert.Contains(t, out, "Processed 1 queue entries: 1 alerted, 1 deleted, 0 failed, 0 skipped.")
	assert.Len(t, store.keys, 2)
	require.Len(t, alerts.alerts, 1)
	assert.Contains(t, alerts.alerts[0].Body, "run-42")
	assert.NoDirExists(t, entry)
}

func TestSweepCmd_NoDeleteFlag(t *testing.T) {
	dir := isolate(t)
	t.Setenv("S3_BUCKET", "qa-bucket")
	queueDir := filepath.Join(dir, "custom-queue")
	entry := queueEntry(t, queueDir, "run-7")

	targets := func(context.Context, config.MonitorConfig, *zap.Logger) (monitor.ObjectStore, monitor.AlertTransport, error) {
		return &recordingStore{}, &recordingTransport{}, nil
	}

	out, err := executeCommand(t, newRootCommand(nil, targets), "sweep", "--no-delete", "--queue", queueDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 alerted, 0 deleted")
	assert.DirExists(t, entry)
}

func TestSweepCmd_RequiresBucket(t *testing.T) {
	isolate(t)
	called := false
	targets := func(context.Context, config.MonitorConfig, *zap.Logger) (monitor.ObjectStore, monitor.AlertTransport, error) {
		called = true
		return nil, nil, nil
	}

	_, err := executeCommand(t, newRootCommand(nil, targets), "sweep")
	assert.ErrorIs(t, err, monitor.ErrNoBucket)
	assert.False(t, called, "no connection should be attempted without a bucket")
}
