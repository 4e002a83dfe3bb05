package backup_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/kfir-abbou/Dapr/internal/backup"
	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

func TestBackupSave(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	b := backup.New(bucket, "system-state.json")
	defer func() { _ = b.Close() }()

	read := func(t *testing.T) *api.SystemState {
		t.Helper()
		data, err := bucket.ReadAll(ctx, "system-state.json")
		require.NoError(t, err)
		var st api.SystemState
		require.NoError(t, json.Unmarshal(data, &st))
		return &st
	}

	t.Run("Save writes snapshot", func(t *testing.T) {
		st := &api.SystemState{
			Status:         api.StatusSetup,
			LastUpdated:    time.Now().UTC().Truncate(time.Millisecond),
			PreviousStatus: api.StatusIdle,
		}
		require.NoError(t, b.Save(ctx, st))

		got := read(t)
		assert.Equal(t, st.Status, got.Status)
		assert.Equal(t, st.PreviousStatus, got.PreviousStatus)
		assert.True(t, st.LastUpdated.Equal(got.LastUpdated))
	})

	t.Run("Snapshot is indented JSON", func(t *testing.T) {
		data, err := bucket.ReadAll(ctx, "system-state.json")
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), "\n  \"status\""))
	})

	t.Run("Save replaces previous snapshot", func(t *testing.T) {
		require.NoError(t, b.Save(ctx, &api.SystemState{
			Status: api.StatusError, PreviousStatus: api.StatusSetup,
		}))
		assert.Equal(t, api.StatusError, read(t).Status)
	})
}

func TestOpenFileBucket(t *testing.T) {
	dir := t.TempDir()
	b, err := backup.Open(context.Background(), config.BackupConfig{
		BucketURL: "file://" + filepath.ToSlash(dir),
		FileName:  "state.json",
	})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Save(context.Background(), &api.SystemState{
		Status: api.StatusRunning,
	}))

	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "running"`)
}

func TestOpenInvalidScheme(t *testing.T) {
	_, err := backup.Open(context.Background(), config.BackupConfig{
		BucketURL: "nope://bucket",
		FileName:  "state.json",
	})
	assert.Error(t, err)
}
