package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/config"
	"github.com/kfir-abbou/Dapr/internal/store"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.NewDefaultConfig().StateStore
	cfg.Addr = mr.Addr()
	cfg.Prefix = "test"
	s := store.New(cfg, 5)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestStatusAbsent(t *testing.T) {
	_, s := newTestStore(t)
	st, err := s.GetStatus(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestInitStatus(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	created, err := s.InitStatus(ctx, &api.SystemState{Status: api.StatusIdle})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, mr.Exists("test:system-state"))

	created, err = s.InitStatus(ctx, &api.SystemState{Status: api.StatusError})
	require.NoError(t, err)
	assert.False(t, created)

	st, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.StatusIdle, st.Status)
}

func TestUpdateStatus(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpdateStatus(ctx,
		func(cur *api.SystemState) (*api.SystemState, error) {
			assert.Nil(t, cur)
			return &api.SystemState{
				Status:         api.StatusSetup,
				PreviousStatus: api.StatusIdle,
				LastUpdated:    time.Now(),
			}, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSetup, res.Status)

	res, err = s.UpdateStatus(ctx,
		func(cur *api.SystemState) (*api.SystemState, error) {
			require.NotNil(t, cur)
			assert.Equal(t, api.StatusSetup, cur.Status)
			return nil, nil
		},
	)
	require.NoError(t, err)
	assert.Nil(t, res)

	st, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSetup, st.Status)
	assert.Equal(t, api.StatusIdle, st.PreviousStatus)
}

func TestUpdateStatusError(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()
	boom := assert.AnError

	_, err := s.UpdateStatus(ctx,
		func(*api.SystemState) (*api.SystemState, error) {
			return nil, boom
		},
	)
	assert.ErrorIs(t, err, boom)

	st, err := s.GetStatus(ctx)
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestUpdateStatusConflict(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = other.Close() }()

	calls := 0
	_, err := s.UpdateStatus(ctx,
		func(*api.SystemState) (*api.SystemState, error) {
			calls++
			err := other.Set(ctx, "test:system-state",
				`{"status":"error"}`, 0,
			).Err()
			require.NoError(t, err)
			return &api.SystemState{Status: api.StatusSetup}, nil
		},
	)
	assert.ErrorIs(t, err, store.ErrConcurrentUpdate)
	assert.Equal(t, 5, calls)

	st, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.StatusError, st.Status)
}

func TestUpdateStatusSerializesWriters(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()
	_, err := s.InitStatus(ctx, &api.SystemState{Status: api.StatusIdle})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 4 {
		wg.Go(func() {
			res, err := s.UpdateStatus(ctx,
				func(cur *api.SystemState) (*api.SystemState, error) {
					if cur.Status != api.StatusIdle {
						return nil, nil
					}
					return &api.SystemState{
						Status:         api.StatusSetup,
						PreviousStatus: cur.Status,
					}, nil
				},
			)
			if err == nil && res != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestBatchResults(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	res, err := s.GetBatchResult(ctx, "abc")
	assert.NoError(t, err)
	assert.Nil(t, res)

	in := &api.BatchResult{
		CorrelationID: "abc",
		Success:       true,
		Message:       "All workflows completed successfully",
		WorkflowResults: []*api.WorkflowResultInfo{
			{WorkflowName: "Validation", Success: true},
			{WorkflowName: "Enrichment", Success: true},
		},
		TotalDuration: 4 * time.Second,
	}
	require.NoError(t, s.SaveBatchResult(ctx, in))
	assert.True(t, mr.Exists("test:batch-response-abc"))

	out, err := s.GetBatchResult(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, in.Success, out.Success)
	assert.Equal(t, in.Message, out.Message)
	assert.Len(t, out.WorkflowResults, 2)
	assert.Equal(t, in.TotalDuration, out.TotalDuration)
}

func TestCorruptRecord(t *testing.T) {
	mr, s := newTestStore(t)
	require.NoError(t, mr.Set("test:system-state", "not json"))
	_, err := s.GetStatus(context.Background())
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	mr, s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
