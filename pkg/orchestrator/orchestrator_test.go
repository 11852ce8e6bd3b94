package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rainmanjam/social-flood-sub000/pkg/batchqueue"
	"github.com/rainmanjam/social-flood-sub000/pkg/cachestore"
	"github.com/rainmanjam/social-flood-sub000/pkg/orchestrator"
	"github.com/rainmanjam/social-flood-sub000/pkg/taskpoller"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTaskClient struct{}

func (stubTaskClient) CheckReady(context.Context) ([]string, error) { return nil, nil }
func (stubTaskClient) FetchResult(context.Context, string) (*taskpoller.TaskResult, error) {
	return &taskpoller.TaskResult{Status: taskpoller.ResultProcessing}, nil
}

func echoProcessor(_ context.Context, params []map[string]string) (*batchqueue.CompositeResponse, error) {
	items := make([]batchqueue.ItemResult, len(params))
	for i := range params {
		data, _ := json.Marshal(params[i])
		items[i] = batchqueue.ItemResult{Success: true, StatusCode: 200, Data: data}
	}
	return &batchqueue.CompositeResponse{Items: items}, nil
}

func newOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	logger := zerolog.Nop()

	local := cachestore.NewMemoryStore(cachestore.MemoryStoreConfig{})
	cache, err := cachestore.NewManager(cachestore.ManagerConfig{KeyPrefix: "test"}, nil, local, logger)
	require.NoError(t, err)

	poller, err := taskpoller.NewPoller(taskpoller.Config{PollInterval: 10 * time.Millisecond}, stubTaskClient{}, cache, logger)
	require.NoError(t, err)

	o, err := orchestrator.New(orchestrator.Config{HTTPPort: ":0"}, cache, poller, nil, logger)
	require.NoError(t, err)

	queue, err := batchqueue.NewQueue(batchqueue.Config{
		RequestType:   "keyword_metrics",
		BatchSize:     5,
		FlushInterval: 20 * time.Millisecond,
	}, echoProcessor, nil, logger)
	require.NoError(t, err)
	require.NoError(t, o.RegisterQueue("keyword_metrics", queue))

	return o
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := newOrchestrator(t)
	require.NoError(t, o.Start(ctx))

	t.Run("healthz responds", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://%s/healthz", o.Addr()))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("statsz reflects queue traffic", func(t *testing.T) {
		queue, ok := o.Queue("keyword_metrics")
		require.True(t, ok)
		result, err := queue.Submit(ctx, map[string]string{"keyword": "espresso"})
		require.NoError(t, err)
		require.True(t, result.Success)

		resp, err := http.Get(fmt.Sprintf("http://%s/statsz", o.Addr()))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var snapshot struct {
			Queues map[string]batchqueue.Stats `json:"queues"`
		}
		require.NoError(t, json.Unmarshal(body, &snapshot))
		assert.Equal(t, uint64(1), snapshot.Queues["keyword_metrics"].RequestsQueued)
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, o.Shutdown(shutdownCtx))
}

func TestOrchestrator_StartLaunchesCacheSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := cachestore.NewMemoryStore(cachestore.MemoryStoreConfig{SweepInterval: 10 * time.Millisecond})
	cache, err := cachestore.NewManager(cachestore.ManagerConfig{KeyPrefix: "test"}, nil, local, zerolog.Nop())
	require.NoError(t, err)

	o, err := orchestrator.New(orchestrator.Config{HTTPPort: ":0"}, cache, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	require.True(t, cache.Set(ctx, "ephemeral", "value", 5*time.Millisecond, ""))
	require.Equal(t, 1, local.Len())

	require.NoError(t, o.Start(ctx))

	// The sweeper, not a read, must reclaim the expired entry.
	require.Eventually(t, func() bool {
		return local.Len() == 0
	}, time.Second, 10*time.Millisecond, "expired local entries must be swept without being read")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, o.Shutdown(shutdownCtx))
}

func TestOrchestrator_DuplicateQueueRejected(t *testing.T) {
	o := newOrchestrator(t)

	queue, err := batchqueue.NewQueue(batchqueue.Config{RequestType: "trends"}, echoProcessor, nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, o.RegisterQueue("trends", queue))
	assert.Error(t, o.RegisterQueue("trends", queue))
}

func TestOrchestrator_ShutdownResolvesWaitingCallers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := newOrchestrator(t)
	require.NoError(t, o.Start(ctx))

	// A queue with a long flush interval would normally keep this caller
	// waiting; shutdown must flush it through.
	slow, err := batchqueue.NewQueue(batchqueue.Config{
		RequestType:   "slow",
		BatchSize:     50,
		FlushInterval: time.Hour,
	}, echoProcessor, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, o.RegisterQueue("slow", slow))

	done := make(chan batchqueue.ItemResult, 1)
	go func() {
		r, submitErr := slow.Submit(ctx, map[string]string{"keyword": "stuck"})
		require.NoError(t, submitErr)
		done <- r
	}()

	// Let the submission enqueue before shutting down.
	time.Sleep(20 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, o.Shutdown(shutdownCtx))

	select {
	case r := <-done:
		assert.True(t, r.Success, "shutdown must resolve queued callers via a final flush")
	case <-time.After(time.Second):
		t.Fatal("caller was left unresolved after shutdown")
	}
}
