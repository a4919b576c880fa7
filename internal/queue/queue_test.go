package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
	"github.com/copperbooks/recon/internal/storage"
)

type testPayload struct {
	Value string `json:"value"`
}

func (p testPayload) Validate() error {
	if p.Value == "" {
		return errors.New("value is required")
	}
	return nil
}

func setupJobStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// fastConfig keeps worker tests quick: immediate retries, one worker
// goroutine.
func fastConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.Concurrency = 1
	cfg.InitialBackoff = time.Millisecond
	return cfg
}

func startWorker(t *testing.T, store service.JobStore, registry *Registry) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewWorker(store, registry,
		WithPollInterval(5*time.Millisecond),
		WithPruneInterval(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRegistry_Configuration(t *testing.T) {
	registry := NewRegistry()
	noop := func(context.Context, *model.Job) (string, error) { return "", nil }

	require.NoError(t, registry.AddQueue(DefaultConfig("matching")))

	err := registry.AddQueue(DefaultConfig("matching"))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	err = registry.Register("jobs.test", "no-such-queue", noop)
	assert.ErrorIs(t, err, common.ErrQueueNotFound)

	require.NoError(t, registry.Register("jobs.test", "matching", noop))
	err = registry.Register("jobs.test", "matching", noop)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	cfg, err := registry.QueueFor("jobs.test")
	require.NoError(t, err)
	assert.Equal(t, "matching", cfg.Name)

	_, err = registry.QueueFor("jobs.unknown")
	assert.ErrorIs(t, err, common.ErrUnknownJobType)
}

func TestClient_Enqueue(t *testing.T) {
	store := setupJobStore(t)
	registry := NewRegistry()
	require.NoError(t, registry.AddQueue(DefaultConfig("matching")))
	require.NoError(t, registry.Register("jobs.test", "matching",
		func(context.Context, *model.Job) (string, error) { return "", nil }))

	client := NewClient(store, registry)

	job, err := client.Enqueue(context.Background(), "jobs.test", testPayload{Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.JobWaiting, job.Status)
	assert.Equal(t, "matching", job.Queue)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.JSONEq(t, `{"value":"x"}`, string(job.Payload))

	// Enqueueing an unregistered type is a configuration error, not a
	// silent drop.
	_, err = client.Enqueue(context.Background(), "jobs.unknown", testPayload{Value: "x"})
	assert.ErrorIs(t, err, common.ErrUnknownJobType)
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"value":"x"}`},
		{name: "malformed json", payload: `{"value":`, wantErr: true},
		{name: "fails validation", payload: `{"value":""}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &model.Job{Type: "jobs.test", Payload: []byte(tt.payload)}
			got, err := DecodePayload[testPayload](job)
			if tt.wantErr {
				var validationErr *common.ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, "jobs.test", validationErr.JobType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "x", got.Value)
		})
	}
}

func TestWorker_CompletesJob(t *testing.T) {
	store := setupJobStore(t)
	registry := NewRegistry()
	require.NoError(t, registry.AddQueue(fastConfig("matching")))
	require.NoError(t, registry.Register("jobs.test", "matching",
		func(context.Context, *model.Job) (string, error) {
			return `{"ok":true}`, nil
		}))

	client := NewClient(store, registry)
	job, err := client.Enqueue(context.Background(), "jobs.test", testPayload{Value: "x"})
	require.NoError(t, err)

	startWorker(t, store, registry)

	require.Eventually(t, func() bool {
		depths, depthErr := store.QueueDepths(context.Background())
		if depthErr != nil {
			return false
		}
		for _, d := range depths {
			if d.Status == model.JobCompleted && d.Count == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "job %s never completed", job.ID)
}

func TestWorker_RetriesWithBackoffThenFailsTerminally(t *testing.T) {
	store := setupJobStore(t)
	registry := NewRegistry()
	require.NoError(t, registry.AddQueue(fastConfig("matching")))

	attempts := make(chan int, 8)
	require.NoError(t, registry.Register("jobs.flaky", "matching",
		func(_ context.Context, job *model.Job) (string, error) {
			attempts <- job.Attempts
			return "", errors.New("transient failure")
		}))

	client := NewClient(store, registry)
	_, err := client.Enqueue(context.Background(), "jobs.flaky", testPayload{Value: "x"})
	require.NoError(t, err)

	startWorker(t, store, registry)

	require.Eventually(t, func() bool {
		failed, listErr := store.ListFailedJobs(context.Background(), 10)
		return listErr == nil && len(failed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	failed, err := store.ListFailedJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Contains(t, failed[0].LastError, "transient failure")

	// The handler ran exactly once per attempt.
	close(attempts)
	var seen []int
	for a := range attempts {
		seen = append(seen, a)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestWorker_ValidationErrorIsTerminal(t *testing.T) {
	store := setupJobStore(t)
	registry := NewRegistry()
	require.NoError(t, registry.AddQueue(fastConfig("matching")))

	var calls atomic.Int32
	require.NoError(t, registry.Register("jobs.typed", "matching",
		func(_ context.Context, job *model.Job) (string, error) {
			calls.Add(1)
			_, err := DecodePayload[testPayload](job)
			return "", err
		}))

	// Bypass the client so the stored payload fails validation.
	require.NoError(t, store.EnqueueJob(context.Background(), &model.Job{
		ID:          "job-bad",
		Queue:       "matching",
		Type:        "jobs.typed",
		Payload:     []byte(`{"value":""}`),
		MaxAttempts: 3,
	}))

	startWorker(t, store, registry)

	require.Eventually(t, func() bool {
		failed, listErr := store.ListFailedJobs(context.Background(), 10)
		return listErr == nil && len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A bad payload cannot heal itself: one attempt, no retries.
	failed, err := store.ListFailedJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWorker_TimeoutIsFailedAttempt(t *testing.T) {
	store := setupJobStore(t)
	registry := NewRegistry()

	cfg := fastConfig("matching")
	cfg.MaxAttempts = 1
	cfg.MaxDuration = 20 * time.Millisecond
	require.NoError(t, registry.AddQueue(cfg))

	require.NoError(t, registry.Register("jobs.slow", "matching",
		func(ctx context.Context, _ *model.Job) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))

	client := NewClient(store, registry)
	_, err := client.Enqueue(context.Background(), "jobs.slow", testPayload{Value: "x"})
	require.NoError(t, err)

	startWorker(t, store, registry)

	require.Eventually(t, func() bool {
		failed, listErr := store.ListFailedJobs(context.Background(), 10)
		return listErr == nil && len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed, err := store.ListFailedJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, failed[0].LastError, "context deadline exceeded")
}

func TestWorker_PrunesFinishedJobs(t *testing.T) {
	store := setupJobStore(t)
	registry := NewRegistry()

	cfg := fastConfig("matching")
	cfg.CompletedRetention = service.Retention{Count: 1}
	require.NoError(t, registry.AddQueue(cfg))
	require.NoError(t, registry.Register("jobs.test", "matching",
		func(context.Context, *model.Job) (string, error) { return "", nil }))

	client := NewClient(store, registry)
	for i := 0; i < 3; i++ {
		_, err := client.Enqueue(context.Background(), "jobs.test", testPayload{Value: "x"})
		require.NoError(t, err)
	}

	startWorker(t, store, registry)

	require.Eventually(t, func() bool {
		depths, err := store.QueueDepths(context.Background())
		return err == nil && len(depths) == 1 &&
			depths[0].Status == model.JobCompleted &&
			depths[0].Count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_NoQueuesIsConfigError(t *testing.T) {
	store := setupJobStore(t)
	worker := NewWorker(store, NewRegistry())

	err := worker.Run(context.Background())
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffDelay(2*time.Second, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(2*time.Second, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(2*time.Second, 3))
}
