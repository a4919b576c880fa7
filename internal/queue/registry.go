// Package queue implements the named task queues that execute matching jobs
// with retries, backoff, retention, and per-queue concurrency limits.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
)

// Handler executes one job. The returned string is the job's result payload
// (JSON), kept on the job row for the operator board.
type Handler func(ctx context.Context, job *model.Job) (string, error)

// Config describes one named queue.
type Config struct {
	Name               string
	Concurrency        int
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxDuration        time.Duration
	CompletedRetention service.Retention
	FailedRetention    service.Retention
}

// DefaultConfig returns a queue configuration with the runtime defaults:
// 3 attempts with exponential backoff from 2s, completed jobs retained up to
// 50 or 24h, failed jobs up to 50 or 7 days.
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		Concurrency:        20,
		MaxAttempts:        3,
		InitialBackoff:     2 * time.Second,
		MaxDuration:        3 * time.Minute,
		CompletedRetention: service.Retention{Count: 50, Age: 24 * time.Hour},
		FailedRetention:    service.Retention{Count: 50, Age: 7 * 24 * time.Hour},
	}
}

type registration struct {
	handler Handler
	queue   string
}

// Registry maps job types to queues and handlers. It is constructed once at
// startup and injected into the dispatcher and worker entry points.
type Registry struct {
	queues   map[string]Config
	handlers map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		queues:   make(map[string]Config),
		handlers: make(map[string]registration),
	}
}

// AddQueue registers a named queue.
func (r *Registry) AddQueue(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: queue name", common.ErrInvalidConfig)
	}
	if _, exists := r.queues[cfg.Name]; exists {
		return fmt.Errorf("%w: queue %q already registered", common.ErrInvalidConfig, cfg.Name)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	r.queues[cfg.Name] = cfg
	return nil
}

// Register binds a job type to exactly one queue and handler. Registering a
// type against a queue that does not exist is a configuration error.
func (r *Registry) Register(jobType, queueName string, handler Handler) error {
	if jobType == "" || handler == nil {
		return fmt.Errorf("%w: job type and handler are required", common.ErrInvalidConfig)
	}
	if _, ok := r.queues[queueName]; !ok {
		return fmt.Errorf("%w: %q for job type %q", common.ErrQueueNotFound, queueName, jobType)
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("%w: job type %q already registered", common.ErrInvalidConfig, jobType)
	}
	r.handlers[jobType] = registration{queue: queueName, handler: handler}
	return nil
}

// QueueFor resolves the queue configured for a job type. Failure to resolve
// is a fatal configuration error for the caller, never a silent drop.
func (r *Registry) QueueFor(jobType string) (Config, error) {
	reg, ok := r.handlers[jobType]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", common.ErrUnknownJobType, jobType)
	}
	return r.queues[reg.queue], nil
}

// HandlerFor resolves the handler for a job type.
func (r *Registry) HandlerFor(jobType string) (Handler, bool) {
	reg, ok := r.handlers[jobType]
	return reg.handler, ok
}

// QueueNames lists the registered queues.
func (r *Registry) QueueNames() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// Queue returns the configuration for a named queue.
func (r *Registry) Queue(name string) (Config, bool) {
	cfg, ok := r.queues[name]
	return cfg, ok
}

// Client enqueues typed jobs onto their registered queues.
type Client struct {
	store    service.JobStore
	registry *Registry
}

// NewClient creates an enqueue-side client.
func NewClient(store service.JobStore, registry *Registry) *Client {
	return &Client{store: store, registry: registry}
}

// Enqueue validates the job type against the registry, serializes the
// payload, and persists a waiting job.
func (c *Client) Enqueue(ctx context.Context, jobType string, payload any) (*model.Job, error) {
	cfg, err := c.registry.QueueFor(jobType)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %s: %w", jobType, err)
	}

	now := time.Now()
	job := &model.Job{
		ID:          uuid.NewString(),
		Queue:       cfg.Name,
		Type:        jobType,
		Payload:     raw,
		Status:      model.JobWaiting,
		MaxAttempts: cfg.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}

	if err := c.store.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", jobType, err)
	}

	return job, nil
}

// DecodePayload deserializes and validates a typed job payload. This is the
// single validation boundary: failures are typed validation errors, which
// the worker treats as terminal.
func DecodePayload[T interface{ Validate() error }](job *model.Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, common.NewValidationError(job.Type, err)
	}
	if err := payload.Validate(); err != nil {
		return payload, common.NewValidationError(job.Type, err)
	}
	return payload, nil
}
