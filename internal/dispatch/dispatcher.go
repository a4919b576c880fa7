package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/queue"
	"github.com/copperbooks/recon/internal/service"
)

// Dispatcher turns external events (new transactions persisted, new
// documents ingested, explicit re-scans, periodic sweeps) into queued
// matching jobs.
type Dispatcher struct {
	storage service.Storage
	client  *queue.Client
}

// NewDispatcher wires the dispatcher to the store and the enqueue client.
func NewDispatcher(storage service.Storage, client *queue.Client) *Dispatcher {
	return &Dispatcher{storage: storage, client: client}
}

// Dispatch plans and enqueues the jobs for one event. Shards are enqueued
// concurrently. Returns the enqueued jobs; a sweep over an empty pending
// page enqueues nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]*model.Job, error) {
	specs, needsSweep, err := Plan(ev)
	if err != nil {
		return nil, err
	}

	if needsSweep {
		pending, fetchErr := d.storage.ListPendingDocuments(ctx, ev.TeamID, SweepPageSize)
		if fetchErr != nil {
			return nil, fmt.Errorf("failed to fetch pending documents: %w", fetchErr)
		}
		if len(pending) == 0 {
			slog.Info("Sweep found no pending documents", "team_id", ev.TeamID)
			return nil, nil
		}

		ids := make([]string, len(pending))
		for i, doc := range pending {
			ids[i] = doc.ID
		}
		specs = PlanSweepPage(ev.TeamID, ids)
	}

	jobs := make([]*model.Job, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			// Enqueueing is retried: a busy store must not drop a trigger.
			return common.WithRetry(gctx, func() error {
				job, enqueueErr := d.client.Enqueue(gctx, spec.Type, spec.Payload)
				if enqueueErr != nil {
					return enqueueErr
				}
				jobs[i] = job
				return nil
			}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Dispatched matching jobs",
		"team_id", ev.TeamID,
		"event", ev.Kind().String(),
		"jobs", len(jobs))

	return jobs, nil
}
