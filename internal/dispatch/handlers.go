package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/copperbooks/recon/internal/engine"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/queue"
)

// RegisterHandlers binds every matching job type to the matching queue on
// the given registry.
func RegisterHandlers(registry *queue.Registry, matcher *engine.Matcher) error {
	handlers := map[string]queue.Handler{
		JobTypeDocument:      documentHandler(matcher),
		JobTypeTransaction:   transactionHandler(matcher),
		JobTypeBatch:         batchHandler(matcher),
		JobTypeBidirectional: bidirectionalHandler(matcher),
	}

	for jobType, handler := range handlers {
		if err := registry.Register(jobType, QueueMatching, handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", jobType, err)
		}
	}
	return nil
}

func documentHandler(matcher *engine.Matcher) queue.Handler {
	return func(ctx context.Context, job *model.Job) (string, error) {
		payload, err := queue.DecodePayload[DocumentPayload](job)
		if err != nil {
			return "", err
		}

		outcome, err := matcher.MatchDocument(ctx, payload.DocumentID)
		if err != nil {
			return "", err
		}
		return marshalResult(resultFromOutcome(outcome))
	}
}

func transactionHandler(matcher *engine.Matcher) queue.Handler {
	return func(ctx context.Context, job *model.Job) (string, error) {
		payload, err := queue.DecodePayload[TransactionPayload](job)
		if err != nil {
			return "", err
		}

		outcome, err := matcher.MatchTransaction(ctx, payload.TransactionID)
		if err != nil {
			return "", err
		}
		return marshalResult(resultFromOutcome(outcome))
	}
}

func batchHandler(matcher *engine.Matcher) queue.Handler {
	return func(ctx context.Context, job *model.Job) (string, error) {
		payload, err := queue.DecodePayload[BatchPayload](job)
		if err != nil {
			return "", err
		}

		batch, err := matcher.ProcessDocuments(ctx, payload.DocumentIDs)
		if err != nil {
			return "", err
		}
		return marshalResult(resultFromBatch(batch))
	}
}

func bidirectionalHandler(matcher *engine.Matcher) queue.Handler {
	return func(ctx context.Context, job *model.Job) (string, error) {
		payload, err := queue.DecodePayload[BidirectionalPayload](job)
		if err != nil {
			return "", err
		}

		batch, err := matcher.ProcessNewTransactions(ctx, payload.NewTransactionIDs)
		if err != nil {
			return "", err
		}
		return marshalResult(resultFromBatch(batch))
	}
}

func resultFromBatch(batch *engine.BatchResult) JobResult {
	return JobResult{
		AutoMatched: batch.AutoMatched,
		Suggested:   batch.Suggested,
		NoMatch:     batch.NoMatch,
		NoMatchYet:  batch.NoMatchYet,
		Errors:      batch.Errors,
	}
}

func marshalResult(result JobResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job result: %w", err)
	}
	return string(raw), nil
}
