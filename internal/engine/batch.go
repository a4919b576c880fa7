package engine

import (
	"context"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
)

// AnchorResult is the outcome (or failure) of one anchor within a batch.
type AnchorResult struct {
	Outcome  *model.Outcome
	Err      error
	AnchorID string
}

// BatchResult summarizes a batch run. Anchors are processed independently:
// one anchor's failure never aborts its siblings.
type BatchResult struct {
	Results     []AnchorResult
	AutoMatched int
	Suggested   int
	NoMatch     int
	NoMatchYet  int
	Errors      int
}

func (r *BatchResult) record(anchorID string, outcome *model.Outcome, err error) {
	r.Results = append(r.Results, AnchorResult{AnchorID: anchorID, Outcome: outcome, Err: err})

	if err != nil {
		r.Errors++
		return
	}

	switch outcome.Action {
	case model.ActionAutoMatched:
		r.AutoMatched++
	case model.ActionSuggestionCreated:
		r.Suggested++
	case model.ActionNoMatch:
		r.NoMatch++
	case model.ActionNoMatchYet:
		r.NoMatchYet++
	}
}

// ProcessDocuments matches each document in turn. This is the batch
// primitive every dispatch path funnels into.
func (m *Matcher) ProcessDocuments(ctx context.Context, documentIDs []string) (*BatchResult, error) {
	result := &BatchResult{}

	for _, id := range documentIDs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		outcome, err := m.MatchDocument(ctx, id)
		if err != nil {
			common.LogError(err, "Failed to match document", common.Fields{"document_id": id})
		}
		result.record(id, outcome, err)
	}

	return result, nil
}

// ProcessNewTransactions matches each newly arrived transaction against the
// pending documents. This is the bidirectional half of smart matching.
func (m *Matcher) ProcessNewTransactions(ctx context.Context, transactionIDs []string) (*BatchResult, error) {
	result := &BatchResult{}

	for _, id := range transactionIDs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		outcome, err := m.MatchTransaction(ctx, id)
		if err != nil {
			common.LogError(err, "Failed to match transaction", common.Fields{"transaction_id": id})
		}
		result.record(id, outcome, err)
	}

	return result, nil
}
