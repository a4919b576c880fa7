package dispatch

import (
	"errors"

	"github.com/copperbooks/recon/internal/model"
)

// QueueMatching is the queue every matching job type runs on.
const QueueMatching = "matching"

// Matching job types, each registered against QueueMatching.
const (
	JobTypeDocument      = "matching.document"
	JobTypeTransaction   = "matching.transaction"
	JobTypeBatch         = "matching.batch"
	JobTypeBidirectional = "matching.bidirectional"
)

// DocumentPayload is a single-anchor job for one document.
type DocumentPayload struct {
	TeamID     string `json:"team_id"`
	DocumentID string `json:"document_id"`
}

// Validate implements the payload validation boundary.
func (p DocumentPayload) Validate() error {
	if p.TeamID == "" {
		return errors.New("team_id is required")
	}
	if p.DocumentID == "" {
		return errors.New("document_id is required")
	}
	return nil
}

// TransactionPayload is a single-anchor job for one transaction.
type TransactionPayload struct {
	TeamID        string `json:"team_id"`
	TransactionID string `json:"transaction_id"`
}

// Validate implements the payload validation boundary.
func (p TransactionPayload) Validate() error {
	if p.TeamID == "" {
		return errors.New("team_id is required")
	}
	if p.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	return nil
}

// BatchPayload processes a set of documents. Explicit requests are sharded
// to ShardSize; a sweep page may carry up to SweepPageSize ids in one job.
type BatchPayload struct {
	TeamID      string   `json:"team_id"`
	DocumentIDs []string `json:"document_ids"`
}

// Validate implements the payload validation boundary.
func (p BatchPayload) Validate() error {
	if p.TeamID == "" {
		return errors.New("team_id is required")
	}
	return validateIDs("document_ids", p.DocumentIDs, SweepPageSize)
}

// BidirectionalPayload matches newly arrived transactions against pending
// documents.
type BidirectionalPayload struct {
	TeamID            string   `json:"team_id"`
	NewTransactionIDs []string `json:"new_transaction_ids"`
}

// Validate implements the payload validation boundary.
func (p BidirectionalPayload) Validate() error {
	if p.TeamID == "" {
		return errors.New("team_id is required")
	}
	return validateIDs("new_transaction_ids", p.NewTransactionIDs, 0)
}

// SuggestionResult is the winning pairing reported in a job result.
type SuggestionResult struct {
	TransactionID   string  `json:"transaction_id"`
	DocumentID      string  `json:"document_id"`
	MatchType       string  `json:"match_type"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// JobResult is the contract returned by every matching job.
type JobResult struct {
	Suggestion  *SuggestionResult `json:"suggestion,omitempty"`
	Action      string            `json:"action,omitempty"`
	AutoMatched int               `json:"auto_matched,omitempty"`
	Suggested   int               `json:"suggested,omitempty"`
	NoMatch     int               `json:"no_match,omitempty"`
	NoMatchYet  int               `json:"no_match_yet,omitempty"`
	Errors      int               `json:"errors,omitempty"`
}

func resultFromOutcome(outcome *model.Outcome) JobResult {
	result := JobResult{Action: string(outcome.Action)}
	if outcome.Suggestion != nil {
		result.Suggestion = &SuggestionResult{
			TransactionID:   outcome.Suggestion.TransactionID,
			DocumentID:      outcome.Suggestion.DocumentID,
			ConfidenceScore: outcome.Suggestion.ConfidenceScore,
			MatchType:       string(outcome.Suggestion.MatchType),
		}
	}
	return result
}
