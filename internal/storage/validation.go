package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/copperbooks/recon/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidStatus     = errors.New("invalid match status")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrInvalidTxn        = errors.New("invalid transaction")
	ErrInvalidJob        = errors.New("invalid job")
	ErrInvalidSuggestion = errors.New("invalid suggestion")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateDocuments(docs []model.Document) error {
	if docs == nil {
		return fmt.Errorf("%w: documents", ErrNilParameter)
	}
	if len(docs) == 0 {
		return fmt.Errorf("%w: documents", ErrEmptySlice)
	}
	for i := range docs {
		if err := validateDocument(&docs[i]); err != nil {
			return fmt.Errorf("document at index %d: %w", i, err)
		}
	}
	return nil
}

func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	if doc.TeamID == "" {
		return fmt.Errorf("%w: missing team id", ErrInvalidDocument)
	}
	if doc.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidDocument)
	}
	if doc.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidDocument)
	}
	if doc.MatchStatus != "" && !doc.MatchStatus.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, doc.MatchStatus)
	}
	return nil
}

func validateTransactions(txns []model.Transaction) error {
	if txns == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(txns) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}
	for i := range txns {
		if err := validateTransaction(&txns[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTxn)
	}
	if txn.TeamID == "" {
		return fmt.Errorf("%w: missing team id", ErrInvalidTxn)
	}
	if txn.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidTxn)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTxn)
	}
	if txn.MatchStatus != "" && !txn.MatchStatus.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, txn.MatchStatus)
	}
	return nil
}

func validateSuggestion(sg *model.MatchSuggestion) error {
	if sg == nil {
		return fmt.Errorf("%w: suggestion", ErrNilParameter)
	}
	if sg.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSuggestion)
	}
	if sg.TeamID == "" {
		return fmt.Errorf("%w: missing team id", ErrInvalidSuggestion)
	}
	if sg.DocumentID == "" || sg.TransactionID == "" {
		return fmt.Errorf("%w: missing document or transaction id", ErrInvalidSuggestion)
	}
	if sg.ConfidenceScore < 0 || sg.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence %f out of range", ErrInvalidSuggestion, sg.ConfidenceScore)
	}
	return nil
}

func validateJob(job *model.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if job.Queue == "" {
		return fmt.Errorf("%w: missing queue", ErrInvalidJob)
	}
	if job.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidJob)
	}
	return nil
}
