package storage

import (
	"context"
	"fmt"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
)

// CommitMatch links both sides of a match. Each side is a single
// compare-and-set UPDATE conditioned on its prior status, and both run in
// one database transaction so no partial link is ever visible. Pending
// suggestions for the document are expired so at most one active link
// exists per pair.
func (s *SQLiteStorage) CommitMatch(ctx context.Context, match service.Match, expectedPrior model.MatchStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(match.DocumentID, "documentID"); err != nil {
		return err
	}
	if err := validateString(match.TransactionID, "transactionID"); err != nil {
		return err
	}
	if match.Status != model.StatusAutoMatched && match.Status != model.StatusManualMatched {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, match.Status)
	}
	if !expectedPrior.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, expectedPrior)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET match_status = ?, matched_transaction_id = ?
		WHERE id = ? AND match_status = ?
	`, string(match.Status), match.TransactionID, match.DocumentID, string(expectedPrior))
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", match.DocumentID, common.ErrStaleWrite)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET match_status = ?, matched_document_id = ?
		WHERE id = ? AND match_status IN (?, ?)
	`, string(match.Status), match.DocumentID, match.TransactionID,
		string(model.StatusUnmatched), string(model.StatusSuggested))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", match.TransactionID, common.ErrStaleWrite)
	}

	// Superseding: retire pending suggestions for the document.
	if _, err := tx.ExecContext(ctx, `
		UPDATE match_suggestions
		SET status = ?
		WHERE document_id = ? AND status = ? AND transaction_id != ?
	`, string(model.SuggestionExpired), match.DocumentID,
		string(model.SuggestionPending), match.TransactionID); err != nil {
		return fmt.Errorf("failed to expire superseded suggestions: %w", err)
	}

	return tx.Commit()
}
