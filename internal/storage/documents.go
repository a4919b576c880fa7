package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
)

const documentColumns = `id, team_id, amount, currency, date, vendor_name, match_status, COALESCE(matched_transaction_id, '')`

// SaveDocuments inserts documents, ignoring ids that already exist.
func (s *SQLiteStorage) SaveDocuments(ctx context.Context, docs []model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocuments(docs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO documents (
			id, team_id, amount, currency, date, vendor_name, match_status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range docs {
		status := docs[i].MatchStatus
		if status == "" {
			status = model.StatusUnmatched
		}
		if _, err := stmt.ExecContext(ctx,
			docs[i].ID,
			docs[i].TeamID,
			docs[i].Amount,
			docs[i].Currency,
			docs[i].Date,
			docs[i].VendorName,
			string(status),
		); err != nil {
			return fmt.Errorf("failed to insert document %s: %w", docs[i].ID, err)
		}
	}

	return tx.Commit()
}

// GetDocumentByID retrieves a single document.
func (s *SQLiteStorage) GetDocumentByID(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// ListPendingDocuments returns up to limit unmatched documents for a team,
// oldest first. This is the sweep page.
func (s *SQLiteStorage) ListPendingDocuments(ctx context.Context, teamID string, limit int) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(teamID, "teamID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE team_id = ? AND match_status = ?
		ORDER BY date, id
		LIMIT ?
	`, teamID, string(model.StatusUnmatched), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDocuments(rows)
}

// GetCandidateDocuments returns the documents eligible to match against a
// transaction anchor: same team and currency, inside the date window, not
// in a terminal state. Ordered by date then id for reproducible scoring.
func (s *SQLiteStorage) GetCandidateDocuments(ctx context.Context, txn *model.Transaction, window service.DateWindow) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateTransaction(txn); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE team_id = ?
		  AND currency = ?
		  AND date >= ? AND date <= ?
		  AND match_status IN (?, ?)
		ORDER BY date, id
	`,
		txn.TeamID,
		txn.Currency,
		txn.Date.Add(-window.Before),
		txn.Date.Add(window.After),
		string(model.StatusUnmatched),
		string(model.StatusSuggested),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDocuments(rows)
}

// MarkSuggested moves a document to suggested with a compare-and-set on the
// expected prior status. A zero-row update means another job already
// transitioned the document.
func (s *SQLiteStorage) MarkSuggested(ctx context.Context, documentID string, expectedPrior model.MatchStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return err
	}
	if !expectedPrior.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, expectedPrior)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET match_status = ?
		WHERE id = ? AND match_status = ?
	`, string(model.StatusSuggested), documentID, string(expectedPrior))
	if err != nil {
		return fmt.Errorf("failed to mark document suggested: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", documentID, common.ErrStaleWrite)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var status string
	if err := row.Scan(
		&doc.ID,
		&doc.TeamID,
		&doc.Amount,
		&doc.Currency,
		&doc.Date,
		&doc.VendorName,
		&status,
		&doc.MatchedTransactionID,
	); err != nil {
		return nil, err
	}
	doc.MatchStatus = model.MatchStatus(status)
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}
