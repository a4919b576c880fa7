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

const transactionColumns = `id, team_id, amount, currency, date, name, COALESCE(counterparty_name, ''), match_status, COALESCE(matched_document_id, '')`

// SaveTransactions inserts transactions, ignoring ids that already exist.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, txns []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(txns); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			id, team_id, amount, currency, date, name, counterparty_name, match_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range txns {
		status := txns[i].MatchStatus
		if status == "" {
			status = model.StatusUnmatched
		}
		if _, err := stmt.ExecContext(ctx,
			txns[i].ID,
			txns[i].TeamID,
			txns[i].Amount,
			txns[i].Currency,
			txns[i].Date,
			txns[i].Name,
			txns[i].CounterpartyName,
			string(status),
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txns[i].ID, err)
		}
	}

	return tx.Commit()
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return txn, nil
}

// GetCandidateTransactions returns the transactions eligible to match
// against a document anchor: same team and currency, inside the date
// window, not in a terminal state. Ordered by date then id for reproducible
// scoring.
func (s *SQLiteStorage) GetCandidateTransactions(ctx context.Context, doc *model.Document, window service.DateWindow) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE team_id = ?
		  AND currency = ?
		  AND date >= ? AND date <= ?
		  AND match_status IN (?, ?)
		ORDER BY date, id
	`,
		doc.TeamID,
		doc.Currency,
		doc.Date.Add(-window.Before),
		doc.Date.Add(window.After),
		string(model.StatusUnmatched),
		string(model.StatusSuggested),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var status string
	if err := row.Scan(
		&txn.ID,
		&txn.TeamID,
		&txn.Amount,
		&txn.Currency,
		&txn.Date,
		&txn.Name,
		&txn.CounterpartyName,
		&status,
		&txn.MatchedDocumentID,
	); err != nil {
		return nil, err
	}
	txn.MatchStatus = model.MatchStatus(status)
	return &txn, nil
}
