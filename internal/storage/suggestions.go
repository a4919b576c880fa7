package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/copperbooks/recon/internal/model"
)

const suggestionColumns = `id, team_id, document_id, transaction_id,
	confidence_score, amount_score, date_score, name_score,
	match_type, status, created_at`

// SaveSuggestions upserts suggestion rows keyed on (document_id,
// transaction_id). Re-scoring the same pair refreshes the scores but never
// clobbers a status that has already left pending.
func (s *SQLiteStorage) SaveSuggestions(ctx context.Context, suggestions []model.MatchSuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(suggestions) == 0 {
		return nil
	}
	for i := range suggestions {
		if err := validateSuggestion(&suggestions[i]); err != nil {
			return fmt.Errorf("suggestion %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_suggestions (`+suggestionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, transaction_id) DO UPDATE SET
			confidence_score = excluded.confidence_score,
			amount_score = excluded.amount_score,
			date_score = excluded.date_score,
			name_score = excluded.name_score,
			match_type = excluded.match_type,
			status = CASE
				WHEN match_suggestions.status = 'pending' THEN excluded.status
				ELSE match_suggestions.status
			END
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare suggestion upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range suggestions {
		sg := &suggestions[i]
		_, err := stmt.ExecContext(ctx,
			sg.ID, sg.TeamID, sg.DocumentID, sg.TransactionID,
			sg.ConfidenceScore, sg.AmountScore, sg.DateScore, sg.NameScore,
			string(sg.MatchType), string(sg.Status), sg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save suggestion for document %s: %w", sg.DocumentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit suggestions: %w", err)
	}
	return nil
}

// GetSuggestionsByDocument returns all suggestion rows for a document,
// strongest match first.
func (s *SQLiteStorage) GetSuggestionsByDocument(ctx context.Context, documentID string) ([]model.MatchSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+`
		FROM match_suggestions
		WHERE document_id = ?
		ORDER BY confidence_score DESC, transaction_id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.MatchSuggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suggestions: %w", err)
	}
	return out, nil
}

func scanSuggestion(row rowScanner) (model.MatchSuggestion, error) {
	var sg model.MatchSuggestion
	var matchType, status string
	err := row.Scan(
		&sg.ID, &sg.TeamID, &sg.DocumentID, &sg.TransactionID,
		&sg.ConfidenceScore, &sg.AmountScore, &sg.DateScore, &sg.NameScore,
		&matchType, &status, &sg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return sg, err
	}
	if err != nil {
		return sg, fmt.Errorf("failed to scan suggestion: %w", err)
	}
	sg.MatchType = model.MatchType(matchType)
	sg.Status = model.SuggestionStatus(status)
	return sg, nil
}
