// Package engine implements the matching engine that links financial
// documents to bank transactions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
)

// Config holds the engine's classification constants.
type Config struct {
	Window          service.DateWindow
	AutoMatchFloor  float64
	AmbiguityMargin float64
	SuggestionFloor float64
	MaxSuggestions  int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Window:          service.DefaultDateWindow,
		AutoMatchFloor:  model.AutoMatchFloor,
		AmbiguityMargin: 0.05,
		SuggestionFloor: model.SuggestionFloor,
		MaxSuggestions:  3,
	}
}

// Matcher computes match outcomes for one anchor at a time. It holds no
// state between invocations; the store is the single source of truth, which
// is what makes concurrent and duplicate triggers safe.
type Matcher struct {
	storage service.Storage
	config  Config
}

// New creates a matcher with the default configuration.
func New(storage service.Storage) *Matcher {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates a matcher with a custom configuration.
func NewWithConfig(storage service.Storage, config Config) *Matcher {
	if config.MaxSuggestions <= 0 {
		config.MaxSuggestions = 3
	}
	return &Matcher{storage: storage, config: config}
}

// candidate is one scored pairing between the anchor and an opposite-side
// entity.
type candidate struct {
	documentID    string
	transactionID string
	docStatus     model.MatchStatus
	score         float64
	amountScore   float64
	dateScore     float64
	nameScore     float64
	dateDistance  int
	exactAmount   bool
}

// sortCandidates orders by score descending. Equal scores break on exact
// amount match, then smaller date distance, then lexicographically smaller
// opposite-side id, so results are reproducible.
func sortCandidates(cands []candidate, anchorIsDocument bool) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.exactAmount != b.exactAmount {
			return a.exactAmount
		}
		if a.dateDistance != b.dateDistance {
			return a.dateDistance < b.dateDistance
		}
		if anchorIsDocument {
			return a.transactionID < b.transactionID
		}
		return a.documentID < b.documentID
	})
}

// MatchDocument runs one matching attempt anchored on a document.
func (m *Matcher) MatchDocument(ctx context.Context, documentID string) (*model.Outcome, error) {
	doc, err := m.storage.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}

	if doc.MatchStatus.Terminal() {
		return m.persistedDocumentOutcome(ctx, doc)
	}

	pool, err := m.storage.GetCandidateTransactions(ctx, doc, m.config.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate transactions: %w", err)
	}

	if len(pool) == 0 {
		return &model.Outcome{Action: model.ActionNoMatch}, nil
	}

	cands := make([]candidate, 0, len(pool))
	for _, txn := range pool {
		cands = append(cands, scorePair(doc, &txn))
	}
	sortCandidates(cands, true)

	return m.classify(ctx, doc, cands)
}

// MatchTransaction runs one matching attempt anchored on a transaction.
// This is the path that lets a transaction arriving after its document
// still close the loop.
func (m *Matcher) MatchTransaction(ctx context.Context, transactionID string) (*model.Outcome, error) {
	txn, err := m.storage.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	if txn.MatchStatus.Terminal() {
		return m.persistedTransactionOutcome(txn), nil
	}

	pool, err := m.storage.GetCandidateDocuments(ctx, txn, m.config.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidate documents: %w", err)
	}

	if len(pool) == 0 {
		return &model.Outcome{Action: model.ActionNoMatch}, nil
	}

	cands := make([]candidate, 0, len(pool))
	for _, doc := range pool {
		cands = append(cands, scorePair(&doc, txn))
	}
	sortCandidates(cands, false)

	top := cands[0]
	if m.autoMatchable(cands) {
		doc, docErr := m.storage.GetDocumentByID(ctx, top.documentID)
		if docErr != nil {
			return nil, fmt.Errorf("failed to load matched document: %w", docErr)
		}
		return m.commitAutoMatch(ctx, doc, top)
	}

	if top.score >= m.config.SuggestionFloor {
		return m.createSuggestions(ctx, txn.TeamID, cands)
	}

	return &model.Outcome{Action: model.ActionNoMatchYet}, nil
}

// scorePair scores one document/transaction pairing.
func scorePair(doc *model.Document, txn *model.Transaction) candidate {
	amountScore := scoreAmount(doc.Amount, txn.Amount)
	dateScore := scoreDate(doc.Date, txn.Date)
	nameScore := scoreName(doc.VendorName, txn.DisplayName())

	return candidate{
		documentID:    doc.ID,
		transactionID: txn.ID,
		docStatus:     doc.MatchStatus,
		score:         confidenceScore(amountScore, dateScore, nameScore),
		amountScore:   amountScore,
		dateScore:     dateScore,
		nameScore:     nameScore,
		dateDistance:  dateDistanceDays(doc.Date, txn.Date),
		exactAmount:   doc.Amount == txn.Amount,
	}
}

// autoMatchable reports whether the top candidate clears the auto-match
// floor without a runner-up close enough to make the commit ambiguous.
func (m *Matcher) autoMatchable(cands []candidate) bool {
	top := cands[0]
	if top.score < m.config.AutoMatchFloor {
		return false
	}
	if len(cands) == 1 {
		return true
	}
	return top.score-cands[1].score >= m.config.AmbiguityMargin
}

// classify turns a sorted candidate list for a document anchor into a
// persisted outcome.
func (m *Matcher) classify(ctx context.Context, doc *model.Document, cands []candidate) (*model.Outcome, error) {
	if m.autoMatchable(cands) {
		return m.commitAutoMatch(ctx, doc, cands[0])
	}

	if cands[0].score >= m.config.SuggestionFloor {
		return m.createSuggestions(ctx, doc.TeamID, cands)
	}

	// Pool was non-empty but nothing cleared the floor. Not a failure:
	// retry later once more transactions or documents exist.
	return &model.Outcome{Action: model.ActionNoMatchYet}, nil
}

// commitAutoMatch links both sides with a compare-and-set write. A stale
// write means another job already committed; its outcome wins.
func (m *Matcher) commitAutoMatch(ctx context.Context, doc *model.Document, top candidate) (*model.Outcome, error) {
	match := service.Match{
		TeamID:          doc.TeamID,
		DocumentID:      top.documentID,
		TransactionID:   top.transactionID,
		Status:          model.StatusAutoMatched,
		ConfidenceScore: top.score,
	}

	err := m.storage.CommitMatch(ctx, match, doc.MatchStatus)
	if errors.Is(err, common.ErrStaleWrite) {
		slog.Info("Match already committed by a concurrent job",
			"document_id", top.documentID,
			"transaction_id", top.transactionID)
		fresh, freshErr := m.storage.GetDocumentByID(ctx, doc.ID)
		if freshErr != nil {
			return nil, fmt.Errorf("failed to reload document after stale write: %w", freshErr)
		}
		return m.persistedDocumentOutcome(ctx, fresh)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit match: %w", err)
	}

	suggestion := m.buildSuggestion(doc.TeamID, top, model.MatchTypeAutoMatched, model.SuggestionConfirmed)
	if saveErr := m.storage.SaveSuggestions(ctx, []model.MatchSuggestion{suggestion}); saveErr != nil {
		slog.Warn("Failed to record auto-match suggestion",
			"document_id", top.documentID,
			"error", saveErr)
	}

	slog.Info("Auto-matched",
		"document_id", top.documentID,
		"transaction_id", top.transactionID,
		"confidence", top.score)

	return &model.Outcome{Action: model.ActionAutoMatched, Suggestion: &suggestion}, nil
}

// createSuggestions persists the top-ranked candidates that clear the
// suggestion floor and moves the affected documents to suggested.
func (m *Matcher) createSuggestions(ctx context.Context, teamID string, cands []candidate) (*model.Outcome, error) {
	suggestions := make([]model.MatchSuggestion, 0, m.config.MaxSuggestions)
	for _, c := range cands {
		if c.score < m.config.SuggestionFloor || len(suggestions) == m.config.MaxSuggestions {
			break
		}
		matchType := model.MatchTypeSuggested
		if c.score >= model.MediumBandFloor {
			matchType = model.MatchTypeHighConfidence
		}
		suggestions = append(suggestions, m.buildSuggestion(teamID, c, matchType, model.SuggestionPending))
	}

	if err := m.storage.SaveSuggestions(ctx, suggestions); err != nil {
		return nil, fmt.Errorf("failed to save suggestions: %w", err)
	}

	// With a document anchor every suggestion shares one document; with a
	// transaction anchor each suggestion names a different one.
	marked := make(map[string]bool, len(suggestions))
	for i := range suggestions {
		if marked[suggestions[i].DocumentID] {
			continue
		}
		marked[suggestions[i].DocumentID] = true

		prior := candidateStatus(cands, suggestions[i].DocumentID)
		err := m.storage.MarkSuggested(ctx, suggestions[i].DocumentID, prior)
		if errors.Is(err, common.ErrStaleWrite) {
			// Another job committed this document in the meantime; the
			// suggestion row stays for audit but the status is theirs.
			slog.Info("Document transitioned during suggestion",
				"document_id", suggestions[i].DocumentID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to mark document suggested: %w", err)
		}
	}

	slog.Info("Suggestions created",
		"team_id", teamID,
		"count", len(suggestions),
		"top_confidence", suggestions[0].ConfidenceScore,
		"band", model.Band(suggestions[0].ConfidenceScore))

	return &model.Outcome{Action: model.ActionSuggestionCreated, Suggestion: &suggestions[0]}, nil
}

func candidateStatus(cands []candidate, documentID string) model.MatchStatus {
	for _, c := range cands {
		if c.documentID == documentID {
			return c.docStatus
		}
	}
	return model.StatusUnmatched
}

func (m *Matcher) buildSuggestion(teamID string, c candidate, matchType model.MatchType, status model.SuggestionStatus) model.MatchSuggestion {
	return model.MatchSuggestion{
		ID:              uuid.NewString(),
		TeamID:          teamID,
		DocumentID:      c.documentID,
		TransactionID:   c.transactionID,
		ConfidenceScore: c.score,
		AmountScore:     c.amountScore,
		DateScore:       c.dateScore,
		NameScore:       c.nameScore,
		MatchType:       matchType,
		Status:          status,
		CreatedAt:       time.Now(),
	}
}

// persistedDocumentOutcome maps a document's stored state to the outcome a
// re-run reports, without writing anything. Called for documents that were
// already terminal, and for documents reloaded after a stale commit.
func (m *Matcher) persistedDocumentOutcome(ctx context.Context, doc *model.Document) (*model.Outcome, error) {
	if !doc.MatchStatus.Terminal() {
		// The lost race was on the transaction side: another document
		// claimed it first. This document is still open, so a later run
		// may pair it with a different transaction.
		return &model.Outcome{Action: model.ActionNoMatchYet}, nil
	}

	if doc.MatchStatus != model.StatusAutoMatched {
		// Manual, flagged, and excluded documents are owned by humans;
		// automation has nothing left to do here.
		return &model.Outcome{Action: model.ActionNoMatch}, nil
	}

	suggestions, err := m.storage.GetSuggestionsByDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to load existing suggestions: %w", err)
	}

	outcome := &model.Outcome{Action: model.ActionAutoMatched}
	for i := range suggestions {
		if suggestions[i].TransactionID == doc.MatchedTransactionID {
			outcome.Suggestion = &suggestions[i]
			break
		}
	}
	return outcome, nil
}

func (m *Matcher) persistedTransactionOutcome(txn *model.Transaction) *model.Outcome {
	if txn.MatchStatus == model.StatusAutoMatched {
		return &model.Outcome{Action: model.ActionAutoMatched}
	}
	return &model.Outcome{Action: model.ActionNoMatch}
}
