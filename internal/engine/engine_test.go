package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
	"github.com/copperbooks/recon/internal/storage"
)

func setupMatcher(t *testing.T) (*Matcher, service.Storage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	return New(store), store
}

var testDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func seedDocument(t *testing.T, store service.Storage, id string, amount int64, date time.Time, vendor string) {
	t.Helper()
	require.NoError(t, store.SaveDocuments(context.Background(), []model.Document{{
		ID:         id,
		TeamID:     "team-1",
		Amount:     amount,
		Currency:   "USD",
		Date:       date,
		VendorName: vendor,
	}}))
}

func seedTransaction(t *testing.T, store service.Storage, id string, amount int64, date time.Time, name string) {
	t.Helper()
	require.NoError(t, store.SaveTransactions(context.Background(), []model.Transaction{{
		ID:       id,
		TeamID:   "team-1",
		Amount:   amount,
		Currency: "USD",
		Date:     date,
		Name:     name,
	}}))
}

func TestMatchDocument_AutoMatch(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate.AddDate(0, 0, 1), "ACME INC")

	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAutoMatched, outcome.Action)
	require.NotNil(t, outcome.Suggestion)
	assert.Equal(t, "txn-1", outcome.Suggestion.TransactionID)
	assert.GreaterOrEqual(t, outcome.Suggestion.ConfidenceScore, model.AutoMatchFloor)
	assert.Equal(t, model.SuggestionConfirmed, outcome.Suggestion.Status)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoMatched, doc.MatchStatus)
	assert.Equal(t, "txn-1", doc.MatchedTransactionID)

	txn, err := store.GetTransactionByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoMatched, txn.MatchStatus)
	assert.Equal(t, "doc-1", txn.MatchedDocumentID)
}

func TestMatchDocument_Idempotent(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate.AddDate(0, 0, 1), "ACME INC")

	first, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.ActionAutoMatched, first.Action)

	// Running the same job again reports the persisted result and writes
	// nothing new.
	second, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAutoMatched, second.Action)
	require.NotNil(t, second.Suggestion)
	assert.Equal(t, "txn-1", second.Suggestion.TransactionID)

	suggestions, err := store.GetSuggestionsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)
}

func TestMatchDocument_CreatesSuggestions(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	// Three percent off on amount, five days apart, same vendor: 0.875.
	seedDocument(t, store, "doc-1", 10300, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 10000, testDate.AddDate(0, 0, 5), "ACME INC")

	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuggestionCreated, outcome.Action)
	require.NotNil(t, outcome.Suggestion)
	assert.Equal(t, model.MatchTypeHighConfidence, outcome.Suggestion.MatchType)
	assert.Equal(t, model.SuggestionPending, outcome.Suggestion.Status)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuggested, doc.MatchStatus)

	// The transaction side stays free until a human confirms.
	txn, err := store.GetTransactionByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, txn.MatchStatus)

	// Re-running refreshes the same suggestion row instead of duplicating.
	again, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuggestionCreated, again.Action)

	suggestions, err := store.GetSuggestionsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)
}

func TestMatchDocument_SuggestionLimit(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 10000, testDate, "Acme Corp")
	// Five plausible candidates, all in the suggestion band.
	for _, id := range []string{"txn-1", "txn-2", "txn-3", "txn-4", "txn-5"} {
		seedTransaction(t, store, id, 10300, testDate.AddDate(0, 0, 5), "ACME INC")
	}

	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuggestionCreated, outcome.Action)

	suggestions, err := store.GetSuggestionsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, suggestions, 3)
}

func TestMatchDocument_AmbiguousCandidatesSuggestInstead(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	// Two equally perfect candidates: committing either would be a guess.
	seedTransaction(t, store, "txn-b", 125000, testDate, "ACME INC")
	seedTransaction(t, store, "txn-a", 125000, testDate, "ACME INC")

	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuggestionCreated, outcome.Action)

	// Tie-break is deterministic: the lexicographically smaller id ranks
	// first.
	require.NotNil(t, outcome.Suggestion)
	assert.Equal(t, "txn-a", outcome.Suggestion.TransactionID)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuggested, doc.MatchStatus)
}

func TestMatchDocument_NoCandidates(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")

	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionNoMatch, outcome.Action)
	assert.Nil(t, outcome.Suggestion)
}

func TestMatchDocument_BelowFloorIsNoMatchYet(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 10000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 30000, testDate.AddDate(0, 0, 40), "Zenith Logistics")

	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionNoMatchYet, outcome.Action)

	// The document stays eligible for a later retry.
	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, doc.MatchStatus)
}

func TestMatchDocument_TerminalStatesAreImmune(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate, "ACME INC")
	seedTransaction(t, store, "txn-2", 125000, testDate, "ACME INC")

	require.NoError(t, store.CommitMatch(ctx, service.Match{
		TeamID:        "team-1",
		DocumentID:    "doc-1",
		TransactionID: "txn-1",
		Status:        model.StatusManualMatched,
	}, model.StatusUnmatched))

	// A matching job arriving after the manual match must not disturb it.
	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionNoMatch, outcome.Action)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualMatched, doc.MatchStatus)
	assert.Equal(t, "txn-1", doc.MatchedTransactionID)
}

func TestMatchTransaction_Bidirectional(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	// The document arrived first and found nothing; the transaction lands
	// later and closes the loop.
	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate.AddDate(0, 0, 1), "ACME INC")

	outcome, err := matcher.MatchTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAutoMatched, outcome.Action)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoMatched, doc.MatchStatus)
	assert.Equal(t, "txn-1", doc.MatchedTransactionID)
}

func TestMatchTransaction_AlreadyMatched(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate, "ACME INC")

	first, err := matcher.MatchTransaction(ctx, "txn-1")
	require.NoError(t, err)
	require.Equal(t, model.ActionAutoMatched, first.Action)

	second, err := matcher.MatchTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAutoMatched, second.Action)
}

func TestProcessDocuments_IndependentAnchors(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-match", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate, "ACME INC")
	seedDocument(t, store, "doc-alone", 999999, testDate.AddDate(0, 1, 0), "Lone Vendor")

	result, err := matcher.ProcessDocuments(ctx, []string{"doc-match", "doc-missing", "doc-alone"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.AutoMatched)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.NoMatch+result.NoMatchYet)
	require.Len(t, result.Results, 3)
	assert.Error(t, result.Results[1].Err)
}

func TestProcessNewTransactions_Counts(t *testing.T) {
	matcher, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-match", 125000, testDate, "ACME INC")
	seedTransaction(t, store, "txn-alone", 42, testDate, "Nobody Sells This")

	result, err := matcher.ProcessNewTransactions(ctx, []string{"txn-match", "txn-alone"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.AutoMatched)
	assert.Equal(t, 0, result.Errors)
}

func TestProcessDocuments_ContextCancellation(t *testing.T) {
	matcher, store := setupMatcher(t)

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := matcher.ProcessDocuments(ctx, []string{"doc-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Results)
}

func TestMatchDocument_BatchEquivalence(t *testing.T) {
	// The same dataset produces identical end states whether documents are
	// processed one at a time or in one batch.
	run := func(t *testing.T, batch bool) map[string]model.MatchStatus {
		matcher, store := setupMatcher(t)
		ctx := context.Background()

		ids := []string{"doc-1", "doc-2", "doc-3"}
		seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
		seedDocument(t, store, "doc-2", 50000, testDate, "Blue Bottle Coffee")
		seedDocument(t, store, "doc-3", 777777, testDate, "Unmatched Vendor")
		seedTransaction(t, store, "txn-1", 125000, testDate, "ACME INC")
		seedTransaction(t, store, "txn-2", 50000, testDate.AddDate(0, 0, 2), "Blue Bottle Coffee")

		if batch {
			_, err := matcher.ProcessDocuments(ctx, ids)
			require.NoError(t, err)
		} else {
			for _, id := range ids {
				_, err := matcher.MatchDocument(ctx, id)
				require.NoError(t, err)
			}
		}

		statuses := make(map[string]model.MatchStatus, len(ids))
		for _, id := range ids {
			doc, err := store.GetDocumentByID(ctx, id)
			require.NoError(t, err)
			statuses[id] = doc.MatchStatus
		}
		return statuses
	}

	oneAtATime := run(t, false)
	batched := run(t, true)
	assert.Equal(t, oneAtATime, batched)
}

// racingStorage delegates to a real store but runs a hook once after the
// candidate fetch, standing in for a concurrent job that commits between
// the fetch and the compare-and-set write.
type racingStorage struct {
	service.Storage
	afterCandidates func()
}

func (s *racingStorage) GetCandidateTransactions(ctx context.Context, doc *model.Document, window service.DateWindow) ([]model.Transaction, error) {
	pool, err := s.Storage.GetCandidateTransactions(ctx, doc, window)
	if err == nil && s.afterCandidates != nil {
		hook := s.afterCandidates
		s.afterCandidates = nil
		hook()
	}
	return pool, err
}

func TestMatchDocument_ConcurrentCommitOnDocumentWins(t *testing.T) {
	_, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate, "ACME INC")
	seedTransaction(t, store, "txn-2", 125000, testDate.AddDate(0, 0, 20), "ACME INC")

	// Another job commits doc-1 to txn-2 while this one is still scoring,
	// so this job's write comes back stale.
	racing := &racingStorage{Storage: store, afterCandidates: func() {
		require.NoError(t, store.CommitMatch(ctx, service.Match{
			TeamID:          "team-1",
			DocumentID:      "doc-1",
			TransactionID:   "txn-2",
			Status:          model.StatusAutoMatched,
			ConfidenceScore: 0.91,
		}, model.StatusUnmatched))
	}}
	matcher := New(racing)

	// The losing job reports the committed outcome instead of an error.
	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAutoMatched, outcome.Action)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoMatched, doc.MatchStatus)
	assert.Equal(t, "txn-2", doc.MatchedTransactionID)

	// The losing job's preferred candidate is untouched.
	txn, err := store.GetTransactionByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, txn.MatchStatus)
	assert.Empty(t, txn.MatchedDocumentID)
}

func TestMatchDocument_TransactionClaimedByOtherDocument(t *testing.T) {
	_, store := setupMatcher(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-1", 125000, testDate, "Acme Corp")
	seedDocument(t, store, "doc-2", 125000, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 125000, testDate, "ACME INC")

	// Another document's job claims the only transaction mid-flight. The
	// commit fails on the transaction side and rolls back entirely.
	racing := &racingStorage{Storage: store, afterCandidates: func() {
		require.NoError(t, store.CommitMatch(ctx, service.Match{
			TeamID:          "team-1",
			DocumentID:      "doc-2",
			TransactionID:   "txn-1",
			Status:          model.StatusAutoMatched,
			ConfidenceScore: 0.95,
		}, model.StatusUnmatched))
	}}
	matcher := New(racing)

	// doc-1 is still open, so the truthful report is a retryable miss.
	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionNoMatchYet, outcome.Action)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, doc.MatchStatus)
	assert.Empty(t, doc.MatchedTransactionID)

	txn, err := store.GetTransactionByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-2", txn.MatchedDocumentID)
}

func TestMatchDocument_ConcurrentCommitDuringSuggestion(t *testing.T) {
	_, store := setupMatcher(t)
	ctx := context.Background()

	// A suggestion-band candidate, plus a spare transaction a human links
	// manually while the job is scoring.
	seedDocument(t, store, "doc-1", 10300, testDate, "Acme Corp")
	seedTransaction(t, store, "txn-1", 10000, testDate.AddDate(0, 0, 5), "ACME INC")
	seedTransaction(t, store, "txn-2", 10300, testDate.AddDate(0, 0, 60), "Zenith Logistics")

	racing := &racingStorage{Storage: store, afterCandidates: func() {
		require.NoError(t, store.CommitMatch(ctx, service.Match{
			TeamID:        "team-1",
			DocumentID:    "doc-1",
			TransactionID: "txn-2",
			Status:        model.StatusManualMatched,
		}, model.StatusUnmatched))
	}}
	matcher := New(racing)

	// The suggestion row is still recorded, but the manual match is not
	// disturbed and no error surfaces.
	outcome, err := matcher.MatchDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSuggestionCreated, outcome.Action)

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusManualMatched, doc.MatchStatus)
	assert.Equal(t, "txn-2", doc.MatchedTransactionID)
}
