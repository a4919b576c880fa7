// Package service defines the contracts between the reconciliation core and
// its collaborators.
package service

import (
	"context"
	"time"

	"github.com/copperbooks/recon/internal/model"
)

// DateWindow bounds candidate generation around an anchor's date. Entities
// outside a plausible payment window are excluded before scoring.
type DateWindow struct {
	Before time.Duration
	After  time.Duration
}

// DefaultDateWindow is the candidate window used when none is configured.
var DefaultDateWindow = DateWindow{
	Before: 90 * 24 * time.Hour,
	After:  90 * 24 * time.Hour,
}

// Match describes one committed document/transaction link.
type Match struct {
	TeamID          string
	DocumentID      string
	TransactionID   string
	Status          model.MatchStatus
	ConfidenceScore float64
}

// Storage is the persistence contract consumed by the matching engine and
// the dispatcher. The store is the single source of truth; status is never
// cached across job invocations.
type Storage interface {
	// Document operations
	SaveDocuments(ctx context.Context, docs []model.Document) error
	GetDocumentByID(ctx context.Context, id string) (*model.Document, error)
	ListPendingDocuments(ctx context.Context, teamID string, limit int) ([]model.Document, error)

	// Transaction operations
	SaveTransactions(ctx context.Context, txns []model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)

	// Candidate pools: same team, same currency, inside the date window,
	// terminal states excluded on both sides.
	GetCandidateTransactions(ctx context.Context, doc *model.Document, window DateWindow) ([]model.Transaction, error)
	GetCandidateDocuments(ctx context.Context, txn *model.Transaction, window DateWindow) ([]model.Document, error)

	// CommitMatch links both sides atomically, conditioned on the document
	// still being in expectedPrior. Returns common.ErrStaleWrite when
	// another job already committed a transition.
	CommitMatch(ctx context.Context, match Match, expectedPrior model.MatchStatus) error

	// MarkSuggested moves a document to suggested, conditioned on
	// expectedPrior. Same conflict semantics as CommitMatch.
	MarkSuggested(ctx context.Context, documentID string, expectedPrior model.MatchStatus) error

	// Suggestion operations. SaveSuggestions is an idempotent upsert keyed
	// on (document_id, transaction_id).
	SaveSuggestions(ctx context.Context, suggestions []model.MatchSuggestion) error
	GetSuggestionsByDocument(ctx context.Context, documentID string) ([]model.MatchSuggestion, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// JobStore is the persistence contract for the task queue runtime.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *model.Job) error
	// ClaimJob atomically moves the oldest runnable waiting job on the
	// queue to active. Returns nil when nothing is runnable.
	ClaimJob(ctx context.Context, queue string) (*model.Job, error)
	CompleteJob(ctx context.Context, id string, result string) error
	// FailJob records a failed attempt. When runAt is non-nil the job is
	// re-enqueued as waiting for that time; otherwise it is terminally
	// failed.
	FailJob(ctx context.Context, id string, lastError string, runAt *time.Time) error
	ListFailedJobs(ctx context.Context, limit int) ([]model.Job, error)
	QueueDepths(ctx context.Context) ([]model.QueueDepth, error)
	// ReclaimStalledJobs recovers active jobs whose attempt started more
	// than olderThan ago, which only happens when the worker running them
	// died without settling the row. Jobs with attempts remaining go back
	// to waiting; exhausted ones are terminally failed. Returns the number
	// of rows touched.
	ReclaimStalledJobs(ctx context.Context, queue string, olderThan time.Duration) (int64, error)
	// PruneJobs enforces the per-queue retention policy for finished jobs.
	PruneJobs(ctx context.Context, queue string, completed, failed Retention) error
}

// Retention bounds how long finished jobs stay visible: at most Count jobs
// and nothing older than Age, whichever is smaller.
type Retention struct {
	Age   time.Duration
	Count int
}

// RetryOptions configures retry behavior for storage operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
