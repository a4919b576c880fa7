package model

import "time"

// MatchStatus tracks where a document (and the transaction it links to)
// sits in the matching lifecycle.
type MatchStatus string

// Match lifecycle states.
const (
	StatusUnmatched     MatchStatus = "unmatched"
	StatusAutoMatched   MatchStatus = "auto_matched"
	StatusSuggested     MatchStatus = "suggested"
	StatusManualMatched MatchStatus = "manual_matched"
	StatusFlagged       MatchStatus = "flagged"
	StatusExcluded      MatchStatus = "excluded"
)

// Valid reports whether s is a known match status.
func (s MatchStatus) Valid() bool {
	switch s {
	case StatusUnmatched, StatusAutoMatched, StatusSuggested,
		StatusManualMatched, StatusFlagged, StatusExcluded:
		return true
	}
	return false
}

// Terminal reports whether automatic processing is finished for this status.
// Re-running a match against a terminal anchor must be a no-op.
func (s MatchStatus) Terminal() bool {
	switch s {
	case StatusAutoMatched, StatusManualMatched, StatusFlagged, StatusExcluded:
		return true
	}
	return false
}

// MatchType classifies how strong a committed or suggested match is.
type MatchType string

// Match types, mirrored onto suggestions.
const (
	MatchTypeAutoMatched    MatchType = "auto_matched"
	MatchTypeHighConfidence MatchType = "high_confidence"
	MatchTypeSuggested      MatchType = "suggested"
)

// SuggestionStatus tracks the human review state of a suggestion.
type SuggestionStatus string

// Suggestion review states. Pending suggestions expire when a match commits.
const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionConfirmed SuggestionStatus = "confirmed"
	SuggestionDeclined  SuggestionStatus = "declined"
	SuggestionExpired   SuggestionStatus = "expired"
)

// MatchSuggestion is a scored candidate pairing awaiting review. It is not a
// source of truth until promoted to a committed match.
type MatchSuggestion struct {
	CreatedAt       time.Time
	ID              string
	TeamID          string
	DocumentID      string
	TransactionID   string
	MatchType       MatchType
	Status          SuggestionStatus
	ConfidenceScore float64
	AmountScore     float64
	DateScore       float64
	NameScore       float64
}

// ConfidenceBand buckets a confidence score for display.
type ConfidenceBand string

// Display bands. Scores below the suggestion floor are not actionable.
const (
	BandHigh   ConfidenceBand = "high"
	BandMedium ConfidenceBand = "medium"
	BandLow    ConfidenceBand = "low"
	BandNone   ConfidenceBand = "none"
)

// Display thresholds. Band boundaries are inclusive on the lower bound.
const (
	AutoMatchFloor  = 0.9
	MediumBandFloor = 0.7
	SuggestionFloor = 0.5
)

// Band classifies a confidence score into its display band.
func Band(score float64) ConfidenceBand {
	switch {
	case score >= AutoMatchFloor:
		return BandHigh
	case score >= MediumBandFloor:
		return BandMedium
	case score >= SuggestionFloor:
		return BandLow
	default:
		return BandNone
	}
}

// Action is the result classification of one matching attempt.
type Action string

// Matching outcomes. NoMatchYet signals the caller to retry once more data
// exists; it is not a failure.
const (
	ActionAutoMatched       Action = "auto_matched"
	ActionSuggestionCreated Action = "suggestion_created"
	ActionNoMatch           Action = "no_match"
	ActionNoMatchYet        Action = "no_match_yet"
)

// Outcome is the result of matching one anchor.
type Outcome struct {
	Suggestion *MatchSuggestion
	Action     Action
}
