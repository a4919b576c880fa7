// Package model defines the domain types shared across the reconciliation core.
package model

import "time"

// Transaction is a bank transaction as produced by the (external) provider
// sync. Amounts are signed minor units. Everything except the match linkage
// is read-only to this core.
type Transaction struct {
	Date                 time.Time
	ID                   string
	TeamID               string
	Name                 string // Raw bank description
	CounterpartyName     string // Cleaned counterparty, when available
	Currency             string
	MatchedDocumentID    string
	MatchStatus          MatchStatus
	Amount               int64
}

// DisplayName returns the best available counterparty label.
func (t *Transaction) DisplayName() string {
	if t.CounterpartyName != "" {
		return t.CounterpartyName
	}
	return t.Name
}
