package model

import "time"

// Document is an ingested financial document (inbox item, receipt, or
// invoice). Created by the external ingestion pipeline; only its match
// linkage is mutated by this core.
type Document struct {
	Date                 time.Time
	ID                   string
	TeamID               string
	VendorName           string // Extracted vendor/payer name
	Currency             string
	MatchedTransactionID string
	MatchStatus          MatchStatus
	Amount               int64
}
