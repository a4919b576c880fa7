// Package dispatch decides which matching jobs an event produces and
// enqueues them. The branching policy lives in one pure decision function so
// it can be tested without I/O.
package dispatch

import (
	"errors"
	"fmt"
)

// Shard and page limits for the dispatch policy.
const (
	// SmallBatchThreshold is the largest explicit document set that goes
	// out as a single batch job.
	SmallBatchThreshold = 10
	// ShardSize is the chunk size for sharded batch and bidirectional jobs.
	ShardSize = 10
	// SweepPageSize caps how many pending documents a sweep picks up.
	SweepPageSize = 50
)

// EventKind tags the trigger that invoked the dispatcher.
type EventKind int

// Dispatch triggers, in decision order: explicit documents win over new
// transactions; neither means a periodic sweep.
const (
	KindDocuments EventKind = iota
	KindTransactions
	KindSweep
)

func (k EventKind) String() string {
	switch k {
	case KindDocuments:
		return "documents"
	case KindTransactions:
		return "transactions"
	case KindSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// Event is the tagged union of dispatch triggers.
type Event struct {
	TeamID            string
	DocumentIDs       []string
	NewTransactionIDs []string
}

// Kind derives the event's tag.
func (e Event) Kind() EventKind {
	switch {
	case len(e.DocumentIDs) > 0:
		return KindDocuments
	case len(e.NewTransactionIDs) > 0:
		return KindTransactions
	default:
		return KindSweep
	}
}

// ErrTeamRequired is returned for events missing a tenant.
var ErrTeamRequired = errors.New("event requires a team id")

// JobSpec is one job the plan wants enqueued.
type JobSpec struct {
	Payload any
	Type    string
}

// Plan maps an event to the jobs it produces. Sweep events return no specs
// and needsSweep=true: the dispatcher must fetch the pending page first and
// funnel it through PlanSweepPage. Pure logic, no I/O.
func Plan(ev Event) (specs []JobSpec, needsSweep bool, err error) {
	if ev.TeamID == "" {
		return nil, false, ErrTeamRequired
	}

	switch ev.Kind() {
	case KindDocuments:
		for _, chunk := range shard(ev.DocumentIDs, ShardSize) {
			specs = append(specs, JobSpec{
				Type:    JobTypeBatch,
				Payload: BatchPayload{TeamID: ev.TeamID, DocumentIDs: chunk},
			})
		}
		return specs, false, nil

	case KindTransactions:
		for _, chunk := range shard(ev.NewTransactionIDs, ShardSize) {
			specs = append(specs, JobSpec{
				Type:    JobTypeBidirectional,
				Payload: BidirectionalPayload{TeamID: ev.TeamID, NewTransactionIDs: chunk},
			})
		}
		return specs, false, nil

	default:
		return nil, true, nil
	}
}

// PlanSweepPage turns a fetched pending-document page into jobs: none when
// the page is empty, otherwise exactly one batch job covering the page.
func PlanSweepPage(teamID string, documentIDs []string) []JobSpec {
	if len(documentIDs) == 0 {
		return nil
	}
	return []JobSpec{{
		Type:    JobTypeBatch,
		Payload: BatchPayload{TeamID: teamID, DocumentIDs: documentIDs},
	}}
}

// shard splits ids into chunks of at most size elements, preserving order.
func shard(ids []string, size int) [][]string {
	if size <= 0 {
		size = ShardSize
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func validateIDs(field string, ids []string, maxLen int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%s must not be empty", field)
	}
	if maxLen > 0 && len(ids) > maxLen {
		return fmt.Errorf("%s exceeds limit of %d", field, maxLen)
	}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%s[%d] is empty", field, i)
		}
	}
	return nil
}
