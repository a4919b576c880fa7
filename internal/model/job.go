package model

import "time"

// JobStatus enumerates the lifecycle states of a queued job.
type JobStatus string

// Job lifecycle: waiting -> active -> (completed | failed). A failed job
// with attempts remaining is re-enqueued as waiting with a backoff delay.
const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of queued work. Completed and failed jobs are retained
// briefly for the operator board, then pruned.
type Job struct {
	RunAt       time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	ID          string
	Queue       string
	Type        string
	Payload     []byte
	Result      string
	LastError   string
	Status      JobStatus
	Attempts    int
	MaxAttempts int
}

// AttemptsRemaining reports whether the job may still be retried.
func (j *Job) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

// QueueDepth is a per-queue count of jobs in one status, for the operator
// board.
type QueueDepth struct {
	Queue  string
	Status JobStatus
	Count  int
}
