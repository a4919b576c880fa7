package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   MatchStatus
		terminal bool
	}{
		{StatusUnmatched, false},
		{StatusSuggested, false},
		{StatusAutoMatched, true},
		{StatusManualMatched, true},
		{StatusFlagged, true},
		{StatusExcluded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}

	assert.False(t, MatchStatus("bogus").Valid())
}

func TestJob_AttemptsRemaining(t *testing.T) {
	job := Job{Attempts: 2, MaxAttempts: 3}
	assert.True(t, job.AttemptsRemaining())

	job.Attempts = 3
	assert.False(t, job.AttemptsRemaining())
}
