// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package deployment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusCreating, StatusBuilding, StatusDeploying, StatusActive,
	StatusFailed, StatusCancelled, StatusDeleted,
}

func recordInState(t *testing.T, target Status) *Record {
	t.Helper()
	r := NewRecord("dep-1", "agent-1", "user-1", "personal")

	paths := map[Status][]Status{
		StatusCreating:  {},
		StatusBuilding:  {StatusBuilding},
		StatusDeploying: {StatusBuilding, StatusDeploying},
		StatusActive:    {StatusBuilding, StatusDeploying, StatusActive},
		StatusFailed:    {StatusBuilding, StatusFailed},
		StatusCancelled: {StatusCancelled},
		StatusDeleted:   {StatusBuilding, StatusFailed, StatusDeleted},
	}
	for _, next := range paths[target] {
		require.NoError(t, r.Transition(next))
	}
	require.Equal(t, target, r.Status)
	return r
}

func TestTransition_LegalPath(t *testing.T) {
	r := NewRecord("dep-1", "agent-1", "user-1", "personal")

	require.NoError(t, r.Transition(StatusBuilding))
	require.NoError(t, r.Transition(StatusDeploying))
	require.NoError(t, r.Transition(StatusActive))

	assert.Equal(t, StatusActive, r.Status)
	assert.NotNil(t, r.DeployedAt, "reaching ACTIVE must stamp DeployedAt")
	assert.True(t, r.IsActive)

	require.NoError(t, r.Transition(StatusDeleted))
	assert.NotNil(t, r.CompletedAt, "reaching DELETED must stamp CompletedAt")
	assert.NotNil(t, r.DeletedAt)
	assert.False(t, r.IsActive)
}

// TestTransition_IllegalPairsLeaveStatusUnchanged exhaustively checks every
// (current, next) pair not in the transition table.
func TestTransition_IllegalPairsLeaveStatusUnchanged(t *testing.T) {
	legal := map[Status]map[Status]bool{}
	for from, tos := range deploymentTransitions {
		legal[from] = map[Status]bool{}
		for _, to := range tos {
			legal[from][to] = true
		}
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if legal[from][to] {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				r := recordInState(t, from)
				logsBefore := len(r.Logs)

				err := r.Transition(to)
				require.Error(t, err)
				assert.True(t, IsInvalidTransition(err))
				assert.Equal(t, from, r.Status, "status must be unchanged after illegal transition")
				assert.Len(t, r.Logs, logsBefore, "illegal transition must not append a log entry")
			})
		}
	}
}

func TestTransition_ErrorNamesAllowedStates(t *testing.T) {
	r := NewRecord("dep-1", "agent-1", "user-1", "personal")
	err := r.Transition(StatusActive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUILDING")
	assert.Contains(t, err.Error(), "CANCELLED")

	r2 := recordInState(t, StatusDeleted)
	err = r2.Transition(StatusBuilding)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestTransition_AppendsExactlyOneLogEntry(t *testing.T) {
	r := NewRecord("dep-1", "agent-1", "user-1", "personal")
	before := len(r.Logs)
	require.NoError(t, r.Transition(StatusBuilding))
	assert.Len(t, r.Logs, before+1)
}

func TestCancel(t *testing.T) {
	cancellable := []Status{StatusCreating, StatusBuilding, StatusDeploying}
	for _, from := range cancellable {
		r := recordInState(t, from)
		require.NoError(t, r.Cancel(), "should cancel from %s", from)
		assert.Equal(t, StatusCancelled, r.Status)
		assert.NotNil(t, r.CompletedAt)
		assert.False(t, r.IsActive)
	}

	notCancellable := []Status{StatusActive, StatusFailed, StatusCancelled, StatusDeleted}
	for _, from := range notCancellable {
		r := recordInState(t, from)
		err := r.Cancel()
		require.Error(t, err, "should not cancel from %s", from)
		assert.Equal(t, from, r.Status)
	}
}

func TestFail_RecordsErrorText(t *testing.T) {
	r := recordInState(t, StatusBuilding)
	require.NoError(t, r.Fail(errors.New("repository creation refused")))

	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "repository creation refused", r.Error)
	assert.False(t, r.IsActive)

	last := r.Logs[len(r.Logs)-1]
	assert.Equal(t, LogLevelError, last.Level)
}

func TestSetProgress_ClampsAndStaysMonotonic(t *testing.T) {
	r := NewRecord("dep-1", "agent-1", "user-1", "personal")

	r.SetProgress("bucket", 150, "over", 1, 5)
	assert.Equal(t, 100, r.Progress.Percentage, "percentage must clamp to 100")

	r2 := NewRecord("dep-2", "agent-1", "user-1", "personal")
	r2.SetProgress("bucket", -5, "under", 1, 5)
	assert.Equal(t, 0, r2.Progress.Percentage, "percentage must clamp to 0")

	observed := []int{}
	for _, pct := range []int{10, 30, 45, 20, 65, 80, 100} {
		r2.SetProgress("step", pct, "", 1, 5)
		observed = append(observed, r2.Progress.Percentage)
	}
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1],
			"progress must be non-decreasing, observed %v", observed)
	}
}

func TestAppendLog_AppendOnly(t *testing.T) {
	r := NewRecord("dep-1", "agent-1", "user-1", "personal")
	n := len(r.Logs)

	r.AppendLog(LogLevelInfo, "first", "test")
	r.AppendLog(LogLevelWarn, "second", "test")

	assert.Len(t, r.Logs, n+2)
	assert.Equal(t, "first", r.Logs[n].Message)
	assert.Equal(t, "second", r.Logs[n+1].Message)
}

func TestDuration(t *testing.T) {
	r := recordInState(t, StatusFailed)
	require.NotNil(t, r.CompletedAt)
	assert.True(t, r.Duration() >= 0)
}
