// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deployment

import (
	"fmt"
	"time"
)

// TestRunStatus is the lifecycle state of a sandbox test execution. Test runs
// share the deployment record contract (validated transitions, append-only
// logs, one log entry per status change) but have their own graph.
type TestRunStatus string

const (
	TestRunCreated   TestRunStatus = "CREATED"
	TestRunQueued    TestRunStatus = "QUEUED"
	TestRunBuilding  TestRunStatus = "BUILDING"
	TestRunRunning   TestRunStatus = "RUNNING"
	TestRunCompleted TestRunStatus = "COMPLETED"
	TestRunFailed    TestRunStatus = "FAILED"
	TestRunAbandoned TestRunStatus = "ABANDONED"
	TestRunArchived  TestRunStatus = "ARCHIVED"
)

// maxTestRunRetries bounds how often an abandoned run may re-enter the queue.
const maxTestRunRetries = 3

var testRunTransitions = map[TestRunStatus][]TestRunStatus{
	TestRunCreated:   {TestRunQueued},
	TestRunQueued:    {TestRunBuilding, TestRunAbandoned},
	TestRunBuilding:  {TestRunRunning, TestRunFailed},
	TestRunRunning:   {TestRunCompleted, TestRunFailed},
	TestRunCompleted: {TestRunArchived},
	TestRunFailed:    {TestRunArchived},
	TestRunAbandoned: {TestRunQueued, TestRunArchived},
	TestRunArchived:  {},
}

// IsTerminal reports whether no further transitions are legal from s.
func (s TestRunStatus) IsTerminal() bool {
	return len(testRunTransitions[s]) == 0
}

// TestRun is one sandbox test execution of a workload.
type TestRun struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	UserID     string        `json:"user_id"`
	Status     TestRunStatus `json:"status"`
	Logs       []LogEntry    `json:"logs"`
	RetryCount int           `json:"retry_count"`
	IsActive   bool          `json:"is_active"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewTestRun creates a test run in the CREATED state.
func NewTestRun(id, agentID, userID string) *TestRun {
	now := time.Now().UTC()
	t := &TestRun{
		ID:        id,
		AgentID:   agentID,
		UserID:    userID,
		Status:    TestRunCreated,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.Logs = append(t.Logs, LogEntry{
		Timestamp: now, Level: LogLevelInfo, Message: "test run created", Source: "controlplane",
	})
	return t
}

// InvalidTestRunTransitionError reports an illegal test run transition.
type InvalidTestRunTransitionError struct {
	From    TestRunStatus
	To      TestRunStatus
	Allowed []TestRunStatus
	Reason  string
}

// Error implements the error interface.
func (e *InvalidTestRunTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	allowed := ""
	for i, s := range e.Allowed {
		if i > 0 {
			allowed += ", "
		}
		allowed += string(s)
	}
	return fmt.Sprintf("invalid transition %s -> %s: allowed next states are %s", e.From, e.To, allowed)
}

// Transition moves the test run to the next status if the table allows it.
// Re-queueing an abandoned run is bounded: after maxTestRunRetries the only
// legal exit from ABANDONED is ARCHIVED. Every applied transition appends one
// log entry and stamps UpdatedAt; COMPLETED, FAILED, and ARCHIVED stamp
// FinishedAt and clear IsActive.
func (t *TestRun) Transition(next TestRunStatus) error {
	allowed := testRunTransitions[t.Status]
	legal := false
	for _, s := range allowed {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		return &InvalidTestRunTransitionError{From: t.Status, To: next, Allowed: allowed}
	}

	if t.Status == TestRunAbandoned && next == TestRunQueued {
		if t.RetryCount >= maxTestRunRetries {
			return &InvalidTestRunTransitionError{
				From: t.Status, To: next,
				Reason: fmt.Sprintf("retry limit of %d reached", maxTestRunRetries),
			}
		}
		t.RetryCount++
	}

	prev := t.Status
	now := time.Now().UTC()
	t.Status = next
	t.UpdatedAt = now

	switch next {
	case TestRunCompleted, TestRunFailed, TestRunArchived:
		if t.FinishedAt == nil {
			t.FinishedAt = &now
		}
		t.IsActive = false
	case TestRunQueued:
		// Re-entering the queue reactivates an abandoned run.
		t.IsActive = true
	}

	t.Logs = append(t.Logs, LogEntry{
		Timestamp: now,
		Level:     LogLevelInfo,
		Message:   fmt.Sprintf("status changed: %s -> %s", prev, next),
		Source:    "statemachine",
	})
	return nil
}
