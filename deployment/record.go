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

// Package deployment defines the deployment attempt record, its lifecycle
// state machine, and the in-memory record store used by the control plane.
package deployment

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a deployment attempt.
type Status string

const (
	StatusCreating  Status = "CREATING"
	StatusBuilding  Status = "BUILDING"
	StatusDeploying Status = "DEPLOYING"
	StatusActive    Status = "ACTIVE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusDeleted   Status = "DELETED"
)

// deploymentTransitions is the legal transition table. A status missing from
// a target list cannot be reached from that source; terminal states have no
// targets at all.
var deploymentTransitions = map[Status][]Status{
	StatusCreating:  {StatusBuilding, StatusCancelled},
	StatusBuilding:  {StatusDeploying, StatusFailed, StatusCancelled},
	StatusDeploying: {StatusActive, StatusFailed, StatusCancelled},
	StatusActive:    {StatusDeleted},
	StatusFailed:    {StatusDeleted},
	StatusCancelled: {},
	StatusDeleted:   {},
}

// IsTerminal reports whether no further transitions are legal from s.
func (s Status) IsTerminal() bool {
	return len(deploymentTransitions[s]) == 0
}

// LogLevel values for deployment log entries.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry is one append-only entry in a record's log. Entries are never
// deleted or mutated after being appended.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
}

// Progress tracks provisioning progress for mid-flight polling. Percentage is
// clamped to 0-100 on write and never decreases while the record is in a
// non-terminal state.
type Progress struct {
	Stage       string `json:"stage"`
	Percentage  int    `json:"percentage"`
	Message     string `json:"message"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
}

// Record is one deployment attempt. Distinct attempts for the same workload
// get distinct records; a record is never reused across attempts.
type Record struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	UserID  string `json:"user_id"`
	Tier    string `json:"tier"`

	// Routing context, set once at submission and never changed.
	Path         string `json:"path,omitempty"`
	WorkloadName string `json:"workload_name,omitempty"`
	Provider     string `json:"provider,omitempty"`
	ModelID      string `json:"model_id,omitempty"`

	Status   Status     `json:"status"`
	Progress Progress   `json:"progress"`
	Logs     []LogEntry `json:"logs"`
	Error    string     `json:"error,omitempty"`
	IsActive bool       `json:"is_active"`

	// Resource references, populated incrementally as provisioning proceeds.
	ECRRepositoryURI     string `json:"ecr_repository_uri,omitempty"`
	S3BucketName         string `json:"s3_bucket_name,omitempty"`
	DeploymentPackageKey string `json:"deployment_package_key,omitempty"`
	AWSAccountID         string `json:"aws_account_id,omitempty"`
	AWSCallerARN         string `json:"aws_caller_arn,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   time.Time  `json:"started_at"`
	DeployedAt  *time.Time `json:"deployed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// NewRecord creates a deployment record in the CREATING state.
func NewRecord(id, agentID, userID, tierName string) *Record {
	now := time.Now().UTC()
	r := &Record{
		ID:        id,
		AgentID:   agentID,
		UserID:    userID,
		Tier:      tierName,
		Status:    StatusCreating,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		StartedAt: now,
	}
	r.appendLog(LogLevelInfo, "deployment attempt created", "controlplane")
	return r
}

// Duration returns elapsed time from start to completion, or to now for
// records still in flight.
func (r *Record) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	if r.DeployedAt != nil {
		return r.DeployedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// InvalidTransitionError reports an illegal state machine transition. The
// record's status is unchanged when this error is returned.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("invalid transition %s -> %s: allowed next states are %s",
		e.From, e.To, strings.Join(allowed, ", "))
}

// IsInvalidTransition checks if an error is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	_, ok := err.(*InvalidTransitionError)
	return ok
}

// Transition moves the record to the next status if the transition table
// allows it. Every applied transition appends exactly one log entry and
// stamps UpdatedAt. Reaching ACTIVE stamps DeployedAt; reaching FAILED,
// CANCELLED, or DELETED stamps CompletedAt and clears IsActive.
//
// Callers must hold the store's lock (use Store.Update).
func (r *Record) Transition(next Status) error {
	allowed := deploymentTransitions[r.Status]
	legal := false
	for _, s := range allowed {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		return &InvalidTransitionError{From: r.Status, To: next, Allowed: allowed}
	}

	prev := r.Status
	now := time.Now().UTC()
	r.Status = next
	r.UpdatedAt = now

	switch next {
	case StatusActive:
		r.DeployedAt = &now
	case StatusFailed, StatusCancelled:
		r.CompletedAt = &now
		r.IsActive = false
	case StatusDeleted:
		r.CompletedAt = &now
		r.DeletedAt = &now
		r.IsActive = false
	}

	r.appendLog(LogLevelInfo, fmt.Sprintf("status changed: %s -> %s", prev, next), "statemachine")
	return nil
}

// Cancel applies the user-initiated cancellation if the record is still
// cancellable. Cancellation is cooperative: it marks intent and blocks
// further transitions but never aborts in-flight cloud calls.
func (r *Record) Cancel() error {
	return r.Transition(StatusCancelled)
}

// Fail transitions the record to FAILED and records the error text.
func (r *Record) Fail(cause error) error {
	if err := r.Transition(StatusFailed); err != nil {
		return err
	}
	if cause != nil {
		r.Error = cause.Error()
		r.appendLog(LogLevelError, cause.Error(), "provisioner")
	}
	return nil
}

// SetProgress updates the progress snapshot. Percentage is clamped to 0-100;
// while the record is non-terminal a lower percentage than the current one is
// floored to the current value so pollers always observe monotonic progress.
func (r *Record) SetProgress(stage string, percentage int, message string, step, total int) {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	if !r.Status.IsTerminal() && percentage < r.Progress.Percentage {
		percentage = r.Progress.Percentage
	}

	r.Progress = Progress{
		Stage:       stage,
		Percentage:  percentage,
		Message:     message,
		CurrentStep: step,
		TotalSteps:  total,
	}
	r.UpdatedAt = time.Now().UTC()
}

// AppendLog appends one entry to the record's log. The log is append-only.
func (r *Record) AppendLog(level, message, source string) {
	r.appendLog(level, message, source)
	r.UpdatedAt = time.Now().UTC()
}

func (r *Record) appendLog(level, message, source string) {
	r.Logs = append(r.Logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Source:    source,
	})
}
