// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import (
	"database/sql"
	"log"
)

// Recorder handles recording metered executions to the database
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a new usage recorder with a database connection
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// ExecutionEvent represents one billable model execution to be recorded.
// ExecutionID must be unique per execution; the insert is keyed on it so the
// billing boundary stays idempotent per call.
type ExecutionEvent struct {
	ExecutionID  string
	UserID       string
	DeploymentID string
	Tier         string
	ModelID      string
	InputTokens  int
	OutputTokens int
	Overage      bool // execution landed beyond the tier's monthly cap
}

// IncrementUsageAndReportOverage records a metered execution with its billing
// units and overage flag. Inserting twice with the same execution id is a
// no-op, so retries never double-bill. Errors are logged and returned but
// callers record asynchronously and must not block on them.
func (r *Recorder) IncrementUsageAndReportOverage(event ExecutionEvent) error {
	units := CalculateUnitsFromTokens(event.ModelID, event.InputTokens, event.OutputTokens)

	_, err := r.db.Exec(`
		INSERT INTO usage_events (
			execution_id, user_id, deployment_id, tier, model_id,
			input_tokens, output_tokens, total_tokens, billing_units, overage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id) DO NOTHING
	`, event.ExecutionID, event.UserID, nullString(event.DeploymentID), event.Tier,
		event.ModelID, event.InputTokens, event.OutputTokens,
		event.InputTokens+event.OutputTokens, units, event.Overage)

	if err != nil {
		log.Printf("[USAGE] Failed to record execution %s: %v", event.ExecutionID, err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
