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

/*
Package usage provides token metering and billing-unit conversion for the
deployment control plane.

# Overview

Every successful model invocation must be billed for at least one unit, even
when the provider omits usage data. The package guarantees this through a
three-step pipeline:

 1. ExtractTokenUsage normalizes heterogeneous provider response bodies
    (Anthropic, Titan, Meta, Cohere, OpenAI, Converse) into TokenUsage.
 2. EstimateTokenUsage approximates counts from raw text when extraction
    yields zero (4 characters per token, floor of 1 per side).
 3. CalculateUnitsFromTokens converts tokens into billing units from
    per-million-token pricing with markup, rounded up, floor of 1.

# Counters

Counter tracks per-user monthly execution and token totals in memory, keyed
by billing period so a period rollover implicitly starts fresh. The execution
router increments the counter before dispatching work, so quota is consumed
even when the downstream run fails.

# Recording

Recorder persists metered executions to PostgreSQL:

	recorder := usage.NewRecorder(db)
	err := recorder.IncrementUsageAndReportOverage(usage.ExecutionEvent{
	    ExecutionID:  "exec-123",
	    UserID:       "user-456",
	    Tier:         "personal",
	    ModelID:      "anthropic.claude-3-5-sonnet-20241022-v2:0",
	    InputTokens:  150,
	    OutputTokens: 200,
	})

The insert is keyed on the execution id, so recording is idempotent per call
and never double-bills an execution.

# Thread Safety

Counter and Recorder are safe for concurrent use. Record usage asynchronously
to avoid blocking deployment processing:

	go func() {
	    if err := recorder.IncrementUsageAndReportOverage(event); err != nil {
	        log.Printf("Failed to record usage: %v", err)
	    }
	}()
*/
package usage
