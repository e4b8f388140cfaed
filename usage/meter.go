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

package usage

import (
	"math"
	"sync"
	"time"
)

const (
	// charsPerToken is the estimation ratio when a provider omits usage data.
	charsPerToken = 4

	// markupMultiplier is applied on top of raw provider cost.
	markupMultiplier = 1.3

	// unitPriceUSD is the price of one billing unit.
	unitPriceUSD = 0.01
)

// EstimateTokenUsage approximates token counts from raw text when extraction
// yields nothing. Four characters per token, rounded up, with a floor of one
// token per side so every billable call is metered.
func EstimateTokenUsage(inputText, outputText string) TokenUsage {
	in := (len(inputText) + charsPerToken - 1) / charsPerToken
	if in < 1 {
		in = 1
	}
	out := (len(outputText) + charsPerToken - 1) / charsPerToken
	if out < 1 {
		out = 1
	}
	return TokenUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// CalculateUnitsFromTokens converts token counts into billing units.
// Cost is computed from per-million-token pricing (unknown models fall back
// to default pricing), marked up, divided by the unit price, and rounded up
// with a floor of one unit. Monotonic in both token counts.
func CalculateUnitsFromTokens(modelID string, inputTokens, outputTokens int) int {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	pricing := PricingForModel(modelID)
	awsCost := float64(inputTokens)*pricing.InputPerMillion/1e6 +
		float64(outputTokens)*pricing.OutputPerMillion/1e6

	units := int(math.Ceil(awsCost * markupMultiplier / unitPriceUSD))
	if units < 1 {
		units = 1
	}
	return units
}

// Counter tracks per-user monthly execution and token totals. Counters are
// keyed by (user, billing period) so a new period starts at zero without an
// explicit reset; the reset policy itself lives outside the control plane.
type Counter struct {
	mu     sync.Mutex
	counts map[string]*userCounts
	// now is swappable for tests
	now func() time.Time
}

type userCounts struct {
	Executions   int
	InputTokens  int
	OutputTokens int
}

// NewCounter creates an empty usage counter.
func NewCounter() *Counter {
	return &Counter{
		counts: make(map[string]*userCounts),
		now:    time.Now,
	}
}

func (c *Counter) key(userID string) string {
	return userID + "@" + c.now().UTC().Format("2006-01")
}

func (c *Counter) get(userID string) *userCounts {
	k := c.key(userID)
	uc, ok := c.counts[k]
	if !ok {
		uc = &userCounts{}
		c.counts[k] = uc
	}
	return uc
}

// IncrementExecutions bumps the user's monthly execution count and returns
// the new value.
func (c *Counter) IncrementExecutions(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.get(userID)
	uc.Executions++
	return uc.Executions
}

// ExecutionsThisMonth returns the user's execution count for the current
// billing period.
func (c *Counter) ExecutionsThisMonth(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(userID).Executions
}

// AddTokens accumulates token totals for the current billing period.
func (c *Counter) AddTokens(userID string, usage TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.get(userID)
	uc.InputTokens += usage.InputTokens
	uc.OutputTokens += usage.OutputTokens
}

// TokensThisMonth returns the accumulated token totals for the current
// billing period.
func (c *Counter) TokensThisMonth(userID string) (input, output int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.get(userID)
	return uc.InputTokens, uc.OutputTokens
}
