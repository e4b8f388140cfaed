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

import "strings"

// Model pricing as of October 2025. Prices are USD per one million tokens,
// matching how AWS publishes Bedrock on-demand pricing.

// ModelPricing contains per-million-token pricing for a model family
type ModelPricing struct {
	InputPerMillion  float64 // USD per 1M input tokens
	OutputPerMillion float64 // USD per 1M output tokens
}

// defaultPricing is applied when a model id matches no known family.
var defaultPricing = ModelPricing{InputPerMillion: 1.00, OutputPerMillion: 3.00}

// modelPricing maps a model family substring to its pricing. Longest/most
// specific entries are listed first; lookup scans in declared order.
var modelPricing = []struct {
	family  string
	pricing ModelPricing
}{
	{"claude-3-5-haiku", ModelPricing{0.80, 4.00}},
	{"claude-3-haiku", ModelPricing{0.25, 1.25}},
	{"claude", ModelPricing{3.00, 15.00}},
	{"llama3-70b", ModelPricing{2.65, 3.50}},
	{"llama", ModelPricing{0.72, 0.72}},
	{"mistral-large", ModelPricing{4.00, 12.00}},
	{"mistral", ModelPricing{0.45, 0.70}},
	{"titan-text-express", ModelPricing{0.20, 0.60}},
	{"titan", ModelPricing{0.15, 0.20}},
	{"nova-pro", ModelPricing{0.80, 3.20}},
	{"nova", ModelPricing{0.06, 0.24}},
	{"command-r-plus", ModelPricing{3.00, 15.00}},
	{"command", ModelPricing{0.50, 1.50}},
	{"gpt-4o", ModelPricing{2.50, 10.00}},
	{"gpt-4", ModelPricing{30.00, 60.00}},
}

// PricingForModel resolves a model id to its per-million-token pricing.
// Unknown models fall back to the default pricing so every invocation is
// billable.
func PricingForModel(modelID string) ModelPricing {
	id := strings.ToLower(modelID)
	for _, entry := range modelPricing {
		if strings.Contains(id, entry.family) {
			return entry.pricing
		}
	}
	return defaultPricing
}
