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
	"encoding/json"
	"strings"
)

// TokenUsage is the normalized token accounting for one model invocation.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// IsZero reports whether no usage was extracted.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// schemaParser is a pure function from a raw provider response body to
// normalized token usage. Parsers return the zero value when the body does
// not carry their schema.
type schemaParser func(body []byte) TokenUsage

// parserTable maps a provider tag to its response schema parser. Adding a
// provider means adding a table entry, not a new branch.
var parserTable = map[string]schemaParser{
	"anthropic": parseAnthropicUsage,
	"titan":     parseTitanUsage,
	"meta":      parseMetaUsage,
	"cohere":    parseCohereUsage,
	"openai":    parseOpenAIUsage,
	"converse":  parseConverseUsage,
}

// parserOrder is the fallback probe order when the model id maps to no tag.
var parserOrder = []string{"anthropic", "titan", "meta", "cohere", "openai", "converse"}

// providerTagForModel maps a model id to the schema its responses carry.
func providerTagForModel(modelID string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude") || strings.Contains(id, "anthropic"):
		return "anthropic"
	case strings.Contains(id, "titan"):
		return "titan"
	case strings.Contains(id, "llama") || strings.Contains(id, "meta."):
		return "meta"
	case strings.Contains(id, "cohere") || strings.Contains(id, "command"):
		return "cohere"
	case strings.Contains(id, "gpt"):
		return "openai"
	case strings.Contains(id, "nova"):
		return "converse"
	default:
		return ""
	}
}

// ExtractTokenUsage normalizes a provider response body into token counts.
// The model id selects the schema; when the id maps to no known schema, each
// parser is probed in order. If nothing matches, the zero value is returned
// rather than a guess - the caller falls back to estimation.
func ExtractTokenUsage(body []byte, modelID string) TokenUsage {
	if len(body) == 0 {
		return TokenUsage{}
	}

	if tag := providerTagForModel(modelID); tag != "" {
		if u := parserTable[tag](body); !u.IsZero() {
			return u.normalized()
		}
	}

	for _, tag := range parserOrder {
		if u := parserTable[tag](body); !u.IsZero() {
			return u.normalized()
		}
	}

	return TokenUsage{}
}

// normalized fills in TotalTokens when the provider omits it.
func (u TokenUsage) normalized() TokenUsage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// parseAnthropicUsage handles Anthropic Claude responses:
// {"usage": {"input_tokens": N, "output_tokens": N}}
func parseAnthropicUsage(body []byte) TokenUsage {
	var resp struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenUsage{}
	}
	return TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
}

// parseTitanUsage handles Amazon Titan responses:
// {"inputTextTokenCount": N, "results": [{"tokenCount": N}]}
func parseTitanUsage(body []byte) TokenUsage {
	var resp struct {
		InputTextTokenCount int `json:"inputTextTokenCount"`
		Results             []struct {
			TokenCount int `json:"tokenCount"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenUsage{}
	}
	outputTokens := 0
	if len(resp.Results) > 0 {
		outputTokens = resp.Results[0].TokenCount
	}
	return TokenUsage{InputTokens: resp.InputTextTokenCount, OutputTokens: outputTokens}
}

// parseMetaUsage handles Meta Llama responses:
// {"prompt_token_count": N, "generation_token_count": N}
func parseMetaUsage(body []byte) TokenUsage {
	var resp struct {
		PromptTokenCount     int `json:"prompt_token_count"`
		GenerationTokenCount int `json:"generation_token_count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenUsage{}
	}
	return TokenUsage{InputTokens: resp.PromptTokenCount, OutputTokens: resp.GenerationTokenCount}
}

// parseCohereUsage handles Cohere responses:
// {"meta": {"billed_units": {"input_tokens": N, "output_tokens": N}}}
func parseCohereUsage(body []byte) TokenUsage {
	var resp struct {
		Meta struct {
			BilledUnits struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"billed_units"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenUsage{}
	}
	return TokenUsage{
		InputTokens:  resp.Meta.BilledUnits.InputTokens,
		OutputTokens: resp.Meta.BilledUnits.OutputTokens,
	}
}

// parseOpenAIUsage handles OpenAI chat completion responses:
// {"usage": {"prompt_tokens": N, "completion_tokens": N, "total_tokens": N}}
func parseOpenAIUsage(body []byte) TokenUsage {
	var resp struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenUsage{}
	}
	return TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
}

// parseConverseUsage handles Bedrock Converse API responses (Nova and other
// converse-only models):
// {"usage": {"inputTokens": N, "outputTokens": N, "totalTokens": N}}
func parseConverseUsage(body []byte) TokenUsage {
	var resp struct {
		Usage struct {
			InputTokens  int `json:"inputTokens"`
			OutputTokens int `json:"outputTokens"`
			TotalTokens  int `json:"totalTokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenUsage{}
	}
	return TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
}
