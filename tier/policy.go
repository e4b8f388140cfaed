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

// Package tier defines the service tier table and the pure lookup functions
// the access gate and execution router evaluate against it.
package tier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier names. Unknown names always resolve to the most restrictive tier.
const (
	Freemium   = "freemium"
	Personal   = "personal"
	Enterprise = "enterprise"
)

// Unlimited marks a quota field with no cap.
const Unlimited = -1

// Config is the immutable limit/permission set for one tier.
type Config struct {
	Name                 string   `yaml:"name" json:"name"`
	PriceCentsPerMonth   int      `yaml:"price_cents_per_month" json:"price_cents_per_month"`
	MonthlyExecutions    int      `yaml:"monthly_executions" json:"monthly_executions"`
	MaxAgents            int      `yaml:"max_agents" json:"max_agents"`
	MaxConcurrentTests   int      `yaml:"max_concurrent_tests" json:"max_concurrent_tests"`
	OverageCentsPerExec  int      `yaml:"overage_cents_per_execution" json:"overage_cents_per_execution"`
	AllowOverage         bool     `yaml:"allow_overage" json:"allow_overage"`
	AllowedProviders     []string `yaml:"allowed_providers" json:"allowed_providers"`
	AllowedModelFamilies []string `yaml:"allowed_model_families" json:"allowed_model_families"`
	CustomDomains        bool     `yaml:"custom_domains" json:"custom_domains"`
	TeamSeats            bool     `yaml:"team_seats" json:"team_seats"`
	AuditExport          bool     `yaml:"audit_export" json:"audit_export"`
}

// LimitDecision is the result of an execution limit check.
type LimitDecision struct {
	Allowed        bool `json:"allowed"`
	Remaining      int  `json:"remaining"`
	OverageAllowed bool `json:"overage_allowed"`
}

// Policy is an immutable tier table injected into the components that need it.
// Construct it once at startup; lookups never mutate it.
type Policy struct {
	configs map[string]Config
}

// Default returns the built-in tier table.
func Default() *Policy {
	return &Policy{configs: map[string]Config{
		Freemium: {
			Name:                 Freemium,
			PriceCentsPerMonth:   0,
			MonthlyExecutions:    50,
			MaxAgents:            1,
			MaxConcurrentTests:   1,
			OverageCentsPerExec:  0,
			AllowOverage:         false,
			AllowedProviders:     []string{"ollama"},
			AllowedModelFamilies: []string{"llama", "mistral"},
		},
		Personal: {
			Name:                 Personal,
			PriceCentsPerMonth:   2900,
			MonthlyExecutions:    100,
			MaxAgents:            5,
			MaxConcurrentTests:   3,
			OverageCentsPerExec:  15,
			AllowOverage:         true,
			AllowedProviders:     []string{"ollama", "bedrock"},
			AllowedModelFamilies: []string{"claude", "llama", "mistral", "titan", "nova"},
			CustomDomains:        true,
		},
		Enterprise: {
			Name:                 Enterprise,
			PriceCentsPerMonth:   49900,
			MonthlyExecutions:    Unlimited,
			MaxAgents:            Unlimited,
			MaxConcurrentTests:   10,
			OverageCentsPerExec:  0,
			AllowOverage:         true,
			AllowedProviders:     []string{"ollama", "bedrock", "openai", "anthropic"},
			AllowedModelFamilies: []string{"*"},
			CustomDomains:        true,
			TeamSeats:            true,
			AuditExport:          true,
		},
	}}
}

// LoadFile returns the default table with per-tier overrides merged in from a
// YAML file. An override replaces the whole Config for that tier name.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier table %s: %w", path, err)
	}

	overrides := map[string]Config{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse tier table %s: %w", path, err)
	}

	p := Default()
	for name, cfg := range overrides {
		name = strings.ToLower(name)
		cfg.Name = name
		p.configs[name] = cfg
	}
	return p, nil
}

// GetConfig resolves a tier name to its configuration. This never fails:
// unknown or empty names resolve to the freemium tier.
func (p *Policy) GetConfig(tierName string) Config {
	if cfg, ok := p.configs[strings.ToLower(tierName)]; ok {
		return cfg
	}
	return p.configs[Freemium]
}

// IsProviderAllowed reports whether a tier may use the given provider.
func (p *Policy) IsProviderAllowed(tierName, provider string) bool {
	provider = strings.ToLower(provider)
	for _, allowed := range p.GetConfig(tierName).AllowedProviders {
		if allowed == "*" || allowed == provider {
			return true
		}
	}
	return false
}

// IsModelFamilyAllowed reports whether a tier may use the given model.
// Matching is by family substring against the allow-list, so
// "anthropic.claude-3-5-sonnet-20241022-v2:0" matches the "claude" family.
// A "*" entry matches every model.
func (p *Policy) IsModelFamilyAllowed(tierName, modelID string) bool {
	modelID = strings.ToLower(modelID)
	for _, family := range p.GetConfig(tierName).AllowedModelFamilies {
		if family == "*" {
			return true
		}
		if family != "" && strings.Contains(modelID, strings.ToLower(family)) {
			return true
		}
	}
	return false
}

// CheckExecutionLimit evaluates a tier's monthly execution cap against the
// caller's current count. Unlimited tiers always allow. Tiers under the cap
// allow with the remaining headroom. Tiers at or over the cap allow only when
// overage billing is enabled for the tier.
func (p *Policy) CheckExecutionLimit(tierName string, currentCount int) LimitDecision {
	cfg := p.GetConfig(tierName)

	if cfg.MonthlyExecutions == Unlimited {
		return LimitDecision{Allowed: true, Remaining: Unlimited, OverageAllowed: true}
	}

	remaining := cfg.MonthlyExecutions - currentCount
	if remaining > 0 {
		return LimitDecision{Allowed: true, Remaining: remaining, OverageAllowed: cfg.AllowOverage}
	}

	if cfg.AllowOverage {
		return LimitDecision{Allowed: true, Remaining: 0, OverageAllowed: true}
	}

	return LimitDecision{Allowed: false, Remaining: 0, OverageAllowed: false}
}
