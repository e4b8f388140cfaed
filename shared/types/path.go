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

// Package types provides shared type definitions used across control plane components.
// This file defines the execution path a deployment attempt is routed onto.
package types

// ExecutionPath represents the infrastructure path a deployment runs under
type ExecutionPath string

const (
	// PathPlatform runs the workload on platform-owned infrastructure (Tier 1)
	PathPlatform ExecutionPath = "platform"
	// PathFederated runs the workload in the caller's own cloud account via
	// short-lived federated credentials (Tier 2)
	PathFederated ExecutionPath = "federated"
	// PathEnterprise runs the workload on the audited enterprise path (Tier 3)
	PathEnterprise ExecutionPath = "enterprise"
)

// String returns the string representation of the ExecutionPath
func (p ExecutionPath) String() string {
	return string(p)
}

// IsValid returns true if the ExecutionPath is a valid known value
func (p ExecutionPath) IsValid() bool {
	switch p {
	case PathPlatform, PathFederated, PathEnterprise:
		return true
	default:
		return false
	}
}

// PathConfig contains path-specific settings that control how resources are
// provisioned and how the run is attributed for billing.
//
// The platform path stages resources under platform credentials with
// tenant-prefixed names. The federated path stages everything under a
// caller-scoped credential lease and never touches platform credentials.
type PathConfig struct {
	// Path is the execution path (platform, federated, or enterprise)
	Path ExecutionPath `json:"path"`

	// TenantPrefixedNames prefixes bucket/repository names with the tenant id
	// to isolate workloads sharing the platform account
	TenantPrefixedNames bool `json:"tenant_prefixed_names"`

	// RequiresCredentialLease requires a federated credential exchange before
	// any provisioning call is made
	RequiresCredentialLease bool `json:"requires_credential_lease"`

	// AuditEveryCall records every cloud boundary call in the deployment log
	// (enterprise path only)
	AuditEveryCall bool `json:"audit_every_call"`
}

// DefaultPlatformConfig returns the default configuration for the Tier 1
// platform path. Resources are tenant-prefixed inside the platform account.
func DefaultPlatformConfig() PathConfig {
	return PathConfig{
		Path:                    PathPlatform,
		TenantPrefixedNames:     true,
		RequiresCredentialLease: false,
		AuditEveryCall:          false,
	}
}

// DefaultFederatedConfig returns the default configuration for the Tier 2
// federated path. Everything runs under the caller's credential lease.
func DefaultFederatedConfig() PathConfig {
	return PathConfig{
		Path:                    PathFederated,
		TenantPrefixedNames:     false,
		RequiresCredentialLease: true,
		AuditEveryCall:          false,
	}
}

// DefaultEnterpriseConfig returns the default configuration for the Tier 3
// enterprise path. Shares the federated contract plus full call auditing.
func DefaultEnterpriseConfig() PathConfig {
	return PathConfig{
		Path:                    PathEnterprise,
		TenantPrefixedNames:     false,
		RequiresCredentialLease: true,
		AuditEveryCall:          true,
	}
}

// IsPlatform returns true if this is the platform-owned path
func (c PathConfig) IsPlatform() bool {
	return c.Path == PathPlatform
}

// IsFederated returns true if this is the caller-account federated path
func (c PathConfig) IsFederated() bool {
	return c.Path == PathFederated
}
