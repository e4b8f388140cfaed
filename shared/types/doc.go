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
Package types provides shared type definitions used across control plane components.

# Overview

This package contains common types that are shared between the execution
router, the resource provisioner, and other control plane components. It
provides a single source of truth for shared data structures.

# Execution Paths

The control plane routes each deployment attempt onto one of three paths,
configured via PathConfig:

Platform path (Tier 1):
  - Platform-owned AWS account and credentials
  - Tenant-prefixed resource names for isolation
  - Usage counted against the caller's monthly quota before dispatch

Federated path (Tier 2):
  - Caller's own AWS account via a short-lived credential lease
  - No platform credential is ever used for provisioning

Enterprise path (Tier 3):
  - Federated contract plus per-call auditing

# Usage

Determine the execution path and configure provisioning:

	cfg := types.DefaultFederatedConfig()

	if cfg.RequiresCredentialLease {
	    // exchange the caller's identity for a lease first
	}

	if cfg.TenantPrefixedNames {
	    // prefix bucket/repository names with the tenant id
	}

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
