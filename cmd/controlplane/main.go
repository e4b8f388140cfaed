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

// Package main is the entry point for the AxonFlow Deployment Control Plane.
//
// The Control Plane is the tiered deployment service that:
// - Enforces service tier limits and model/provider allow-lists
// - Tracks every deployment attempt through a lifecycle state machine
// - Stages S3/ECR resources on the platform or customer account path
// - Brokers short-lived credentials for customer-account deployments
// - Meters every execution into billing units
//
// Usage:
//
//	./controlplane
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	AWS_REGION - region for platform clients (default: us-east-1)
//	DATABASE_URL - PostgreSQL connection string for usage events (optional)
//	REDIS_URL - Redis connection string for rate limiting (optional)
//	TIER_TABLE_PATH - YAML overrides for the tier table (optional)
//	PLATFORM_SECRET_ARN - Secrets Manager secret with platform settings (optional)
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"axonflow/controlplane/controlplane"
)

func main() {
	controlplane.Run()
}
