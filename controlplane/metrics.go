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

package controlplane

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_controlplane_deployments_total",
			Help: "Total number of deployment attempts by execution path and final status",
		},
		[]string{"path", "status"},
	)
	promGateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_controlplane_gate_denials_total",
			Help: "Total number of access gate denials by code",
		},
		[]string{"code"},
	)
	promStagingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "axonflow_controlplane_staging_duration_milliseconds",
			Help:    "Resource staging duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	promBillingUnits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_controlplane_billing_units_total",
			Help: "Total billing units charged across all executions",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promDeploymentsTotal)
	prometheus.MustRegister(promGateDenials)
	prometheus.MustRegister(promStagingDuration)
	prometheus.MustRegister(promBillingUnits)
}
