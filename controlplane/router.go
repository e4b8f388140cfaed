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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"axonflow/controlplane/broker"
	"axonflow/controlplane/deployment"
	"axonflow/controlplane/gate"
	"axonflow/controlplane/provision"
	"axonflow/controlplane/shared/logger"
	"axonflow/controlplane/shared/types"
	"axonflow/controlplane/tier"
	"axonflow/controlplane/usage"
)

// rateLimitPerTest converts a tier's concurrent test allowance into the
// number of submissions allowed per minute.
const rateLimitPerTest = 10

// SubmitRequest is one deployment submission.
type SubmitRequest struct {
	UserID       string `json:"user_id"`
	AgentID      string `json:"agent_id"`
	WorkloadName string `json:"workload_name"`
	Provider     string `json:"provider"`
	ModelID      string `json:"model_id"`
	Region       string `json:"region,omitempty"`
	Bundle       []byte `json:"bundle"`
	InputText    string `json:"input_text,omitempty"`

	// ModelResponse is the raw provider payload from the validation run, when
	// one happened. Token counts are extracted from it; without it (or when
	// the schema is unknown) billing falls back to text-length estimation.
	ModelResponse []byte `json:"model_response,omitempty"`

	// Federated credentials on file select the customer-account path.
	IdentityToken string `json:"identity_token,omitempty"`
	RoleARN       string `json:"role_arn,omitempty"`
}

// SubmitAck is returned immediately; the work continues in the background.
type SubmitAck struct {
	DeploymentID string              `json:"deployment_id"`
	Status       deployment.Status   `json:"status"`
	Path         types.ExecutionPath `json:"path"`
	Remaining    int                 `json:"remaining_executions"`
	Message      string              `json:"message"`
}

// LeaseProvisionerFunc builds a provisioner whose cloud clients authenticate
// with the given lease.
type LeaseProvisionerFunc func(ctx context.Context, lease *broker.Lease) (*provision.Provisioner, error)

// CredentialBroker exchanges a federated identity for a credential lease.
// *broker.Broker satisfies it.
type CredentialBroker interface {
	Exchange(ctx context.Context, identityToken, roleARN, sessionName string) (*broker.Lease, error)
}

// Router is the execution router: it admits a submission, creates its record,
// picks the execution path, and dispatches the staging work.
type Router struct {
	policy   *tier.Policy
	gate     *gate.Gate
	subs     gate.SubscriptionStore
	counter  *usage.Counter
	recorder *usage.Recorder
	store    *deployment.Store
	limiter  *RateLimiter
	queue    *Queue
	broker   CredentialBroker
	log      *logger.Logger

	platformProv *provision.Provisioner
	leaseProv    LeaseProvisionerFunc

	mu      sync.Mutex
	handles map[string]*Handle // deployment id -> task handle
}

// RouterDeps carries the router's collaborators. recorder, broker, and the
// provisioner fields may be nil; the corresponding behavior degrades (no
// billing persistence, no federated path, audited no-op staging).
type RouterDeps struct {
	Policy       *tier.Policy
	Gate         *gate.Gate
	Subs         gate.SubscriptionStore
	Counter      *usage.Counter
	Recorder     *usage.Recorder
	Store        *deployment.Store
	Limiter      *RateLimiter
	Queue        *Queue
	Broker       CredentialBroker
	PlatformProv *provision.Provisioner
	LeaseProv    LeaseProvisionerFunc
}

// NewRouter wires an execution router.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		policy:       deps.Policy,
		gate:         deps.Gate,
		subs:         deps.Subs,
		counter:      deps.Counter,
		recorder:     deps.Recorder,
		store:        deps.Store,
		limiter:      deps.Limiter,
		queue:        deps.Queue,
		broker:       deps.Broker,
		platformProv: deps.PlatformProv,
		leaseProv:    deps.LeaseProv,
		log:          logger.New("execution-router"),
		handles:      make(map[string]*Handle),
	}
}

// Submit admits one deployment request. Checks run in a fixed order: rate
// limit, access gate, record creation, path selection, usage increment,
// dispatch. Denied requests never create a record. The ack returns before
// any cloud call is made.
func (rt *Router) Submit(ctx context.Context, req SubmitRequest) (*SubmitAck, error) {
	limit := rt.policy.GetConfig(rt.resolveTier(req.UserID)).MaxConcurrentTests * rateLimitPerTest
	if err := rt.limiter.Allow(ctx, req.UserID, limit); err != nil {
		return nil, err
	}

	grant, err := rt.gate.Check(gate.Request{
		UserID:   req.UserID,
		Provider: req.Provider,
		ModelID:  req.ModelID,
	})
	if err != nil {
		if d, ok := gate.AsDenial(err); ok {
			promGateDenials.WithLabelValues(d.Code).Inc()
		}
		return nil, err
	}

	path := rt.selectPath(grant.Tier, req)

	rec := deployment.NewRecord(uuid.New().String(), req.AgentID, grant.UserID, grant.Tier)
	rec.Path = string(path)
	rec.WorkloadName = req.WorkloadName
	rec.Provider = req.Provider
	rec.ModelID = req.ModelID
	if err := rt.store.Create(rec); err != nil {
		return nil, fmt.Errorf("failed to create deployment record: %w", err)
	}

	rt.counter.IncrementExecutions(grant.UserID)

	handle, err := rt.queue.Submit(func(taskCtx context.Context) error {
		return rt.execute(taskCtx, rec.ID, req, grant, path)
	})
	if err != nil {
		// Could not dispatch; the record reflects the dead attempt.
		_ = rt.store.Update(rec.ID, func(r *deployment.Record) error {
			return r.Fail(err)
		})
		return nil, err
	}

	rt.mu.Lock()
	rt.handles[rec.ID] = handle
	rt.mu.Unlock()

	message := "deployment queued"
	if path == types.PathFederated {
		message = "deployment queued: resources will be staged in your AWS account"
	}
	// The grant counted headroom before this admission; report what is left
	// after it.
	remaining := grant.Remaining
	if remaining > 0 {
		remaining--
	}
	return &SubmitAck{
		DeploymentID: rec.ID,
		Status:       deployment.StatusCreating,
		Path:         path,
		Remaining:    remaining,
		Message:      message,
	}, nil
}

// Cancel marks the deployment's task for cancellation and applies the record
// transition. In-flight cloud calls are never aborted; the worker observes
// the cancellation at its next step boundary.
func (rt *Router) Cancel(deploymentID string) error {
	if err := rt.store.Update(deploymentID, func(r *deployment.Record) error {
		return r.Cancel()
	}); err != nil {
		return err
	}

	rt.mu.Lock()
	handle := rt.handles[deploymentID]
	rt.mu.Unlock()
	if handle != nil {
		handle.Cancel()
	}
	return nil
}

// resolveTier looks up the user's tier for pre-gate decisions. The gate
// re-resolves it authoritatively.
func (rt *Router) resolveTier(userID string) string {
	if userID == "" || rt.subs == nil {
		return tier.Freemium
	}
	if sub, ok := rt.subs.Get(userID); ok {
		return sub.Tier
	}
	return tier.Freemium
}

// selectPath picks the execution path: federated credentials on file win,
// then the enterprise tier's dedicated path, then the shared platform path.
func (rt *Router) selectPath(tierName string, req SubmitRequest) types.ExecutionPath {
	if req.IdentityToken != "" && req.RoleARN != "" && rt.broker != nil {
		return types.PathFederated
	}
	if tierName == tier.Enterprise {
		return types.PathEnterprise
	}
	return types.PathPlatform
}

// execute is the background body of one deployment attempt.
func (rt *Router) execute(ctx context.Context, deploymentID string, req SubmitRequest, grant *gate.Grant, path types.ExecutionPath) error {
	started := time.Now()
	finalStatus := deployment.StatusFailed
	defer func() {
		promDeploymentsTotal.WithLabelValues(string(path), string(finalStatus)).Inc()
	}()

	if err := rt.transition(deploymentID, deployment.StatusBuilding); err != nil {
		// Already cancelled or deleted; nothing to do.
		finalStatus = deployment.StatusCancelled
		return nil
	}

	staged, err := rt.stage(ctx, deploymentID, req, grant, path)
	if err != nil {
		rt.failRecord(deploymentID, err)
		return err
	}
	promStagingDuration.Observe(float64(time.Since(started).Milliseconds()))

	if staged != nil {
		_ = rt.store.Update(deploymentID, func(r *deployment.Record) error {
			r.S3BucketName = staged.BucketName
			r.ECRRepositoryURI = staged.RepositoryURI
			r.DeploymentPackageKey = staged.ObjectKey
			return nil
		})
	}

	if ctx.Err() != nil {
		// Cancelled between steps; the record transition already happened
		// in Cancel.
		finalStatus = deployment.StatusCancelled
		return ctx.Err()
	}

	if err := rt.transition(deploymentID, deployment.StatusDeploying); err != nil {
		finalStatus = deployment.StatusCancelled
		return nil
	}
	if err := rt.transition(deploymentID, deployment.StatusActive); err != nil {
		finalStatus = deployment.StatusCancelled
		return nil
	}
	finalStatus = deployment.StatusActive

	rt.meter(deploymentID, req, grant)

	rt.log.InfoWithDuration(grant.UserID, deploymentID, "deployment active",
		float64(time.Since(started).Milliseconds()), map[string]interface{}{
			"path": string(path),
			"tier": grant.Tier,
		})
	return nil
}

// stage runs the path-specific staging body.
func (rt *Router) stage(ctx context.Context, deploymentID string, req SubmitRequest, grant *gate.Grant, path types.ExecutionPath) (*provision.Staged, error) {
	progress := func(step string, pct int, msg string) {
		_ = rt.store.Update(deploymentID, func(r *deployment.Record) error {
			r.SetProgress(step, pct, msg, 0, 0)
			return nil
		})
	}

	switch path {
	case types.PathFederated:
		lease, err := rt.broker.Exchange(ctx, req.IdentityToken, req.RoleARN, grant.UserID)
		if err != nil {
			return nil, err
		}
		_ = rt.store.Update(deploymentID, func(r *deployment.Record) error {
			r.AWSAccountID = lease.AccountID
			r.AWSCallerARN = lease.CallerARN
			r.AppendLog(deployment.LogLevelInfo,
				fmt.Sprintf("credential lease issued for account %s", lease.AccountID), "broker")
			return nil
		})
		prov, err := rt.leaseProv(ctx, lease)
		if err != nil {
			return nil, fmt.Errorf("failed to build tenant clients: %w", err)
		}
		return prov.Stage(ctx, provision.Request{
			DeploymentID: deploymentID,
			UserID:       grant.UserID,
			WorkloadName: req.WorkloadName,
			Region:       req.Region,
			Bundle:       req.Bundle,
		}, progress)

	case types.PathEnterprise:
		// Dedicated-account staging is executed by the enterprise runner;
		// here every call is audited and the record contract is identical.
		cfg := types.DefaultEnterpriseConfig()
		_ = rt.store.Update(deploymentID, func(r *deployment.Record) error {
			r.AppendLog(deployment.LogLevelInfo,
				fmt.Sprintf("enterprise path: audit_every_call=%t", cfg.AuditEveryCall), "router")
			return nil
		})
		for i, cp := range []int{10, 30, 45, 65, 80, 100} {
			progress("enterprise", cp, fmt.Sprintf("audited step %d", i+1))
		}
		return nil, nil

	default:
		// Managed-account staging; resource names carry the tenant so the
		// shared account stays attributable per user.
		_ = rt.store.Update(deploymentID, func(r *deployment.Record) error {
			r.AppendLog(deployment.LogLevelInfo,
				fmt.Sprintf("staging tenant-prefixed resources for %s in the managed account", grant.UserID), "router")
			return nil
		})
		return rt.platformProv.Stage(ctx, provision.Request{
			DeploymentID:   deploymentID,
			UserID:         grant.UserID,
			WorkloadName:   req.WorkloadName,
			Region:         req.Region,
			Bundle:         req.Bundle,
			TenantPrefixed: true,
		}, progress)
	}
}

// meter records the attempt's billing once, after staging. Token counts come
// from the provider payload when one exists and fall back to text-length
// estimation otherwise.
func (rt *Router) meter(deploymentID string, req SubmitRequest, grant *gate.Grant) {
	tu := usage.ExtractTokenUsage(req.ModelResponse, req.ModelID)
	if tu.IsZero() {
		tu = usage.EstimateTokenUsage(req.InputText, req.WorkloadName)
	}
	rt.counter.AddTokens(grant.UserID, tu)
	units := usage.CalculateUnitsFromTokens(req.ModelID, tu.InputTokens, tu.OutputTokens)
	promBillingUnits.Add(float64(units))

	if rt.recorder == nil {
		return
	}

	cfg := rt.policy.GetConfig(grant.Tier)
	count := rt.counter.ExecutionsThisMonth(grant.UserID)
	overage := cfg.MonthlyExecutions != tier.Unlimited && count > cfg.MonthlyExecutions

	err := rt.recorder.IncrementUsageAndReportOverage(usage.ExecutionEvent{
		ExecutionID:  deploymentID,
		UserID:       grant.UserID,
		DeploymentID: deploymentID,
		Tier:         grant.Tier,
		ModelID:      req.ModelID,
		InputTokens:  tu.InputTokens,
		OutputTokens: tu.OutputTokens,
		Overage:      overage,
	})
	if err != nil {
		rt.log.Warn(grant.UserID, deploymentID, "usage recording failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (rt *Router) transition(deploymentID string, next deployment.Status) error {
	return rt.store.Update(deploymentID, func(r *deployment.Record) error {
		return r.Transition(next)
	})
}

func (rt *Router) failRecord(deploymentID string, cause error) {
	_ = rt.store.Update(deploymentID, func(r *deployment.Record) error {
		return r.Fail(cause)
	})
}
