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

// Package gate composes the tier policy, usage counters, and subscription
// health into the single allow/deny decision made before any deployment
// record exists.
package gate

import (
	"fmt"
	"time"

	"axonflow/controlplane/tier"
	"axonflow/controlplane/usage"
)

// Denial codes, stable across releases. Callers map these onto the public
// error taxonomy.
const (
	CodeNotAuthenticated    = "NOT_AUTHENTICATED"
	CodeSubscriptionInvalid = "SUBSCRIPTION_INVALID"
	CodeProviderNotAllowed  = "PROVIDER_NOT_ALLOWED"
	CodeModelNotAllowed     = "MODEL_NOT_ALLOWED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
)

// Subscription statuses mirrored from the billing provider.
const (
	SubStatusActive   = "active"
	SubStatusPastDue  = "past_due"
	SubStatusDisputed = "disputed"
	SubStatusCanceled = "canceled"
)

// gracePeriod extends a paid period past its end before access is cut off.
const gracePeriod = 72 * time.Hour

// Subscription is the billing state for one user.
type Subscription struct {
	UserID           string
	Tier             string
	Status           string
	CurrentPeriodEnd time.Time
}

// SubscriptionStore resolves a user's subscription. A missing subscription is
// not an error; the user simply resolves to the freemium tier.
type SubscriptionStore interface {
	Get(userID string) (*Subscription, bool)
}

// Request is the raw, untrusted access request.
type Request struct {
	UserID   string
	Provider string
	ModelID  string
}

// Grant is the approved result. Downstream components trust the Grant, never
// the raw request.
type Grant struct {
	UserID    string
	Tier      string
	Remaining int
}

// Denial is a typed gate failure carrying a stable code, a sub-reason for
// subscription failures, a user-facing reason, and a remediation hint.
type Denial struct {
	Code      string
	Subreason string
	Reason    string
	Hint      string
}

// Error implements the error interface.
func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Code, d.Reason)
}

// AsDenial checks if an error is a gate Denial.
func AsDenial(err error) (*Denial, bool) {
	d, ok := err.(*Denial)
	return d, ok
}

// paidProviders require an authenticated identity regardless of tier.
var paidProviders = map[string]bool{
	"bedrock":   true,
	"openai":    true,
	"anthropic": true,
}

// Gate is the single access decision point. All dependencies are injected at
// construction and never mutated.
type Gate struct {
	policy  *tier.Policy
	counter *usage.Counter
	subs    SubscriptionStore
	// now is swappable for tests
	now func() time.Time
}

// New creates an access gate over the given policy table, usage counter, and
// subscription store.
func New(policy *tier.Policy, counter *usage.Counter, subs SubscriptionStore) *Gate {
	return &Gate{policy: policy, counter: counter, subs: subs, now: time.Now}
}

// Check evaluates the request against each guard in order, short-circuiting
// on the first failure: identity, subscription health, provider allow-list,
// model family allow-list, execution limit. A nil error means the returned
// Grant is safe to act on. Denials never mutate any record.
func (g *Gate) Check(req Request) (*Grant, error) {
	// Anonymous identities are rejected outright for paid-provider access.
	if req.UserID == "" {
		if paidProviders[req.Provider] {
			return nil, &Denial{
				Code:      CodeSubscriptionInvalid,
				Subreason: "anonymous",
				Reason:    fmt.Sprintf("provider %q requires an authenticated subscription", req.Provider),
				Hint:      "sign in and subscribe to a paid plan to use managed model providers",
			}
		}
		// Anonymous callers on free providers run as freemium.
		return g.finish("", tier.Freemium, req)
	}

	tierName := tier.Freemium
	if sub, ok := g.subs.Get(req.UserID); ok {
		if denial := g.checkSubscriptionHealth(sub); denial != nil {
			return nil, denial
		}
		tierName = sub.Tier
	}

	return g.finish(req.UserID, tierName, req)
}

// checkSubscriptionHealth returns a denial for unhealthy billing states.
func (g *Gate) checkSubscriptionHealth(sub *Subscription) *Denial {
	switch sub.Status {
	case SubStatusPastDue:
		return &Denial{
			Code:      CodeSubscriptionInvalid,
			Subreason: SubStatusPastDue,
			Reason:    "your subscription payment is past due",
			Hint:      "update your payment method to restore access",
		}
	case SubStatusDisputed:
		return &Denial{
			Code:      CodeSubscriptionInvalid,
			Subreason: SubStatusDisputed,
			Reason:    "a payment on your subscription is disputed",
			Hint:      "resolve the dispute with your card issuer to restore access",
		}
	case SubStatusCanceled:
		return &Denial{
			Code:      CodeSubscriptionInvalid,
			Subreason: SubStatusCanceled,
			Reason:    "your subscription has been canceled",
			Hint:      "re-subscribe to restore access",
		}
	}

	if !sub.CurrentPeriodEnd.IsZero() && g.now().After(sub.CurrentPeriodEnd.Add(gracePeriod)) {
		return &Denial{
			Code:      CodeSubscriptionInvalid,
			Subreason: "period_expired",
			Reason:    "your paid period has ended",
			Hint:      "renew your subscription to restore access",
		}
	}

	return nil
}

// finish runs the tier-scoped checks and builds the grant.
func (g *Gate) finish(userID, tierName string, req Request) (*Grant, error) {
	if !g.policy.IsProviderAllowed(tierName, req.Provider) {
		return nil, &Denial{
			Code:   CodeProviderNotAllowed,
			Reason: fmt.Sprintf("provider %q is not available on the %s tier", req.Provider, tierName),
			Hint:   "upgrade your plan to unlock additional model providers",
		}
	}

	if !g.policy.IsModelFamilyAllowed(tierName, req.ModelID) {
		return nil, &Denial{
			Code:   CodeModelNotAllowed,
			Reason: fmt.Sprintf("model %q is not available on the %s tier", req.ModelID, tierName),
			Hint:   "upgrade your plan to unlock additional model families",
		}
	}

	count := g.counter.ExecutionsThisMonth(userID)
	decision := g.policy.CheckExecutionLimit(tierName, count)
	if !decision.Allowed {
		cap := g.policy.GetConfig(tierName).MonthlyExecutions
		return nil, &Denial{
			Code:   CodeQuotaExceeded,
			Reason: fmt.Sprintf("monthly execution limit of %d reached (%d used)", cap, count),
			Hint:   "upgrade your plan or wait for the next billing period",
		}
	}

	return &Grant{UserID: userID, Tier: tierName, Remaining: decision.Remaining}, nil
}
