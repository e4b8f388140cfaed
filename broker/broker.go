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

// Package broker exchanges a federated identity assertion for short-lived AWS
// credentials scoped to a single deployment attempt. Leases live in memory
// for the duration of the attempt and are never persisted.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/golang-jwt/jwt/v5"

	"axonflow/controlplane/shared/logger"
)

// maxLeaseDurationSeconds caps every lease at one hour.
const maxLeaseDurationSeconds = 3600

// leaseSessionPolicy narrows whatever the target role allows down to the
// operations the provisioner actually performs.
const leaseSessionPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {"Effect": "Allow", "Action": ["s3:*"], "Resource": "*"},
    {"Effect": "Allow", "Action": ["ecr:*"], "Resource": "*"},
    {"Effect": "Allow", "Action": ["sts:GetCallerIdentity"], "Resource": "*"}
  ]
}`

// Typed exchange failures. All three are fatal to the deployment attempt;
// there is no fallback to platform credentials.
var (
	// ErrInvalidIdentity means the identity assertion itself was rejected,
	// either locally (malformed, expired, no subject) or by STS.
	ErrInvalidIdentity = errors.New("invalid identity assertion")

	// ErrRoleNotAssumable means the assertion was fine but the target role
	// refused the caller.
	ErrRoleNotAssumable = errors.New("role not assumable")

	// ErrUpstreamUnavailable means STS or the identity provider could not be
	// reached or answered with a transient failure.
	ErrUpstreamUnavailable = errors.New("credential service unavailable")
)

// STSAPI is the slice of the STS client the broker uses. The concrete
// *sts.Client satisfies it; tests inject fakes.
type STSAPI interface {
	AssumeRoleWithWebIdentity(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Lease is a set of short-lived credentials plus the verified identity behind
// them. Callers hold it in memory only.
type Lease struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
	AccountID       string
	CallerARN       string
}

// Expired reports whether the lease is past its expiry.
func (l *Lease) Expired(now time.Time) bool {
	return !l.Expiry.IsZero() && now.After(l.Expiry)
}

// Broker performs the identity-for-credentials exchange.
type Broker struct {
	sts STSAPI
	log *logger.Logger

	// newLeaseClient builds an STS client that authenticates with the lease
	// itself, used to verify the assumed identity. Swappable for tests.
	newLeaseClient func(ctx context.Context, lease *Lease) (STSAPI, error)
}

// New creates a broker over the given STS client.
func New(client STSAPI) *Broker {
	return &Broker{
		sts:            client,
		log:            logger.New("credential-broker"),
		newLeaseClient: defaultLeaseClient,
	}
}

// defaultLeaseClient builds an STS client from the lease's static credentials.
func defaultLeaseClient(ctx context.Context, lease *Lease) (STSAPI, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			lease.AccessKeyID, lease.SecretAccessKey, lease.SessionToken)))
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}

// Exchange trades a federated identity token for a lease on the given role.
// The token gets a local sanity check first so obviously dead assertions
// never reach STS.
func (b *Broker) Exchange(ctx context.Context, identityToken, roleARN, sessionName string) (*Lease, error) {
	if err := precheckToken(identityToken); err != nil {
		return nil, err
	}

	out, err := b.sts.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(roleARN),
		RoleSessionName:  aws.String(sanitizeSessionName(sessionName)),
		WebIdentityToken: aws.String(identityToken),
		DurationSeconds:  aws.Int32(maxLeaseDurationSeconds),
		Policy:           aws.String(leaseSessionPolicy),
	})
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("%w: assume-role response carried no credentials", ErrUpstreamUnavailable)
	}

	lease := &Lease{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiry:          aws.ToTime(out.Credentials.Expiration),
	}

	// Verify the assumed identity with the lease's own credentials so the
	// deployment record carries the account actually being deployed into.
	leaseClient, err := b.newLeaseClient(ctx, lease)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	ident, err := leaseClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("%w: caller identity check failed: %v", ErrUpstreamUnavailable, err)
	}
	lease.AccountID = aws.ToString(ident.Account)
	lease.CallerARN = aws.ToString(ident.Arn)

	b.log.Info("", "", "issued credential lease", map[string]interface{}{
		"account_id": lease.AccountID,
		"expires_at": lease.Expiry.UTC().Format(time.RFC3339),
	})
	return lease, nil
}

// precheckToken rejects assertions that STS would refuse anyway. The claims
// are read without signature verification; the identity provider's signature
// is checked by STS itself.
func precheckToken(identityToken string) error {
	if strings.TrimSpace(identityToken) == "" {
		return fmt.Errorf("%w: empty identity token", ErrInvalidIdentity)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(identityToken, claims); err != nil {
		return fmt.Errorf("%w: malformed identity token: %v", ErrInvalidIdentity, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: identity token has no subject", ErrInvalidIdentity)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: unreadable expiry claim", ErrInvalidIdentity)
	}
	if exp != nil && exp.Before(time.Now()) {
		return fmt.Errorf("%w: identity token expired at %s", ErrInvalidIdentity, exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// classifyExchangeError maps STS failures onto the broker's typed errors.
func classifyExchangeError(err error) error {
	var invalidToken *ststypes.InvalidIdentityTokenException
	var expiredToken *ststypes.ExpiredTokenException
	var idpRejected *ststypes.IDPRejectedClaimException
	if errors.As(err, &invalidToken) || errors.As(err, &expiredToken) || errors.As(err, &idpRejected) {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException":
			return fmt.Errorf("%w: %v", ErrRoleNotAssumable, err)
		case "MalformedPolicyDocument", "PackedPolicyTooLarge":
			return fmt.Errorf("%w: %v", ErrRoleNotAssumable, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// sessionNameChar keeps the character set STS accepts for session names.
func sessionNameChar(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return r
	case r == '+', r == '=', r == ',', r == '.', r == '@', r == '-', r == '_':
		return r
	}
	return '-'
}

func sanitizeSessionName(name string) string {
	name = strings.Map(sessionNameChar, strings.TrimSpace(name))
	if name == "" {
		name = "axonflow-deploy"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
