// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/controlplane/broker"
	"axonflow/controlplane/deployment"
	"axonflow/controlplane/gate"
	"axonflow/controlplane/provision"
	"axonflow/controlplane/shared/types"
	"axonflow/controlplane/tier"
	"axonflow/controlplane/usage"
)

// okS3 and okECR accept every provisioning call.
type okS3 struct{}

func (okS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}
func (okS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}
func (okS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

type okECR struct{}

func (okECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	return &ecr.DescribeRepositoriesOutput{
		Repositories: []ecrtypes.Repository{{RepositoryUri: aws.String("registry/workload")}},
	}, nil
}
func (okECR) CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	return &ecr.CreateRepositoryOutput{
		Repository: &ecrtypes.Repository{RepositoryUri: aws.String("registry/workload")},
	}, nil
}

type fakeBroker struct {
	lease *broker.Lease
	err   error
	calls int
}

func (f *fakeBroker) Exchange(ctx context.Context, identityToken, roleARN, sessionName string) (*broker.Lease, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

type routerFixture struct {
	router  *Router
	store   *deployment.Store
	counter *usage.Counter
	subs    *gate.MemoryStore
	broker  *fakeBroker
	queue   *Queue
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	policy := tier.Default()
	counter := usage.NewCounter()
	subs := gate.NewMemoryStore()
	store := deployment.NewStore()
	queue := NewQueue(2, 16)
	t.Cleanup(queue.Shutdown)

	prov := provision.New(okS3{}, okECR{}, nil)
	fb := &fakeBroker{
		lease: &broker.Lease{
			AccessKeyID: "ASIAEXAMPLE",
			AccountID:   "210987654321",
			CallerARN:   "arn:aws:sts::210987654321:assumed-role/deploy/user-1",
			Expiry:      time.Now().Add(time.Hour),
		},
	}

	rt := NewRouter(RouterDeps{
		Policy:       policy,
		Gate:         gate.New(policy, counter, subs),
		Subs:         subs,
		Counter:      counter,
		Store:        store,
		Limiter:      NewRateLimiter(nil),
		Queue:        queue,
		Broker:       fb,
		PlatformProv: prov,
		LeaseProv: func(ctx context.Context, lease *broker.Lease) (*provision.Provisioner, error) {
			return prov, nil
		},
	})
	return &routerFixture{router: rt, store: store, counter: counter, subs: subs, broker: fb, queue: queue}
}

func (f *routerFixture) subscribe(userID, tierName string) {
	f.subs.Put(gate.Subscription{
		UserID:           userID,
		Tier:             tierName,
		Status:           gate.SubStatusActive,
		CurrentPeriodEnd: time.Now().Add(20 * 24 * time.Hour),
	})
}

func (f *routerFixture) waitForTask(t *testing.T, deploymentID string) {
	t.Helper()
	f.router.mu.Lock()
	handle := f.router.handles[deploymentID]
	f.router.mu.Unlock()
	require.NotNil(t, handle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Wait(ctx)
}

func platformRequest() SubmitRequest {
	return SubmitRequest{
		UserID:       "user-1",
		AgentID:      "agent-1",
		WorkloadName: "order tracker",
		Provider:     "bedrock",
		ModelID:      "anthropic.claude-3-5-sonnet-20241022-v2:0",
		Region:       "us-east-1",
		Bundle:       []byte("zip-bytes"),
		InputText:    "deploy the order tracker",
	}
}

func TestSubmit_PlatformPathReachesActive(t *testing.T) {
	f := newRouterFixture(t)
	f.subscribe("user-1", tier.Personal)

	ack, err := f.router.Submit(context.Background(), platformRequest())
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusCreating, ack.Status)
	assert.Equal(t, types.PathPlatform, ack.Path)
	assert.Equal(t, 99, ack.Remaining)

	f.waitForTask(t, ack.DeploymentID)

	rec, ok := f.store.Get(ack.DeploymentID)
	require.True(t, ok)
	assert.Equal(t, deployment.StatusActive, rec.Status)
	assert.Equal(t, string(types.PathPlatform), rec.Path)
	assert.Equal(t, "axonflow-deploy-user-1-order-tracker", rec.S3BucketName, "managed path uses tenant-prefixed names")
	assert.Equal(t, 100, rec.Progress.Percentage)
	assert.NotNil(t, rec.DeployedAt)

	assert.Equal(t, 1, f.counter.ExecutionsThisMonth("user-1"))
	in, out := f.counter.TokensThisMonth("user-1")
	assert.Greater(t, in+out, 0, "the attempt must be metered")
}

func TestSubmit_DenialCreatesNoRecord(t *testing.T) {
	f := newRouterFixture(t)
	// No subscription: freemium cannot use bedrock.

	_, err := f.router.Submit(context.Background(), platformRequest())
	require.Error(t, err)
	d, ok := gate.AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, gate.CodeProviderNotAllowed, d.Code)

	assert.Empty(t, f.store.ListByUser("user-1"), "denied submission must not create a record")
	assert.Zero(t, f.counter.ExecutionsThisMonth("user-1"))
}

func TestSubmit_FederatedPathUsesLease(t *testing.T) {
	f := newRouterFixture(t)
	f.subscribe("user-1", tier.Personal)

	req := platformRequest()
	req.IdentityToken = "ey.fake.jwt"
	req.RoleARN = "arn:aws:iam::210987654321:role/deploy"

	ack, err := f.router.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.PathFederated, ack.Path)
	assert.Contains(t, ack.Message, "your AWS account")

	f.waitForTask(t, ack.DeploymentID)

	rec, _ := f.store.Get(ack.DeploymentID)
	assert.Equal(t, deployment.StatusActive, rec.Status)
	assert.Equal(t, "210987654321", rec.AWSAccountID)
	assert.Equal(t, 1, f.broker.calls)
	assert.NotEmpty(t, rec.AWSCallerARN)
}

func TestSubmit_BrokerFailureFailsTheRecord(t *testing.T) {
	f := newRouterFixture(t)
	f.subscribe("user-1", tier.Personal)
	f.broker.err = broker.ErrRoleNotAssumable

	req := platformRequest()
	req.IdentityToken = "ey.fake.jwt"
	req.RoleARN = "arn:aws:iam::210987654321:role/deploy"

	ack, err := f.router.Submit(context.Background(), req)
	require.NoError(t, err, "ack comes back before the exchange runs")

	f.waitForTask(t, ack.DeploymentID)

	rec, _ := f.store.Get(ack.DeploymentID)
	assert.Equal(t, deployment.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "role not assumable")
	assert.False(t, rec.IsActive)
}

func TestSubmit_EnterprisePathIsAuditedAndActive(t *testing.T) {
	f := newRouterFixture(t)
	f.subscribe("user-1", tier.Enterprise)

	req := platformRequest()
	req.Provider = "openai"
	req.ModelID = "gpt-4o"

	ack, err := f.router.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.PathEnterprise, ack.Path)

	f.waitForTask(t, ack.DeploymentID)

	rec, _ := f.store.Get(ack.DeploymentID)
	assert.Equal(t, deployment.StatusActive, rec.Status)
	assert.Equal(t, 100, rec.Progress.Percentage)

	audited := false
	for _, entry := range rec.Logs {
		if entry.Source == "router" {
			audited = true
		}
	}
	assert.True(t, audited, "enterprise path must log its audit marker")
}

func TestSubmit_RateLimitKicksIn(t *testing.T) {
	f := newRouterFixture(t)
	// Freemium: 1 concurrent test -> 10 submissions per minute.

	req := platformRequest()
	req.Provider = "ollama"
	req.ModelID = "llama3"

	var limited bool
	for i := 0; i < 11; i++ {
		_, err := f.router.Submit(context.Background(), req)
		if errors.Is(err, errRateLimited) {
			limited = true
			break
		}
	}
	assert.True(t, limited, "11th submission inside a minute must be limited")
}

func TestCancel_TransitionsRecordAndMarksTask(t *testing.T) {
	f := newRouterFixture(t)

	rec := deployment.NewRecord("dep-cancel", "agent-1", "user-1", "personal")
	require.NoError(t, f.store.Create(rec))

	require.NoError(t, f.router.Cancel("dep-cancel"))

	got, _ := f.store.Get("dep-cancel")
	assert.Equal(t, deployment.StatusCancelled, got.Status)
	assert.False(t, got.IsActive)

	// Cancelling a terminal record is an invalid transition.
	err := f.router.Cancel("dep-cancel")
	require.Error(t, err)
	assert.True(t, deployment.IsInvalidTransition(err))
}
