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

// Package provision stages the cloud resources one deployment attempt needs:
// an S3 bucket for the bundle, an ECR repository for the image, the uploaded
// bundle object, and a presigned download link. Each step runs exactly once;
// the first fatal failure stops the run and partial resources are left in
// place for the operator to inspect.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"axonflow/controlplane/shared/logger"
)

// presignTTL is how long the bundle download link stays valid.
const presignTTL = time.Hour

// S3API is the slice of the S3 client the provisioner uses.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ECRAPI is the slice of the ECR client the provisioner uses.
type ECRAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// Presigner generates download links for staged bundles.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Request describes the resources one deployment attempt needs.
type Request struct {
	DeploymentID string
	UserID       string
	WorkloadName string
	Region       string
	Bundle       []byte

	// TenantPrefixed prepends the user id to resource names, used on the
	// managed path where all tenants share one account.
	TenantPrefixed bool
}

// Staged is the set of resources a successful run produced.
type Staged struct {
	BucketName    string
	RepositoryURI string
	ObjectKey     string
	PresignedURL  string
}

// ProgressFunc receives one strictly increasing checkpoint per staging step.
type ProgressFunc func(step string, percentage int, message string)

// Provisioner stages resources with injected cloud clients, so the same code
// runs against platform credentials or a brokered tenant lease.
type Provisioner struct {
	s3        S3API
	ecr       ECRAPI
	presigner Presigner
	log       *logger.Logger
	// now feeds object key and bucket suffix uniqueness, swappable for tests
	now func() time.Time
}

// New creates a provisioner over the given clients. presigner may be nil, in
// which case the download link step is skipped.
func New(s3Client S3API, ecrClient ECRAPI, presigner Presigner) *Provisioner {
	return &Provisioner{
		s3:        s3Client,
		ecr:       ecrClient,
		presigner: presigner,
		log:       logger.New("provisioner"),
		now:       time.Now,
	}
}

// Stage runs the four staging steps in order. Progress checkpoints are
// 10, 30, 45, 65, 80, 100. No step retries; the first failure is returned
// and whatever was already created stays in place.
func (p *Provisioner) Stage(ctx context.Context, req Request, progress ProgressFunc) (*Staged, error) {
	if progress == nil {
		progress = func(string, int, string) {}
	}
	if len(req.Bundle) == 0 {
		return nil, fmt.Errorf("deployment bundle is empty")
	}

	bucket, repo := ResourceNames(req)
	progress("validate", 10, "staging request validated")

	bucket, err := p.ensureBucket(ctx, bucket, req.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
	}
	progress("bucket", 30, fmt.Sprintf("bucket %s ready", bucket))

	repoURI, err := p.ensureRepository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure repository %s: %w", repo, err)
	}
	progress("repository", 45, fmt.Sprintf("repository %s ready", repo))

	key := p.objectKey(req)
	_, err = p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(req.Bundle),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload bundle to s3://%s/%s: %w", bucket, key, err)
	}
	progress("upload", 65, fmt.Sprintf("bundle uploaded (%d bytes)", len(req.Bundle)))

	url := p.presignBundle(ctx, req, bucket, key)
	progress("presign", 80, "bundle link prepared")

	progress("complete", 100, "resource staging complete")
	return &Staged{
		BucketName:    bucket,
		RepositoryURI: repoURI,
		ObjectKey:     key,
		PresignedURL:  url,
	}, nil
}

// ensureBucket makes the bucket exist and owned by the caller. A name taken
// by a foreign account gets one retry with a timestamp suffix.
func (p *Provisioner) ensureBucket(ctx context.Context, bucket, region string) (string, error) {
	_, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return bucket, nil
	}
	if !isBucketMissing(err) {
		return bucket, err
	}

	err = p.createBucket(ctx, bucket, region)
	if err == nil || isOwnedByCaller(err) {
		return bucket, nil
	}
	if !isTakenByForeignOwner(err) {
		return bucket, err
	}

	suffixed := fmt.Sprintf("%s-%d", bucket, p.now().Unix())
	p.log.Warn("", "", "bucket name taken, retrying with suffix", map[string]interface{}{
		"requested": bucket,
		"fallback":  suffixed,
	})
	err = p.createBucket(ctx, suffixed, region)
	if err != nil && !isOwnedByCaller(err) {
		return suffixed, err
	}
	return suffixed, nil
}

func (p *Provisioner) createBucket(ctx context.Context, bucket, region string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	_, err := p.s3.CreateBucket(ctx, input)
	return err
}

// ensureRepository makes the ECR repository exist and returns its URI.
func (p *Provisioner) ensureRepository(ctx context.Context, repo string) (string, error) {
	desc, err := p.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repo},
	})
	if err == nil {
		if len(desc.Repositories) == 0 {
			return "", fmt.Errorf("repository %s not in describe response", repo)
		}
		return aws.ToString(desc.Repositories[0].RepositoryUri), nil
	}

	var notFound *ecrtypes.RepositoryNotFoundException
	if !errors.As(err, &notFound) {
		return "", err
	}

	created, err := p.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repo),
	})
	if err != nil {
		var exists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			// Created concurrently; describe again for the URI.
			desc, derr := p.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
				RepositoryNames: []string{repo},
			})
			if derr != nil || len(desc.Repositories) == 0 {
				return "", fmt.Errorf("repository %s exists but cannot be described: %v", repo, derr)
			}
			return aws.ToString(desc.Repositories[0].RepositoryUri), nil
		}
		return "", err
	}
	return aws.ToString(created.Repository.RepositoryUri), nil
}

// presignBundle generates the download link. Failures are logged and
// swallowed; a missing link never fails the attempt.
func (p *Provisioner) presignBundle(ctx context.Context, req Request, bucket, key string) string {
	if p.presigner == nil {
		return ""
	}
	presigned, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = presignTTL
	})
	if err != nil {
		p.log.Warn(req.UserID, req.DeploymentID, "presign failed, continuing without download link", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	return presigned.URL
}

// objectKey builds a never-reused key for the bundle object.
func (p *Provisioner) objectKey(req Request) string {
	return fmt.Sprintf("deployments/%s/%s/%d.zip",
		SanitizeName(req.WorkloadName), req.DeploymentID, p.now().UnixNano())
}

// ResourceNames derives the bucket and repository names for a request.
// The managed path prefixes both with the tenant so one shared account stays
// legible per user.
func ResourceNames(req Request) (bucket, repo string) {
	name := SanitizeName(req.WorkloadName)
	if req.TenantPrefixed {
		prefix := SanitizeName(req.UserID)
		name = prefix + "-" + name
	}
	return "axonflow-deploy-" + name, "axonflow/" + name
}

// SanitizeName lowercases and strips a workload name down to the character
// set S3 and ECR both accept.
func SanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		out = "workload"
	}
	if len(out) > 40 {
		out = strings.TrimSuffix(out[:40], "-")
	}
	return out
}

// isBucketMissing reports whether a HeadBucket failure means "does not exist"
// rather than a real error.
func isBucketMissing(err error) bool {
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

func isOwnedByCaller(err error) bool {
	var owned *s3types.BucketAlreadyOwnedByYou
	return errors.As(err, &owned)
}

func isTakenByForeignOwner(err error) bool {
	var taken *s3types.BucketAlreadyExists
	return errors.As(err, &taken)
}
