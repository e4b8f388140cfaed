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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config is the control plane's process configuration, loaded from the
// environment with optional platform secrets from AWS Secrets Manager.
type Config struct {
	Port        string
	Region      string
	DatabaseURL string
	RedisURL    string

	// TierTablePath optionally overrides the built-in tier table with YAML.
	TierTablePath string

	// PlatformSecretARN names a Secrets Manager secret holding the managed
	// account credentials and database password. Empty means env-only mode.
	PlatformSecretARN string

	// DeployRoleARN is the default role pattern for federated exchanges when
	// a request does not carry its own.
	DeployRoleARN string

	Workers int
	Backlog int
}

// LoadConfig reads configuration from the environment.
func LoadConfig() Config {
	cfg := Config{
		Port:              getEnv("PORT", "8082"),
		Region:            getEnv("AWS_REGION", "us-east-1"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		TierTablePath:     os.Getenv("TIER_TABLE_PATH"),
		PlatformSecretARN: os.Getenv("PLATFORM_SECRET_ARN"),
		DeployRoleARN:     os.Getenv("DEPLOY_ROLE_ARN"),
		Workers:           getEnvInt("TASK_WORKERS", 4),
		Backlog:           getEnvInt("TASK_BACKLOG", 64),
	}

	log.Printf("[Config] port=%s region=%s workers=%d", cfg.Port, cfg.Region, cfg.Workers)
	if cfg.DatabaseURL == "" {
		log.Printf("[Config] DATABASE_URL not set, usage events will not be persisted")
	}
	if cfg.RedisURL == "" {
		log.Printf("[Config] REDIS_URL not set, rate limiting falls back to per-process windows")
	}
	return cfg
}

// ApplySecrets overlays values from the platform secret onto the config.
// The secret is a JSON object; recognized keys are database_url, redis_url,
// and deploy_role_arn.
// Missing secret configuration is not an error.
func (c *Config) ApplySecrets(ctx context.Context) error {
	if c.PlatformSecretARN == "" {
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg)

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := client.GetSecretValue(fetchCtx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(c.PlatformSecretARN),
	})
	if err != nil {
		return fmt.Errorf("failed to get platform secret: %w", err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("platform secret has no string value")
	}

	values := map[string]string{}
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return fmt.Errorf("failed to parse platform secret: %w", err)
	}

	if v := values["database_url"]; v != "" {
		c.DatabaseURL = v
	}
	if v := values["redis_url"]; v != "" {
		c.RedisURL = v
	}
	if v := values["deploy_role_arn"]; v != "" {
		c.DeployRoleARN = v
	}
	log.Printf("[Config] applied platform secret %s", maskARN(c.PlatformSecretARN))
	return nil
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
