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

// Package controlplane is the tiered deployment control plane service. It
// admits deployment submissions through the access gate, tracks each attempt
// in a state-machine record, stages cloud resources on the platform or
// customer account path, and meters every execution for billing.
package controlplane

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/controlplane/broker"
	"axonflow/controlplane/deployment"
	"axonflow/controlplane/gate"
	"axonflow/controlplane/provision"
	"axonflow/controlplane/tier"
	"axonflow/controlplane/usage"
)

// Run is the exported entry point for the control plane service.
//
// It loads configuration, wires the gate, router, and provisioners, sets up
// HTTP routes, and starts the server. The function blocks until the server
// is shut down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8082)
//   - AWS_REGION: region for platform clients (default: us-east-1)
//   - DATABASE_URL: PostgreSQL connection string for usage events (optional)
//   - REDIS_URL: Redis connection string for rate limiting (optional)
//   - TIER_TABLE_PATH: YAML overrides for the tier table (optional)
//   - PLATFORM_SECRET_ARN: Secrets Manager secret with platform settings (optional)
func Run() {
	log.Println("Starting AxonFlow Deployment Control Plane...")

	ctx := context.Background()
	cfg := LoadConfig()
	if err := cfg.ApplySecrets(ctx); err != nil {
		log.Printf("Warning: platform secrets unavailable: %v", err)
	}

	policy := loadTierPolicy(cfg)
	counter := usage.NewCounter()
	subs := gate.NewMemoryStore()
	accessGate := gate.New(policy, counter, subs)
	store := deployment.NewStore()

	recorder := openRecorder(cfg)
	limiter := NewRateLimiter(openRedis(cfg))
	queue := NewQueue(cfg.Workers, cfg.Backlog)
	defer queue.Shutdown()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	platformProv := provision.New(s3Client, ecr.NewFromConfig(awsCfg), s3.NewPresignClient(s3Client))
	credBroker := broker.New(sts.NewFromConfig(awsCfg))

	router := NewRouter(RouterDeps{
		Policy:       policy,
		Gate:         accessGate,
		Subs:         subs,
		Counter:      counter,
		Recorder:     recorder,
		Store:        store,
		Limiter:      limiter,
		Queue:        queue,
		Broker:       credBroker,
		PlatformProv: platformProv,
		LeaseProv:    leaseProvisioner(cfg.Region),
	})
	service := NewService(router, store)

	// Setup router
	r := mux.NewRouter()
	service.Routes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(r)
	log.Printf("AxonFlow Control Plane listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}

// loadTierPolicy returns the built-in tier table, with YAML overrides applied
// when TIER_TABLE_PATH points at a file.
func loadTierPolicy(cfg Config) *tier.Policy {
	if cfg.TierTablePath == "" {
		return tier.Default()
	}
	policy, err := tier.LoadFile(cfg.TierTablePath)
	if err != nil {
		log.Printf("Warning: tier table overrides not loaded: %v", err)
		return tier.Default()
	}
	log.Printf("Loaded tier table overrides from %s", cfg.TierTablePath)
	return policy
}

// openRecorder connects the usage recorder, or returns nil when no database
// is configured.
func openRecorder(cfg Config) *usage.Recorder {
	if cfg.DatabaseURL == "" {
		return nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: usage database unavailable: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		log.Printf("Warning: usage database unreachable: %v", err)
		return nil
	}
	log.Println("Usage recorder connected")
	return usage.NewRecorder(db)
}

// openRedis connects the rate limiter's Redis, or returns nil for the
// per-process fallback.
func openRedis(cfg Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: invalid REDIS_URL: %v", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Redis unreachable, rate limiting is per-process: %v", err)
		return nil
	}
	log.Printf("Redis connected for rate limiting")
	return client
}

// leaseProvisioner builds per-attempt provisioners whose clients authenticate
// with a brokered credential lease.
func leaseProvisioner(region string) LeaseProvisionerFunc {
	return func(ctx context.Context, lease *broker.Lease) (*provision.Provisioner, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				lease.AccessKeyID, lease.SecretAccessKey, lease.SessionToken)))
		if err != nil {
			return nil, err
		}
		s3Client := s3.NewFromConfig(awsCfg)
		return provision.New(s3Client, ecr.NewFromConfig(awsCfg), s3.NewPresignClient(s3Client)), nil
	}
}
