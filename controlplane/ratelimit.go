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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// errRateLimited marks a submission rejected by the rate limiter. Retryable.
var errRateLimited = errors.New("rate limit exceeded")

// RateLimiter enforces a per-user sliding window over one minute. With Redis
// configured the window is shared across replicas; without it (or when Redis
// is down) a per-process window takes over so a cache outage never blocks
// deployments entirely.
type RateLimiter struct {
	rdb *redis.Client

	mu    sync.Mutex
	local map[string][]time.Time
	now   func() time.Time
}

// NewRateLimiter creates a limiter. client may be nil for the in-memory mode.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{
		rdb:   client,
		local: make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Allow records one request for the user and reports whether it fits the
// window. The error wraps errRateLimited when the limit is exceeded.
func (rl *RateLimiter) Allow(ctx context.Context, userID string, limitPerMinute int) error {
	if limitPerMinute <= 0 {
		return nil
	}
	if rl.rdb != nil {
		if ok, err := rl.allowRedis(ctx, userID, limitPerMinute); err == nil {
			if !ok {
				return fmt.Errorf("%w: more than %d requests per minute", errRateLimited, limitPerMinute)
			}
			return nil
		}
		// Redis failure falls through to the local window.
	}
	if !rl.allowLocal(userID, limitPerMinute) {
		return fmt.Errorf("%w: more than %d requests per minute", errRateLimited, limitPerMinute)
	}
	return nil
}

// allowRedis runs the sliding window as one pipeline: drop entries older than
// a minute, count what is left, add this request, refresh the key TTL.
func (rl *RateLimiter) allowRedis(ctx context.Context, userID string, limit int) (bool, error) {
	now := rl.now()
	key := fmt.Sprintf("deployratelimit:%s", userID)

	pipe := rl.rdb.Pipeline()
	minScore := now.Add(-time.Minute).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return countCmd.Val() < int64(limit), nil
}

func (rl *RateLimiter) allowLocal(userID string, limit int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)

	kept := rl.local[userID][:0]
	for _, ts := range rl.local[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		rl.local[userID] = kept
		return false
	}
	rl.local[userID] = append(kept, now)
	return true
}
