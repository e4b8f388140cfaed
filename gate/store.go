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

package gate

import "sync"

// MemoryStore is a concurrent in-memory SubscriptionStore. The billing
// provider sync writes into it; the gate only reads.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewMemoryStore creates an empty subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]Subscription)}
}

// Put stores or replaces a user's subscription.
func (m *MemoryStore) Put(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.UserID] = sub
}

// Delete removes a user's subscription; the user falls back to freemium.
func (m *MemoryStore) Delete(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, userID)
}

// Get implements SubscriptionStore.
func (m *MemoryStore) Get(userID string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, false
	}
	return &sub, true
}
