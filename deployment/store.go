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

package deployment

import (
	"fmt"
	"sort"
	"sync"
)

// Store is a concurrent in-memory deployment record store. Updates are
// last-writer-wins field merges applied under the store lock; callers must
// not assume atomicity across the whole record between separate updates,
// only that status transitions obey the state machine and logs are
// append-only.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Create adds a new record. The id must be unique.
func (s *Store) Create(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; exists {
		return fmt.Errorf("deployment %s already exists", r.ID)
	}
	s.records[r.ID] = r
	return nil
}

// Get returns a copy of the record, so readers never observe a partially
// applied update.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(r), true
}

// Update applies fn to the record under the store lock. fn returning an
// error leaves whatever it already mutated in place (field merges are
// last-writer-wins, not transactional) and the error is propagated.
func (s *Store) Update(id string, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("deployment %s not found", id)
	}
	return fn(r)
}

// ListByUser returns copies of the user's records, newest first.
func (s *Store) ListByUser(userID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// copyRecord deep-copies the log slice so a returned record is detached from
// subsequent appends.
func copyRecord(r *Record) Record {
	cp := *r
	cp.Logs = make([]LogEntry, len(r.Logs))
	copy(cp.Logs, r.Logs)
	return cp
}
