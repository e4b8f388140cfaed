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
	"sync"

	"github.com/google/uuid"
)

// TaskState is the lifecycle of one queued task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// ErrQueueClosed is returned by Submit after Shutdown.
var ErrQueueClosed = errors.New("task queue is shut down")

// ErrQueueFull is returned by Submit when the backlog has no room.
var ErrQueueFull = errors.New("task backlog is full")

// Task is one unit of background work. Implementations must watch ctx at
// step boundaries; cancellation is cooperative and never aborts an in-flight
// cloud call.
type Task func(ctx context.Context) error

// Handle tracks one submitted task.
type Handle struct {
	ID string

	mu     sync.Mutex
	state  TaskState
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// Poll returns the task's current state and, once finished, its error.
func (h *Handle) Poll() (TaskState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.err
}

// Cancel marks the task for cancellation. A pending task never starts; a
// running task keeps going until it next checks its context.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == TaskPending {
		h.state = TaskCancelled
		close(h.done)
	}
	h.cancel()
}

// Wait blocks until the task finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		_, err := h.Poll()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != TaskPending {
		return false
	}
	h.state = TaskRunning
	return true
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case err == nil:
		h.state = TaskDone
	case errors.Is(err, context.Canceled):
		h.state = TaskCancelled
		h.err = err
	default:
		h.state = TaskFailed
		h.err = err
	}
	close(h.done)
}

type queuedTask struct {
	handle *Handle
	ctx    context.Context
	fn     Task
}

// Queue runs submitted tasks on a fixed worker pool. Submit never blocks the
// caller on the work itself; the returned handle is the only way to observe
// the outcome.
type Queue struct {
	tasks chan *queuedTask
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewQueue starts a queue with the given worker count and backlog size.
func NewQueue(workers, backlog int) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{tasks: make(chan *queuedTask, backlog)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for qt := range q.tasks {
		if !qt.handle.start() {
			continue // cancelled before starting
		}
		qt.handle.finish(qt.fn(qt.ctx))
	}
}

// Submit enqueues fn and returns its handle immediately.
func (q *Queue) Submit(fn Task) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:     uuid.New().String(),
		state:  TaskPending,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	select {
	case q.tasks <- &queuedTask{handle: h, ctx: ctx, fn: fn}:
	default:
		cancel()
		return nil, ErrQueueFull
	}
	return h, nil
}

// Shutdown stops accepting work and waits for in-flight tasks to finish.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}
