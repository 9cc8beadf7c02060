package resilience

import (
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/confsync/confsync/internal/queue"
	"github.com/confsync/confsync/internal/utils"
)

// DefaultQueueCapacity bounds how many operations accumulate while offline.
const DefaultQueueCapacity = 1000

// OfflineQueue holds operations recorded while the remote side is
// unreachable, in the order they were submitted. With a file configured the
// queue survives restarts; items must be JSON-serializable for that.
type OfflineQueue[T any] struct {
	mu       sync.Mutex
	pq       *queue.PriorityQueue[T]
	seq      int64
	capacity int
	file     string
}

// NewOfflineQueue builds a queue bounded to capacity items. A non-empty
// file enables persistence; whatever the file holds is loaded back in
// order.
func NewOfflineQueue[T any](capacity int, file string) (*OfflineQueue[T], error) {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &OfflineQueue[T]{
		pq:       queue.NewPriorityQueue[T](),
		capacity: capacity,
		file:     file,
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Push appends an operation, or fails with ErrQueueFull at capacity.
func (q *OfflineQueue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pq.Len() >= q.capacity {
		return ErrQueueFull
	}
	q.seq++
	q.pq.Enqueue(item, q.seq)
	return q.persist()
}

// PushAll appends items in order, stopping at the first failure.
func (q *OfflineQueue[T]) PushAll(items []T) error {
	for _, item := range items {
		if err := q.Push(item); err != nil {
			return err
		}
	}
	return nil
}

// Drain removes and returns every queued operation in submission order.
func (q *OfflineQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.pq.DequeueAll()
	_ = q.persist()
	return items
}

// Len reports how many operations are waiting.
func (q *OfflineQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Len()
}

// snapshot lists the queued items in order without removing them.
func (q *OfflineQueue[T]) snapshot() []T {
	items := q.pq.DequeueAll()
	for _, item := range items {
		q.seq++
		q.pq.Enqueue(item, q.seq)
	}
	return items
}

func (q *OfflineQueue[T]) persist() error {
	if q.file == "" {
		return nil
	}
	data, err := json.Marshal(q.snapshot())
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	return utils.WriteFileAtomic(q.file, data, 0o644)
}

func (q *OfflineQueue[T]) load() error {
	if q.file == "" {
		return nil
	}
	data, err := os.ReadFile(q.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read offline queue: %w", err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode offline queue: %w", err)
	}
	for _, item := range items {
		q.seq++
		q.pq.Enqueue(item, q.seq)
	}
	return nil
}
