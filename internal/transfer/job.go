package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job tracks one transfer of one version's content. The manager is the only
// writer; everything exported here is safe to read while the job runs.
type Job struct {
	ID        string
	Hash      string
	Path      string
	Size      int64
	ChunkSize int64
	Chunks    int
	Direction Direction
	StartedAt time.Time

	mu        sync.Mutex
	status    Status
	attempts  int
	completed map[int]bool
}

func newJob(direction Direction, hash, path string, size, chunkSize int64) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Hash:      hash,
		Path:      path,
		Size:      size,
		ChunkSize: chunkSize,
		Chunks:    chunkCount(size, chunkSize),
		Direction: direction,
		StartedAt: time.Now().UTC(),
		status:    StatusQueued,
		completed: make(map[int]bool),
	}
}

// Status returns the job's lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Attempts counts how many times the job has been started.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

func (j *Job) addAttempt() {
	j.mu.Lock()
	j.attempts++
	j.mu.Unlock()
}

// Missing lists the chunk indices not yet transferred, ascending.
func (j *Job) Missing() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	missing := make([]int, 0, j.Chunks-len(j.completed))
	for i := 0; i < j.Chunks; i++ {
		if !j.completed[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// Completed counts the chunks already transferred.
func (j *Job) Completed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.completed)
}

// CompletedBytes sums the size of every transferred chunk.
func (j *Job) CompletedBytes() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	var total int64
	for i := range j.completed {
		_, length := chunkSpan(i, j.Size, j.ChunkSize)
		total += length
	}
	return total
}

func (j *Job) markCompleted(index int) {
	j.mu.Lock()
	j.completed[index] = true
	j.mu.Unlock()
}

func (j *Job) resetProgress() {
	j.mu.Lock()
	j.completed = make(map[int]bool)
	j.mu.Unlock()
}

// adoptProgress seeds the completed set from a persisted session.
func (j *Job) adoptProgress(completed map[int]bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, done := range completed {
		if done && i >= 0 && i < j.Chunks {
			j.completed[i] = true
		}
	}
}

func (j *Job) completedSet() map[int]bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	set := make(map[int]bool, len(j.completed))
	for i := range j.completed {
		set[i] = true
	}
	return set
}

// ref builds the wire address of one of the job's chunks.
func (j *Job) ref(index int) ChunkRef {
	return ChunkRef{Hash: j.Hash, Index: index, Count: j.Chunks}
}
