package sync

import (
	"log/slog"
	"sync"
)

// Summary tallies one sync pass. Batches record into it concurrently;
// read the counters only after the pass has finished.
type Summary struct {
	mu sync.Mutex

	Processed  int
	Succeeded  int
	Failed     int
	Conflicted int

	Errors map[string]error
}

func NewSummary() *Summary {
	return &Summary{Errors: make(map[string]error)}
}

// Record tallies one finished operation.
func (s *Summary) Record(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Processed++
	if err != nil {
		s.Failed++
		s.Errors[path] = err
		return
	}
	s.Succeeded++
}

// RecordConflict tallies a divergence encountered during the pass,
// whatever its resolution turns out to be.
func (s *Summary) RecordConflict(path string) {
	s.mu.Lock()
	s.Conflicted++
	s.mu.Unlock()
}

// Err returns the failure recorded for a path, nil if it succeeded.
func (s *Summary) Err(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Errors[path]
}

func (s *Summary) LogValue() slog.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slog.GroupValue(
		slog.Int("processed", s.Processed),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("conflicted", s.Conflicted),
	)
}
