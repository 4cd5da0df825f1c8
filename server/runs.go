package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// run is a finished playground execution kept for later retrieval.
type run struct {
	result   *RunResponse
	created  time.Time
	lastUsed time.Time
}

// RunStore maps run IDs to finished results.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*run
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*run)}
}

// NewID returns a fresh run ID.
func (s *RunStore) NewID() string {
	return uuid.NewString()
}

// Put records the result under its ID.
func (s *RunStore) Put(res *RunResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.runs[res.ID] = &run{result: res, created: now, lastUsed: now}
}

// Lookup retrieves the result for a run. Returns nil and false if the run
// is unknown or has been swept.
func (s *RunStore) Lookup(id string) (*RunResponse, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	r.lastUsed = time.Now()
	return r.result, true
}

// Len returns the number of stored runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Sweep removes runs that haven't been accessed within the TTL.
func (s *RunStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, r := range s.runs {
		if r.lastUsed.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *RunStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Debugf("swept %d runs", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
