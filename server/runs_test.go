package server

import (
	"testing"
	"time"
)

func TestRunStore(t *testing.T) {
	s := NewRunStore()
	id := s.NewID()
	if id == s.NewID() {
		t.Fatal("NewID repeated itself")
	}

	s.Put(&RunResponse{ID: id, Output: []byte("x")})
	got, ok := s.Lookup(id)
	if !ok || string(got.Output) != "x" {
		t.Errorf("Lookup = %+v, %v", got, ok)
	}
	if _, ok := s.Lookup("nope"); ok {
		t.Error("malformed ID found")
	}
	if _, ok := s.Lookup(s.NewID()); ok {
		t.Error("unknown ID found")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestRunStoreSweep(t *testing.T) {
	s := NewRunStore()
	old, fresh := s.NewID(), s.NewID()
	s.Put(&RunResponse{ID: old})
	s.Put(&RunResponse{ID: fresh})
	s.runs[old].lastUsed = time.Now().Add(-time.Hour)

	if n := s.Sweep(time.Minute); n != 1 {
		t.Errorf("swept %d runs, want 1", n)
	}
	if _, ok := s.Lookup(old); ok {
		t.Error("stale run survived")
	}
	if _, ok := s.Lookup(fresh); !ok {
		t.Error("fresh run swept")
	}
}

func TestRunStoreSweeper(t *testing.T) {
	s := NewRunStore()
	id := s.NewID()
	s.Put(&RunResponse{ID: id})
	s.mu.Lock()
	s.runs[id].lastUsed = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	stop := s.StartSweeper(time.Millisecond, time.Minute)
	defer stop()

	deadline := time.Now().Add(time.Second)
	for s.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never ran")
		}
		time.Sleep(time.Millisecond)
	}
}
