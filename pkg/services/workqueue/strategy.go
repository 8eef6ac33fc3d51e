package workqueue

import "sync"

// ConcurrencyStrategy decides which pending tasks may start.
type ConcurrencyStrategy interface {
	// CanStart reports whether a task for key may start now.
	CanStart(key string) bool
	// OnStart is called when a task for key starts.
	OnStart(key string)
	// OnComplete is called when a task for key reaches a terminal state.
	OnComplete(key string)
}

// ============================================================================
// GlobalSerialStrategy - one task at a time across all collections
// ============================================================================

// GlobalSerialStrategy runs a single task at a time regardless of key.
// This is the default: no two documents are ever ingested concurrently.
type GlobalSerialStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewGlobalSerialStrategy creates the default strategy.
func NewGlobalSerialStrategy() *GlobalSerialStrategy {
	return &GlobalSerialStrategy{}
}

func (s *GlobalSerialStrategy) CanStart(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *GlobalSerialStrategy) OnStart(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *GlobalSerialStrategy) OnComplete(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ============================================================================
// PerKeyStrategy - one task per collection, collections in parallel
// ============================================================================

// PerKeyStrategy serializes tasks that share a key and lets different keys
// run in parallel, up to maxConcurrent in total (0 means unlimited).
type PerKeyStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       map[string]bool
}

// NewPerKeyStrategy creates a per-collection strategy.
func NewPerKeyStrategy(maxConcurrent int) *PerKeyStrategy {
	if maxConcurrent < 0 {
		maxConcurrent = 0
	}
	return &PerKeyStrategy{
		maxConcurrent: maxConcurrent,
		running:       make(map[string]bool),
	}
}

func (s *PerKeyStrategy) CanStart(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[key] {
		return false
	}
	return s.maxConcurrent == 0 || len(s.running) < s.maxConcurrent
}

func (s *PerKeyStrategy) OnStart(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[key] = true
}

func (s *PerKeyStrategy) OnComplete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}
