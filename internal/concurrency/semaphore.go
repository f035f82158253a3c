package concurrency

import (
	"context"
	"sync"
)

// Semaphore bounds the number of concurrent callers holding a slot. It backs
// the fixed-width fan-out of the indexing orchestrator, the wiki page
// generator, the checklist analyzer, and the per-model LLM client throttle.
type Semaphore struct {
	ch      chan struct{}
	mu      sync.Mutex
	current int
}

func NewSemaphore(max int) *Semaphore {
	return &Semaphore{
		ch: make(chan struct{}, max),
	}
}

func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		s.mu.Lock()
		s.current++
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) Release() {
	select {
	case <-s.ch:
		s.mu.Lock()
		if s.current > 0 {
			s.current--
		}
		s.mu.Unlock()
	default:
	}
}
