package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/questline/api/internal/store"
)

// ExpirySweeper periodically closes sessions past their 48h lifetime or the
// post-completion grace. The lazy check applied on every session read stays
// authoritative; the sweeper only keeps the table tidy between reads, so
// observable contracts do not depend on it running.
type ExpirySweeper struct {
	store    *store.Store
	interval time.Duration
	running  bool
	swept    int64
	lastRun  time.Time
	mu       sync.Mutex
	stopChan chan struct{}
}

func NewExpirySweeper(s *store.Store, interval time.Duration) *ExpirySweeper {
	if interval == 0 {
		interval = 5 * time.Minute
	}

	return &ExpirySweeper{
		store:    s,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[Sweeper] Starting with interval %v", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Context cancelled, stopping")
			return
		case <-s.stopChan:
			log.Println("[Sweeper] Stop signal received")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		close(s.stopChan)
		s.running = false
		log.Println("[Sweeper] Stopped")
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	closed, err := s.store.CloseExpired(ctx)
	if err != nil {
		log.Printf("[Sweeper] Sweep failed: %v", err)
		return
	}
	if closed > 0 {
		log.Printf("[Sweeper] Closed %d expired sessions", closed)
	}

	s.mu.Lock()
	s.swept += closed
	s.lastRun = time.Now()
	s.mu.Unlock()
}

// GetStatus returns current sweeper status
func (s *ExpirySweeper) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"running":  s.running,
		"interval": s.interval.String(),
		"swept":    s.swept,
		"lastRun":  s.lastRun,
	}
}
