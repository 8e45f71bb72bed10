package reconciler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/questline/api/internal/broadcast"
)

const (
	DefaultPollInterval = 30 * time.Second
	// DefaultFreshness skips a scheduled poll when a push landed this
	// recently. Below the poll interval, so a silent push channel still
	// converges within roughly one poll.
	DefaultFreshness = 25 * time.Second
)

// Status is the device-relevant slice of the session-status endpoint.
type Status struct {
	Active             bool    `json:"active"`
	Finished           bool    `json:"finished"`
	CurrentChallengeID *string `json:"currentChallengeId"`
}

// Fetcher re-reads session state from the server, the poll half of the
// dual-path sync.
type Fetcher interface {
	FetchStatus(ctx context.Context) (*Status, error)
}

type Config struct {
	Fetcher Fetcher
	// OnRedirect is invoked with the server's current challenge id whenever
	// the device's rendered view has diverged from it.
	OnRedirect   func(challengeID string)
	PollInterval time.Duration
	Freshness    time.Duration
	Now          func() time.Time
}

// Reconciler keeps one device's view converged with server truth. Push
// updates are applied as they arrive; a backup poll covers lost pushes. The
// freshness gate bounds redundant reads while push is healthy.
type Reconciler struct {
	fetcher      Fetcher
	onRedirect   func(string)
	pollInterval time.Duration
	freshness    time.Duration
	now          func() time.Time

	mu       sync.Mutex
	viewID   string
	lastPush time.Time
}

func New(cfg Config) *Reconciler {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Freshness == 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		fetcher:      cfg.Fetcher,
		onRedirect:   cfg.OnRedirect,
		pollInterval: cfg.PollInterval,
		freshness:    cfg.Freshness,
		now:          cfg.Now,
	}
}

// SetView records the challenge the device currently renders.
func (r *Reconciler) SetView(challengeID string) {
	r.mu.Lock()
	r.viewID = challengeID
	r.mu.Unlock()
}

// ApplyPush feeds a pushed update into the reconciler, refreshing the
// freshness window and redirecting on divergence.
func (r *Reconciler) ApplyPush(update broadcast.Update) {
	r.mu.Lock()
	r.lastPush = r.now()
	r.mu.Unlock()

	if update.CurrentChallengeID != nil {
		r.reconcile(*update.CurrentChallengeID)
	}
}

// Run polls until the context is cancelled. A scheduled poll is skipped when
// a push-confirmed update is fresher than the threshold.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PollOnce(ctx)
		}
	}
}

// PollOnce performs one backup poll cycle. Exposed for the tick loop and for
// tests; fetch failures are logged and retried on the next tick.
func (r *Reconciler) PollOnce(ctx context.Context) {
	r.mu.Lock()
	fresh := r.now().Sub(r.lastPush) < r.freshness
	r.mu.Unlock()
	if fresh {
		return
	}

	status, err := r.fetcher.FetchStatus(ctx)
	if err != nil {
		log.Printf("[Reconciler] Poll failed: %v", err)
		return
	}
	if status.CurrentChallengeID != nil {
		r.reconcile(*status.CurrentChallengeID)
	}
}

func (r *Reconciler) reconcile(serverCurrentID string) {
	r.mu.Lock()
	diverged := r.viewID != serverCurrentID
	if diverged {
		r.viewID = serverCurrentID
	}
	r.mu.Unlock()

	if diverged && r.onRedirect != nil {
		r.onRedirect(serverCurrentID)
	}
}

// Listen consumes the server's websocket push channel, feeding every update
// through ApplyPush until the context ends or the connection drops. The
// caller is expected to keep Run going regardless; polling is the safety
// net when this returns early.
func (r *Reconciler) Listen(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var update broadcast.Update
		if err := json.Unmarshal(payload, &update); err != nil {
			log.Printf("[Reconciler] Discarding malformed push: %v", err)
			continue
		}
		r.ApplyPush(update)
	}
}
