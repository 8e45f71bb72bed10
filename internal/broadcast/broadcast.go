package broadcast

import (
	"context"
	"encoding/json"
	"log"

	"github.com/questline/api/internal/model"
	"github.com/redis/go-redis/v9"
)

// Update is the payload fanned out after every committed progression
// transition. It is a hint: the session row is the source of truth, and
// clients that miss an update converge through the backup poll.
type Update struct {
	SessionID          string  `json:"sessionId"`
	CurrentChallengeID *string `json:"currentChallengeId"`
	SkipCount          int     `json:"skipCount"`
	Finished           bool    `json:"finished"`
}

func channelFor(sessionID string) string {
	return "session:" + sessionID
}

// Broadcaster publishes session updates on per-session Redis channels.
type Broadcaster struct {
	client *redis.Client
}

func New(redisURL string) (*Broadcaster, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Printf("Connected to Redis at %s", redisURL)
	return &Broadcaster{client: client}, nil
}

// NewWithClient wraps an existing client (tests, shared pools).
func NewWithClient(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client}
}

// Client exposes the underlying connection for collaborators that share it.
func (b *Broadcaster) Client() *redis.Client {
	return b.client
}

// Publish sends an update for the session. Callers treat a failure as
// log-and-continue: the state write already committed and polling covers
// delivery.
func (b *Broadcaster) Publish(ctx context.Context, update Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(update.SessionID), payload).Err()
}

// UpdateFor builds the broadcast payload from a committed session row.
func UpdateFor(session *model.Session) Update {
	return Update{
		SessionID:          session.ID,
		CurrentChallengeID: session.CurrentChallengeID,
		SkipCount:          session.SkipCount,
		Finished:           session.Finished,
	}
}

// Subscription is one listener on a session's channel.
type Subscription struct {
	pubsub  *redis.PubSub
	updates chan Update
}

// Subscribe starts listening for a session's updates. The returned channel
// closes when the context is cancelled or Close is called. Malformed
// payloads are dropped.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *Subscription {
	pubsub := b.client.Subscribe(ctx, channelFor(sessionID))
	updates := make(chan Update, 8)

	go func() {
		defer close(updates)
		for msg := range pubsub.Channel() {
			var update Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				log.Printf("[Broadcast] Discarding malformed update on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{pubsub: pubsub, updates: updates}
}

func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (b *Broadcaster) Close() error {
	return b.client.Close()
}
