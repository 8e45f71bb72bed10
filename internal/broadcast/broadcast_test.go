package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/questline/api/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BroadcastTestSuite struct {
	suite.Suite
	mr          *miniredis.Miniredis
	client      *redis.Client
	broadcaster *Broadcaster
	ctx         context.Context
	cancel      context.CancelFunc
}

func (s *BroadcastTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr

	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.broadcaster = NewWithClient(s.client)
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *BroadcastTestSuite) TearDownTest() {
	s.cancel()
	s.client.Close()
	s.mr.Close()
}

func TestBroadcastTestSuite(t *testing.T) {
	suite.Run(t, new(BroadcastTestSuite))
}

func receive(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	select {
	case update, ok := <-updates:
		require.True(t, ok, "updates channel closed early")
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func (s *BroadcastTestSuite) TestPublishReachesSubscriber() {
	sub := s.broadcaster.Subscribe(s.ctx, "sess-1")
	defer sub.Close()

	node2 := "node2"
	err := s.broadcaster.Publish(s.ctx, Update{
		SessionID:          "sess-1",
		CurrentChallengeID: &node2,
		SkipCount:          1,
		Finished:           false,
	})
	s.Require().NoError(err)

	update := receive(s.T(), sub.Updates())
	s.Equal("sess-1", update.SessionID)
	s.Equal("node2", *update.CurrentChallengeID)
	s.Equal(1, update.SkipCount)
}

func (s *BroadcastTestSuite) TestChannelsArePerSession() {
	sub := s.broadcaster.Subscribe(s.ctx, "sess-1")
	defer sub.Close()

	s.Require().NoError(s.broadcaster.Publish(s.ctx, Update{SessionID: "sess-other"}))
	s.Require().NoError(s.broadcaster.Publish(s.ctx, Update{SessionID: "sess-1"}))

	update := receive(s.T(), sub.Updates())
	s.Equal("sess-1", update.SessionID)
}

func (s *BroadcastTestSuite) TestPublishFailureSurfacesToCaller() {
	s.mr.Close()

	err := s.broadcaster.Publish(s.ctx, Update{SessionID: "sess-1"})
	// The engine logs and swallows this; the contract here is only that the
	// failure is reported, never panics.
	s.Error(err)
}

func (s *BroadcastTestSuite) TestUpdateFor() {
	node3 := "node3"
	completed := time.Now()
	update := UpdateFor(&model.Session{
		ID:                 "sess-9",
		CurrentChallengeID: &node3,
		SkipCount:          2,
		Finished:           true,
		CompletedAt:        &completed,
	})

	s.Equal("sess-9", update.SessionID)
	s.Equal("node3", *update.CurrentChallengeID)
	s.Equal(2, update.SkipCount)
	s.True(update.Finished)
}
