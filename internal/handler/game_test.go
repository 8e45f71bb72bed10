package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/questline/api/internal/client"
	"github.com/questline/api/internal/model"
	"github.com/questline/api/internal/progression"
	"github.com/questline/api/internal/store"
	"github.com/questline/api/internal/validator"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testFrontend = "http://frontend.test"

type HandlerTestSuite struct {
	suite.Suite
	db          *gorm.DB
	store       *store.Store
	engine      *progression.Engine
	codes       *validator.CodeValidator
	router      *gin.Engine
	testNow     time.Time
	ctx         context.Context
	hoursServer *httptest.Server
	hoursStatus client.Availability
}

func (s *HandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(s.T().TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	s.db = db
	s.Require().NoError(db.AutoMigrate(
		&model.Track{}, &model.Challenge{}, &model.Session{}, &model.Membership{},
	))

	s.testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return s.testNow }
	s.store = store.NewWithClock(db, now)
	s.engine = progression.NewEngineWithClock(s.store, nil, now)
	s.codes = validator.NewCodeValidatorWithClock("test-secret", now)
	s.ctx = context.Background()

	s.hoursStatus = client.Availability{Status: client.StatusOpen}
	s.hoursServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(s.hoursStatus)
	}))
	availability := client.NewAvailabilityClient(s.hoursServer.URL, nil)

	gameHandler := NewGameHandler(s.store, s.engine, availability)
	scanHandler := NewScanHandler(s.store, s.engine, s.codes, testFrontend)
	paymentHandler := NewPaymentHandler(s.store, s.engine)

	r := gin.New()
	// Auth stand-in: the JWT middleware's only contract with handlers is the
	// userID context key.
	testAuth := func(c *gin.Context) {
		if raw := c.GetHeader("X-User-ID"); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			c.Set("userID", id)
		}
		c.Next()
	}
	r.GET("/scan/:challengeRef", testAuth, scanHandler.Scan)
	r.POST("/webhooks/payment", paymentHandler.Webhook)
	api := r.Group("/api", testAuth)
	{
		api.POST("/game/answer", gameHandler.Answer)
		api.POST("/game/skip", gameHandler.Skip)
		api.POST("/game/start", gameHandler.Start)
		api.GET("/game/status", gameHandler.Status)
		api.POST("/sessions/join", gameHandler.Join)
	}
	s.router = r

	s.seed()
}

func (s *HandlerTestSuite) TearDownTest() {
	s.hoursServer.Close()
}

func (s *HandlerTestSuite) seed() {
	s.Require().NoError(s.db.Create(&model.Track{ID: "track-1", Name: "Test Track"}).Error)
	node2 := "node2"
	node3 := "node3"
	challenges := []model.Challenge{
		{ID: "node1", TrackID: "track-1", OrderIndex: 1, NextID: &node2, Answer: "one", LocationRef: "loc-1"},
		{ID: "node2", TrackID: "track-1", OrderIndex: 2, NextID: &node3, Answer: "two", LocationRef: "loc-2"},
		{ID: "node3", TrackID: "track-1", OrderIndex: 3, NextID: nil, Answer: "three", LocationRef: "loc-3"},
	}
	for i := range challenges {
		s.Require().NoError(s.db.Create(&challenges[i]).Error)
	}

	node1 := "node1"
	expires := s.testNow.Add(model.SessionLifetime)
	s.Require().NoError(s.store.CreateSession(s.ctx, &model.Session{
		ID: "sess-1", TrackID: "track-1", CurrentChallengeID: &node1,
		Paid: true, Started: true, Active: true, PlayerLimit: 3,
		PaidAt: &s.testNow, ExpiresAt: &expires,
	}))
	s.Require().NoError(s.store.AddMember(s.ctx, &model.Membership{ID: "m1", SessionID: "sess-1", UserID: 1, IsLeader: true}))
	s.Require().NoError(s.store.AddMember(s.ctx, &model.Membership{ID: "m2", SessionID: "sess-1", UserID: 2}))
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) do(method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *HandlerTestSuite) TestAnswerCorrect() {
	w := s.do("POST", "/api/game/answer", 2, gin.H{
		"believedCurrentChallengeId": "node1",
		"answerText":                 " One ",
	})

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal(true, body["correct"])
	s.Equal("node2", body["currentChallengeId"])
}

func (s *HandlerTestSuite) TestAnswerWrong() {
	w := s.do("POST", "/api/game/answer", 2, gin.H{
		"believedCurrentChallengeId": "node1",
		"answerText":                 "monkey",
	})

	s.Equal(http.StatusOK, w.Code)
	s.Equal(false, s.decode(w)["correct"])
}

func (s *HandlerTestSuite) TestAnswerStaleBeliefConflicts() {
	// The team already moved to node2.
	s.Require().NoError(s.db.Model(&model.Session{}).Where("id = ?", "sess-1").
		Update("current_challenge_id", "node2").Error)

	w := s.do("POST", "/api/game/answer", 2, gin.H{
		"believedCurrentChallengeId": "node1",
		"answerText":                 "one",
	})

	s.Equal(http.StatusConflict, w.Code)
	s.Equal("node2", s.decode(w)["serverCurrentChallengeId"])
}

func (s *HandlerTestSuite) TestSkipAsLeader() {
	w := s.do("POST", "/api/game/skip", 1, gin.H{"emergency": false})

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("node2", body["nextChallengeId"])
	s.Equal(float64(1), body["skipCount"])
	s.Equal(false, body["completed"])
}

func (s *HandlerTestSuite) TestSkipAsMemberDenied() {
	w := s.do("POST", "/api/game/skip", 2, gin.H{"emergency": false})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *HandlerTestSuite) TestEmergencySkipWhenClosed() {
	s.hoursStatus = client.Availability{Status: client.StatusClosed}

	w := s.do("POST", "/api/game/skip", 2, gin.H{"emergency": true})
	s.Equal(http.StatusOK, w.Code)
	s.Equal("node2", s.decode(w)["nextChallengeId"])
}

func (s *HandlerTestSuite) TestEmergencySkipWhenOpenDenied() {
	s.hoursStatus = client.Availability{Status: client.StatusOpen}

	w := s.do("POST", "/api/game/skip", 2, gin.H{"emergency": true})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *HandlerTestSuite) TestEmergencySkipWithSignalDownDenied() {
	s.hoursServer.Close()

	w := s.do("POST", "/api/game/skip", 2, gin.H{"emergency": true})
	// The availability failure is swallowed; the request fails only the
	// authorization, not the transport.
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *HandlerTestSuite) TestStartResets() {
	s.Require().NoError(s.db.Model(&model.Session{}).Where("id = ?", "sess-1").
		Updates(map[string]interface{}{"current_challenge_id": "node2", "skip_count": 2}).Error)

	w := s.do("POST", "/api/game/start", 1, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("node1", s.decode(w)["currentChallengeId"])
}

func (s *HandlerTestSuite) TestStartNonLeaderForbidden() {
	w := s.do("POST", "/api/game/start", 2, nil)
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *HandlerTestSuite) TestStatus() {
	w := s.do("GET", "/api/game/status?sessionId=sess-1", 1, nil)

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal(true, body["active"])
	s.Equal(true, body["paid"])
	s.Equal(false, body["finished"])
	s.Equal("node1", body["currentChallengeId"])
	s.Equal(true, body["isLeader"])
}

func (s *HandlerTestSuite) TestStatusNotMember() {
	w := s.do("GET", "/api/game/status?sessionId=sess-1", 42, nil)
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("not_member", s.decode(w)["reason"])
}

func (s *HandlerTestSuite) TestStatusExpiredSession() {
	s.testNow = s.testNow.Add(model.SessionLifetime + time.Hour)

	w := s.do("GET", "/api/game/status?sessionId=sess-1", 1, nil)
	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal(false, body["active"])
	s.Equal("expired", body["reason"])
}

func (s *HandlerTestSuite) TestJoinUpToLimit() {
	w := s.do("POST", "/api/sessions/join", 3, gin.H{"sessionId": "sess-1"})
	s.Equal(http.StatusCreated, w.Code)

	// Limit is 3; the fourth player bounces.
	w = s.do("POST", "/api/sessions/join", 4, gin.H{"sessionId": "sess-1"})
	s.Equal(http.StatusConflict, w.Code)

	// Re-joining is idempotent.
	w = s.do("POST", "/api/sessions/join", 3, gin.H{"sessionId": "sess-1"})
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerTestSuite) TestPaymentWebhookCreatesSession() {
	w := s.do("POST", "/webhooks/payment", 0, gin.H{
		"userId":      9,
		"trackId":     "track-1",
		"teamName":    "webhook crew",
		"playerCount": 5,
	})

	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	sessionID := body["sessionId"].(string)
	s.Equal("node1", body["currentChallengeId"])

	session, err := s.store.GetSession(s.ctx, sessionID)
	s.Require().NoError(err)
	s.True(session.Paid)
	s.False(session.Started)
	s.Equal("webhook crew", session.TeamName)

	membership, err := s.store.GetMembership(s.ctx, sessionID, 9)
	s.Require().NoError(err)
	s.True(membership.IsLeader)
}

func (s *HandlerTestSuite) TestPaymentWebhookRedelivery() {
	w := s.do("POST", "/webhooks/payment", 0, gin.H{"userId": 9, "trackId": "track-1"})
	s.Equal(http.StatusOK, w.Code)
	sessionID := s.decode(w)["sessionId"].(string)

	w = s.do("POST", "/webhooks/payment", 0, gin.H{"userId": 9, "sessionId": sessionID})
	s.Equal(http.StatusOK, w.Code)

	count, err := s.store.CountMembers(s.ctx, sessionID)
	s.Require().NoError(err)
	s.EqualValues(1, count)
}

func (s *HandlerTestSuite) scanURL(challengeID string, issuedAt time.Time) string {
	token := s.codes.Generate(challengeID, issuedAt)
	return "/scan/" + challengeID + "?token=" + token + "&issuedAt=" + strconv.FormatInt(issuedAt.Unix(), 10)
}

func (s *HandlerTestSuite) TestScanWithBadTokenRedirectsUnauthorized() {
	w := s.do("GET", "/scan/node1?token=bogus&issuedAt="+strconv.FormatInt(s.testNow.Unix(), 10), 2, nil)

	s.Equal(http.StatusFound, w.Code)
	s.Equal(testFrontend+"/unauthorized?reason=invalid_token", w.Header().Get("Location"))
}

func (s *HandlerTestSuite) TestScanWithoutUserRedirectsNoSession() {
	w := s.do("GET", s.scanURL("node1", s.testNow.Add(-time.Hour)), 0, nil)

	s.Equal(http.StatusFound, w.Code)
	s.Equal(testFrontend+"/unauthorized?reason=no_session", w.Header().Get("Location"))
}

func (s *HandlerTestSuite) TestScanAdvances() {
	w := s.do("GET", s.scanURL("node2", s.testNow.Add(-time.Hour)), 2, nil)

	s.Equal(http.StatusFound, w.Code)
	s.Equal(testFrontend+"/challenge/node2", w.Header().Get("Location"))

	session, err := s.store.GetSession(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal("node2", *session.CurrentChallengeID)
}

func (s *HandlerTestSuite) TestScanSkipAheadRejected() {
	w := s.do("GET", s.scanURL("node3", s.testNow.Add(-time.Hour)), 2, nil)

	s.Equal(http.StatusFound, w.Code)
	s.Equal(testFrontend+"/unauthorized?reason=skip_ahead", w.Header().Get("Location"))

	session, err := s.store.GetSession(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal("node1", *session.CurrentChallengeID)
}

func (s *HandlerTestSuite) TestScanStaleRedirectsToTrueCurrent() {
	s.Require().NoError(s.db.Model(&model.Session{}).Where("id = ?", "sess-1").
		Update("current_challenge_id", "node2").Error)

	w := s.do("GET", s.scanURL("node1", s.testNow.Add(-time.Hour)), 2, nil)

	// Never a dead end: the device is sent to where the team actually is.
	s.Equal(http.StatusFound, w.Code)
	s.Equal(testFrontend+"/challenge/node2", w.Header().Get("Location"))
}

func (s *HandlerTestSuite) TestScanUnknownChallengeWrongLocation() {
	w := s.do("GET", s.scanURL("node-retired", s.testNow.Add(-time.Hour)), 2, nil)

	s.Equal(http.StatusFound, w.Code)
	s.Equal(testFrontend+"/unauthorized?reason=wrong_location", w.Header().Get("Location"))
}
