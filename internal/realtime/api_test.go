// Realtime API tests in Deewan: full websocket round-trips through a gin server.

package realtime

import (
	"Deewan/internal/entity"
	"Deewan/internal/test"
	"Deewan/pkg/log"
	"Deewan/pkg/validations"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
)

// Global instance of log.Logger to be used during realtime testing.
var logger log.Logger

// Global instance of gin MockRouter to be used during realtime API testing.
var mockRouter *gin.Engine

// Shared realtime stack under test.
var (
	testHub     *Hub
	testRepo    *stubRepository
	testService Service
	testServer  *httptest.Server
	wsURL       string
)

// Global context
var ctx context.Context = context.Background()

// Initializes resources needed before realtime API tests.
func setup() {
	// Load test.env
	enverr := godotenv.Load("../../config/test.env")
	if enverr != nil {
		// Error during loading test.env, abort test run immediately
		os.Exit(4)
	}
	version := os.Getenv("VERSION")

	// Logger
	logger = log.New(version)

	// Adding custom validation tags into ext-package govalidator
	validations.RegisterCustomValidations(ctx, logger)
	RegisterCustomValidationTags(ctx, logger)

	// Realtime stack: hub event loop, in-memory presence mirror, dispatch service
	testHub = NewHub(logger)
	testRepo = newStubRepository()
	testService = NewService(testHub, testRepo, logger)
	go testHub.Run()

	// Mock router instance with the realtime handlers registered
	mockRouter = test.MockRouter(logger)
	APIHandlers(mockRouter, testService, testHub, []string{"*"}, logger)

	testServer = httptest.NewServer(mockRouter)
	wsURL = "ws" + strings.TrimPrefix(testServer.URL, "http") + "/api/realtime/ws"

	logger.Info().Msg("Test resources setup successful.")
}

// Cleans up the resources built during execution of setup()
func teardown() {
	logger.Info().Msg("Cleaning up resources ...")
	testServer.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	testHub.Close(shutdownCtx)
	logger.Info().Msg("Cleanup complete :)")
}

func TestMain(m *testing.M) {
	// Setting up Resources
	setup()
	// Running the tests
	testExitCode := m.Run()
	// Cleanup Resources
	teardown()
	// Exit
	os.Exit(testExitCode)
}

// Helper to open a websocket session against the test server.
func dialSession(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, dialerr := websocket.DefaultDialer.Dial(wsURL, nil)
	if dialerr != nil {
		t.Fatalf("couldn't dial %s: %v", wsURL, dialerr)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Helper to emit one frame over a raw test connection.
func wsEmit(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	frame, mrsherr := entity.NewFrame(event, payload)
	assert.NoError(t, mrsherr)
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// Helper to read frames until one carrying the wanted event arrives.
// Other events (e.g. presence updates from concurrent joins) are skipped.
func wsReceiveEvent(t *testing.T, conn *websocket.Conn, event string) entity.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, readerr := conn.ReadMessage()
		if readerr != nil {
			t.Fatalf("no %s frame arrived: %v", event, readerr)
		}
		var frame entity.Frame
		if mrsherr := json.Unmarshal(raw, &frame); mrsherr != nil {
			t.Fatalf("unparseable frame: %v", mrsherr)
		}
		if frame.Event == event {
			return frame
		}
	}
}

// Helper to assert that no frame with the given event reaches the connection.
func wsExpectNoEvent(t *testing.T, conn *websocket.Conn, event string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, raw, readerr := conn.ReadMessage()
		if readerr != nil {
			// Deadline hit without a matching frame
			return
		}
		var frame entity.Frame
		if json.Unmarshal(raw, &frame) == nil && frame.Event == event {
			t.Fatalf("unexpected %s frame: %s", event, raw)
		}
	}
}

// Helper to wait for a specific presence transition, skipping stray presence
// frames left over from neighbouring sessions.
func waitStatus(t *testing.T, conn *websocket.Conn, userID, status string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		frame := wsReceiveEvent(t, conn, entity.EventUserStatusChanged)
		var record entity.PresenceRecord
		assert.NoError(t, json.Unmarshal(frame.Data, &record))
		if record.UserID == userID && record.Status == status {
			return
		}
	}
}

// Helper to join a connection as userID and wait until the server processed
// it. The join is confirmed through the presence broadcast observed by witness.
func joinAs(t *testing.T, conn, witness *websocket.Conn, userID string) {
	t.Helper()
	wsEmit(t, conn, entity.EventJoinUser, entity.JoinPayload{UserID: userID})
	wsEmit(t, conn, entity.EventUserOnline, entity.JoinPayload{UserID: userID})
	waitStatus(t, witness, userID, entity.PresenceOnline)
}

func TestTargetedNotificationEndToEnd(t *testing.T) {
	sessionA := dialSession(t)
	sessionB := dialSession(t)
	sessionC := dialSession(t)
	joinAs(t, sessionB, sessionA, "42")
	joinAs(t, sessionC, sessionA, "7")

	wsEmit(t, sessionA, entity.EventSendNotification, entity.Notification{
		Kind:         entity.NotificationInfo,
		Title:        "مهمة جديدة",
		Message:      "تم إسناد مهمة جديدة إليك",
		TargetUserID: "42",
	})

	frame := wsReceiveEvent(t, sessionB, entity.EventNewNotification)
	var received entity.Notification
	assert.NoError(t, json.Unmarshal(frame.Data, &received))
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.CreatedAt.IsZero())
	assert.Equal(t, "مهمة جديدة", received.Title)
	assert.Equal(t, "تم إسناد مهمة جديدة إليك", received.Message)

	wsExpectNoEvent(t, sessionC, entity.EventNewNotification)
	wsExpectNoEvent(t, sessionA, entity.EventNewNotification)
}

func TestActivityBroadcastEndToEnd(t *testing.T) {
	sessionA := dialSession(t)
	sessionB := dialSession(t)
	sessionC := dialSession(t)
	joinAs(t, sessionA, sessionB, "A")

	wsEmit(t, sessionA, entity.EventUserActivity, entity.UserActivity{
		UserID:   "A",
		Action:   "created",
		Entity:   "task",
		EntityID: "t1",
	})

	for _, peer := range []*websocket.Conn{sessionB, sessionC} {
		frame := wsReceiveEvent(t, peer, entity.EventActivityUpdate)
		var activity entity.UserActivity
		assert.NoError(t, json.Unmarshal(frame.Data, &activity))
		assert.Equal(t, "created", activity.Action)
		assert.Equal(t, "t1", activity.EntityID)
		assert.False(t, activity.Timestamp.IsZero())
		// Exactly one copy per peer
		wsExpectNoEvent(t, peer, entity.EventActivityUpdate)
	}
	wsExpectNoEvent(t, sessionA, entity.EventActivityUpdate)
}

func TestReconnectRestoresRoomMembership(t *testing.T) {
	witness := dialSession(t)
	sender := dialSession(t)

	dropped, _, dialerr := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, dialerr)
	joinAs(t, dropped, witness, "42")
	// Hard drop, as a closed tab or network cut would look to the server
	dropped.Close()
	// The server notices and broadcasts the implicit offline update
	waitStatus(t, witness, "42", entity.PresenceOffline)

	// Reconnect and re-supply the same identity
	reconnected := dialSession(t)
	joinAs(t, reconnected, witness, "42")

	wsEmit(t, sender, entity.EventSendNotification, entity.Notification{
		Kind:         entity.NotificationSuccess,
		Title:        "welcome back",
		Message:      "membership restored",
		TargetUserID: "42",
	})
	frame := wsReceiveEvent(t, reconnected, entity.EventNewNotification)
	var received entity.Notification
	assert.NoError(t, json.Unmarshal(frame.Data, &received))
	assert.Equal(t, "welcome back", received.Title)
}

func TestOnlineUsersEndpoint(t *testing.T) {
	testRepo.SetPresence(ctx, logger, entity.PresenceRecord{UserID: "u77", Status: entity.PresenceOnline, Timestamp: time.Now()})

	request := test.RequestAPITest{
		Method:       http.MethodGet,
		Path:         "/api/realtime/online",
		Body:         bytes.NewReader([]byte{}),
		WantResponse: []int{http.StatusOK},
	}
	w := test.ExecuteAPITest(logger, t, mockRouter, request)
	assert.Contains(t, w.Body.String(), "u77")
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	// Separate router with a restrictive allowlist
	router := gin.New()
	APIHandlers(router, testService, testHub, []string{"http://dashboard.internal"}, logger)
	server := httptest.NewServer(router)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/realtime/ws"

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, dialerr := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, dialerr)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	// The allowlisted origin passes the handshake
	header.Set("Origin", "http://dashboard.internal")
	conn, _, dialerr := websocket.DefaultDialer.Dial(url, header)
	assert.NoError(t, dialerr)
	if conn != nil {
		conn.Close()
	}
}
