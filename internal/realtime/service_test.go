// Dispatch service tests in Deewan realtime.

package realtime

import (
	"Deewan/internal/entity"
	"Deewan/pkg/log"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubRepository is an in-memory stand-in for the Redis presence mirror,
// keeping tests independent of a running redis-server.
type stubRepository struct {
	mu      sync.Mutex
	records map[string]entity.PresenceRecord
	online  map[string]struct{}
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		records: make(map[string]entity.PresenceRecord),
		online:  make(map[string]struct{}),
	}
}

func (r *stubRepository) SetPresence(ctx context.Context, logger log.Logger, record entity.PresenceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.UserID] = record
	if record.Status == entity.PresenceOnline {
		r.online[record.UserID] = struct{}{}
	} else {
		delete(r.online, record.UserID)
	}
	return nil
}

func (r *stubRepository) RemovePresence(ctx context.Context, logger log.Logger, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, userID)
	delete(r.online, userID)
	return nil
}

func (r *stubRepository) GetOnlineUsers(ctx context.Context, logger log.Logger) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := []string{}
	for userID := range r.online {
		users = append(users, userID)
	}
	return users, nil
}

func (r *stubRepository) presenceOf(userID string) (entity.PresenceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[userID]
	return record, ok
}

// Helper to wire a fresh hub + stub repo + service for one test.
func startService(t *testing.T) (Service, *Hub, *stubRepository) {
	hub := startHub(t)
	repo := newStubRepository()
	return NewService(hub, repo, logger), hub, repo
}

// Helper to hand a marshalled frame to the service the way the read pump would.
func handle(t *testing.T, service Service, session *Session, event string, payload interface{}) {
	t.Helper()
	frame, mrsherr := entity.NewFrame(event, payload)
	assert.NoError(t, mrsherr)
	service.HandleFrame(context.Background(), session, frame)
}

func TestTargetedNotificationReachesOnlyTargetRoom(t *testing.T) {
	service, hub, _ := startService(t)
	sender := addSession(hub, "sA")
	target := addSession(hub, "sB")
	other := addSession(hub, "sC")
	handle(t, service, target, entity.EventJoinUser, entity.JoinPayload{UserID: "42"})
	handle(t, service, other, entity.EventJoinUser, entity.JoinPayload{UserID: "7"})

	handle(t, service, sender, entity.EventSendNotification, entity.Notification{
		Kind:         entity.NotificationInfo,
		Title:        "مهمة جديدة",
		Message:      "تم إسناد مهمة جديدة إليك",
		TargetUserID: "42",
	})

	frame := receiveFrame(t, target)
	assert.Equal(t, entity.EventNewNotification, frame.Event)
	var received entity.Notification
	assert.NoError(t, json.Unmarshal(frame.Data, &received))
	// Dispatcher assigns id and timestamp, payload fields pass through
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.CreatedAt.IsZero())
	assert.Equal(t, "مهمة جديدة", received.Title)
	assert.Equal(t, "تم إسناد مهمة جديدة إليك", received.Message)

	expectNoFrame(t, other)
	expectNoFrame(t, sender)
}

func TestUntargetedNotificationBroadcastsToAllOthers(t *testing.T) {
	service, hub, _ := startService(t)
	sender := addSession(hub, "sA")
	peerB := addSession(hub, "sB")
	peerC := addSession(hub, "sC")

	handle(t, service, sender, entity.EventSendNotification, entity.Notification{
		Kind:    entity.NotificationWarning,
		Title:   "server maintenance",
		Message: "going down at midnight",
	})

	assert.Equal(t, entity.EventNewNotification, receiveFrame(t, peerB).Event)
	assert.Equal(t, entity.EventNewNotification, receiveFrame(t, peerC).Event)
	expectNoFrame(t, sender)
}

func TestActivityBroadcastStampsTimestampAndExcludesSender(t *testing.T) {
	service, hub, _ := startService(t)
	sender := addSession(hub, "sA")
	peerB := addSession(hub, "sB")
	peerC := addSession(hub, "sC")

	handle(t, service, sender, entity.EventUserActivity, entity.UserActivity{
		UserID:   "A",
		Action:   "created",
		Entity:   "task",
		EntityID: "t1",
	})

	for _, peer := range []*Session{peerB, peerC} {
		frame := receiveFrame(t, peer)
		assert.Equal(t, entity.EventActivityUpdate, frame.Event)
		var activity entity.UserActivity
		assert.NoError(t, json.Unmarshal(frame.Data, &activity))
		assert.Equal(t, "created", activity.Action)
		assert.False(t, activity.Timestamp.IsZero())
		// Exactly one copy per peer
		expectNoFrame(t, peer)
	}
	expectNoFrame(t, sender)
}

func TestDataUpdatedIsRebroadcastVerbatim(t *testing.T) {
	service, hub, _ := startService(t)
	sender := addSession(hub, "sA")
	peer := addSession(hub, "sB")

	handle(t, service, sender, entity.EventDataUpdated, entity.DataChangeEvent{
		ChangeKind:   entity.ChangeDelete,
		EntityKind:   "invoice",
		EntityID:     "inv-3",
		Payload:      json.RawMessage(`{"total":120}`),
		ActingUserID: "u1",
	})

	frame := receiveFrame(t, peer)
	assert.Equal(t, entity.EventDataChanged, frame.Event)
	var change entity.DataChangeEvent
	assert.NoError(t, json.Unmarshal(frame.Data, &change))
	assert.Equal(t, entity.ChangeDelete, change.ChangeKind)
	assert.Equal(t, "invoice", change.EntityKind)
	assert.JSONEq(t, `{"total":120}`, string(change.Payload))
	assert.False(t, change.Timestamp.IsZero())
	expectNoFrame(t, sender)
}

func TestPresenceEventsAreBroadcastAndMirrored(t *testing.T) {
	service, hub, repo := startService(t)
	sender := addSession(hub, "sA")
	peer := addSession(hub, "sB")

	handle(t, service, sender, entity.EventUserOnline, entity.JoinPayload{UserID: "u1"})

	frame := receiveFrame(t, peer)
	assert.Equal(t, entity.EventUserStatusChanged, frame.Event)
	var record entity.PresenceRecord
	assert.NoError(t, json.Unmarshal(frame.Data, &record))
	assert.Equal(t, "u1", record.UserID)
	assert.Equal(t, entity.PresenceOnline, record.Status)
	expectNoFrame(t, sender)

	mirrored, ok := repo.presenceOf("u1")
	assert.True(t, ok)
	assert.Equal(t, entity.PresenceOnline, mirrored.Status)

	handle(t, service, sender, entity.EventUserAway, entity.JoinPayload{UserID: "u1"})
	frame = receiveFrame(t, peer)
	assert.NoError(t, json.Unmarshal(frame.Data, &record))
	assert.Equal(t, entity.PresenceAway, record.Status)

	users, err := service.OnlineUsers(context.Background())
	assert.NoError(t, err)
	assert.NotContains(t, users, "u1")
}

func TestMalformedPayloadsAreDroppedSilently(t *testing.T) {
	service, hub, _ := startService(t)
	sender := addSession(hub, "sA")
	peer := addSession(hub, "sB")

	// Unparseable frame
	service.HandleFrame(context.Background(), sender, []byte("garbage"))
	// Unknown event
	handle(t, service, sender, "no-such-event", entity.JoinPayload{UserID: "u1"})
	// Shape validation failures
	handle(t, service, sender, entity.EventSendNotification, entity.Notification{Kind: "shout", Title: "t", Message: "m"})
	handle(t, service, sender, entity.EventSendNotification, entity.Notification{Kind: entity.NotificationInfo})
	handle(t, service, sender, entity.EventUserActivity, entity.UserActivity{Action: "created"})
	handle(t, service, sender, entity.EventJoinUser, entity.JoinPayload{})
	handle(t, service, sender, entity.EventUserOnline, entity.JoinPayload{})
	handle(t, service, sender, entity.EventUserAway, entity.JoinPayload{UserID: "u 1"})

	expectNoFrame(t, peer)
}

func TestPublishNotificationFromRESTCollaborator(t *testing.T) {
	service, hub, _ := startService(t)
	target := addSession(hub, "sA")
	other := addSession(hub, "sB")
	handle(t, service, target, entity.EventJoinUser, entity.JoinPayload{UserID: "u9"})

	service.PublishNotification(context.Background(), entity.Notification{
		Kind:         entity.NotificationSuccess,
		Title:        "invoice paid",
		Message:      "invoice inv-3 was settled",
		TargetUserID: "u9",
	})

	assert.Equal(t, entity.EventNewNotification, receiveFrame(t, target).Event)
	expectNoFrame(t, other)
}

func TestPublishDataChangeReachesEveryone(t *testing.T) {
	service, hub, _ := startService(t)
	peerA := addSession(hub, "sA")
	peerB := addSession(hub, "sB")

	service.PublishDataChange(context.Background(), entity.DataChangeEvent{
		ChangeKind:   entity.ChangeCreate,
		EntityKind:   "project",
		EntityID:     "p1",
		ActingUserID: "u1",
	})

	assert.Equal(t, entity.EventDataChanged, receiveFrame(t, peerA).Event)
	assert.Equal(t, entity.EventDataChanged, receiveFrame(t, peerB).Event)
}
