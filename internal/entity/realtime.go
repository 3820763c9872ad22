// Structures of the realtime event protocol exchanged between Deewan clients and the server.

package entity

import (
	"encoding/json"
	"time"
)

// Client -> Server event names.
const (
	EventJoinUser         = "join-user"
	EventUserActivity     = "user-activity"
	EventDataUpdated      = "data-updated"
	EventSendNotification = "send-notification"
	EventUserOnline       = "user-online"
	EventUserAway         = "user-away"
)

// Server -> Client event names.
const (
	EventNewNotification   = "new-notification"
	EventActivityUpdate    = "user-activity-update"
	EventDataChanged       = "data-changed"
	EventUserStatusChanged = "user-status-changed"
)

// Notification severity kinds.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Presence statuses carried by PresenceRecord.
const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceOffline = "offline"
)

// Data change kinds carried by DataChangeEvent.
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// RoomAllUsers is joined by every identified session alongside its user room.
const RoomAllUsers = "all-users"

// UserRoom returns the room key holding every session of a single user.
// One logical user may hold multiple sessions (browser tabs), all in the same room.
func UserRoom(userID string) string {
	return "user-" + userID
}

// Frame is the envelope wrapping every payload on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewFrame wraps payload into a marshalled Frame ready for transport.
func NewFrame(event string, payload interface{}) ([]byte, error) {
	data, mrsherr := json.Marshal(payload)
	if mrsherr != nil {
		return nil, mrsherr
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// JoinPayload is sent with join-user, user-online and user-away events.
type JoinPayload struct {
	UserID string `json:"userId" valid:"required,nospace~userId:No whitespace allowed in this field"`
}

// Notification as sent by a client (no ID / CreatedAt) and re-emitted by the
// dispatcher with a server-assigned ID and timestamp.
// An absent TargetUserID means broadcast-to-all.
type Notification struct {
	ID           string    `json:"id,omitempty" valid:"-"`
	Kind         string    `json:"kind" valid:"required,notifkind~kind:Must be one of info/success/warning/error"`
	Title        string    `json:"title" valid:"required,stringlength(1|100)"`
	Message      string    `json:"message" valid:"required,stringlength(1|500)"`
	CreatedAt    time.Time `json:"createdAt,omitempty" valid:"-"`
	TargetUserID string    `json:"targetUserId,omitempty" valid:"-"`
}

// UserActivity describes a notable mutation performed by a user.
// Action and Entity are free-form, the server only stamps the timestamp.
type UserActivity struct {
	UserID    string    `json:"userId" valid:"required"`
	Action    string    `json:"action" valid:"required,stringlength(1|50)"`
	Entity    string    `json:"entity" valid:"required,stringlength(1|50)"`
	EntityID  string    `json:"entityId" valid:"-"`
	Timestamp time.Time `json:"timestamp,omitempty" valid:"-"`
}

// PresenceRecord is the latest known status of a user. Superseded, never appended.
type PresenceRecord struct {
	UserID    string    `json:"userId" valid:"required"`
	Status    string    `json:"status" valid:"required,presencestatus~status:Must be one of online/away/offline"`
	Timestamp time.Time `json:"timestamp,omitempty" valid:"-"`
}

// DataChangeEvent signals a completed create/update/delete on a domain entity.
// Payload is pass-through, carried verbatim so consumers can apply a targeted
// patch instead of a full re-fetch.
type DataChangeEvent struct {
	ChangeKind   string          `json:"changeKind" valid:"required,changekind~changeKind:Must be one of create/update/delete"`
	EntityKind   string          `json:"entityKind" valid:"required,stringlength(1|50)"`
	EntityID     string          `json:"entityId" valid:"-"`
	Payload      json.RawMessage `json:"payload,omitempty" valid:"-"`
	ActingUserID string          `json:"actingUserId" valid:"required"`
	Timestamp    time.Time       `json:"timestamp,omitempty" valid:"-"`
}
