// Event reducer of the Deewan realtime client.
// Folds inbound events into bounded buffers and a presence map, and fans the
// resulting state out to presentation-layer subscribers (toasts, badges,
// activity feeds). Rendering itself is out of scope here.

package client

import (
	"Deewan/internal/entity"
	"Deewan/pkg/log"
	"encoding/json"
	"sort"
	"sync"
)

const (
	// Notifications kept client-side, newest first.
	maxNotifications = 10
	// Activities kept client-side, newest first.
	maxActivities = 20
)

// Store is the authoritative in-memory view of notifications, activities and
// presence for one session.
type Store struct {
	logger log.Logger

	mu            sync.RWMutex
	notifications []entity.Notification
	activities    []entity.UserActivity
	presence      map[string]entity.PresenceRecord

	notifSubs    []func(entity.Notification)
	activitySubs []func(entity.UserActivity)
	presenceSubs []func(online []string)
	changeSubs   []func(entity.DataChangeEvent)
}

func NewStore(logger log.Logger) *Store {
	return &Store{
		logger:   logger,
		presence: make(map[string]entity.PresenceRecord),
	}
}

// apply folds one raw server frame into the store. Malformed frames are
// dropped and logged, the reducer never crashes on bad input.
func (st *Store) apply(raw []byte) {
	var frame entity.Frame
	if mrsherr := json.Unmarshal(raw, &frame); mrsherr != nil {
		st.logger.Warn().Err(mrsherr).Msg("Dropping unparseable server frame")
		return
	}
	switch frame.Event {
	case entity.EventNewNotification:
		var notification entity.Notification
		if mrsherr := json.Unmarshal(frame.Data, &notification); mrsherr != nil {
			st.logger.Warn().Err(mrsherr).Msg("Dropping malformed notification payload")
			return
		}
		st.OnNotification(notification)
	case entity.EventActivityUpdate:
		var activity entity.UserActivity
		if mrsherr := json.Unmarshal(frame.Data, &activity); mrsherr != nil {
			st.logger.Warn().Err(mrsherr).Msg("Dropping malformed activity payload")
			return
		}
		st.OnActivity(activity)
	case entity.EventUserStatusChanged:
		var record entity.PresenceRecord
		if mrsherr := json.Unmarshal(frame.Data, &record); mrsherr != nil {
			st.logger.Warn().Err(mrsherr).Msg("Dropping malformed presence payload")
			return
		}
		st.OnPresence(record)
	case entity.EventDataChanged:
		var change entity.DataChangeEvent
		if mrsherr := json.Unmarshal(frame.Data, &change); mrsherr != nil {
			st.logger.Warn().Err(mrsherr).Msg("Dropping malformed data-change payload")
			return
		}
		st.onDataChange(change)
	default:
		st.logger.Warn().Msgf("Dropping server frame with unknown event %s", frame.Event)
	}
}

// OnNotification prepends to the notification buffer, evicting from the back
// past capacity.
func (st *Store) OnNotification(notification entity.Notification) {
	st.mu.Lock()
	st.notifications = prependNotification(st.notifications, notification, maxNotifications)
	subs := append([]func(entity.Notification){}, st.notifSubs...)
	st.mu.Unlock()
	for _, fn := range subs {
		fn(notification)
	}
}

// OnActivity prepends to the activity buffer, evicting from the back past
// capacity. Activities are never individually removable.
func (st *Store) OnActivity(activity entity.UserActivity) {
	st.mu.Lock()
	st.activities = prependActivity(st.activities, activity, maxActivities)
	subs := append([]func(entity.UserActivity){}, st.activitySubs...)
	st.mu.Unlock()
	for _, fn := range subs {
		fn(activity)
	}
}

// OnPresence upserts the presence map, last write wins per user. The online
// list is derived from it, never mutated independently.
func (st *Store) OnPresence(record entity.PresenceRecord) {
	st.mu.Lock()
	st.presence[record.UserID] = record
	online := st.onlineLocked()
	subs := append([]func([]string){}, st.presenceSubs...)
	st.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

// onDataChange republishes without buffering; the payload is not interpreted.
func (st *Store) onDataChange(change entity.DataChangeEvent) {
	st.mu.RLock()
	subs := append([]func(entity.DataChangeEvent){}, st.changeSubs...)
	st.mu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
}

// RemoveNotification drops exactly the entry with the matching id, keeping
// relative order. Unknown ids are a no-op. Purely local: sessions that
// already received the same broadcast are unaffected.
func (st *Store) RemoveNotification(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	kept := st.notifications[:0]
	for _, notification := range st.notifications {
		if notification.ID != id {
			kept = append(kept, notification)
		}
	}
	st.notifications = kept
}

// ClearNotifications resets the notification buffer.
func (st *Store) ClearNotifications() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.notifications = nil
}

// Notifications returns a copy of the buffer, newest first.
func (st *Store) Notifications() []entity.Notification {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]entity.Notification{}, st.notifications...)
}

// Activities returns a copy of the buffer, newest first.
func (st *Store) Activities() []entity.UserActivity {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]entity.UserActivity{}, st.activities...)
}

// OnlineUsers returns the sorted ids of users whose latest status is online.
func (st *Store) OnlineUsers() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.onlineLocked()
}

// Presence returns the latest known record of a user.
func (st *Store) Presence(userID string) (entity.PresenceRecord, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	record, ok := st.presence[userID]
	return record, ok
}

// SubscribeNotifications registers a callback fired on every received notification.
func (st *Store) SubscribeNotifications(fn func(entity.Notification)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.notifSubs = append(st.notifSubs, fn)
}

// SubscribeActivities registers a callback fired on every received activity.
func (st *Store) SubscribeActivities(fn func(entity.UserActivity)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activitySubs = append(st.activitySubs, fn)
}

// SubscribePresence registers a callback fired with the derived online-id
// list on every presence change.
func (st *Store) SubscribePresence(fn func(online []string)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.presenceSubs = append(st.presenceSubs, fn)
}

// SubscribeDataChanges registers a callback fired on every data-change
// signal, e.g. to patch or re-fetch the affected collection.
func (st *Store) SubscribeDataChanges(fn func(entity.DataChangeEvent)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.changeSubs = append(st.changeSubs, fn)
}

func (st *Store) onlineLocked() []string {
	online := []string{}
	for userID, record := range st.presence {
		if record.Status == entity.PresenceOnline {
			online = append(online, userID)
		}
	}
	sort.Strings(online)
	return online
}

func prependNotification(buffer []entity.Notification, notification entity.Notification, capacity int) []entity.Notification {
	buffer = append([]entity.Notification{notification}, buffer...)
	if len(buffer) > capacity {
		buffer = buffer[:capacity]
	}
	return buffer
}

func prependActivity(buffer []entity.UserActivity, activity entity.UserActivity, capacity int) []entity.UserActivity {
	buffer = append([]entity.UserActivity{activity}, buffer...)
	if len(buffer) > capacity {
		buffer = buffer[:capacity]
	}
	return buffer
}
