// Broadcast hub of the realtime layer in Deewan.
// Owns the room-membership table; every mutation and fan-out is serialized
// through a single event-loop goroutine, so no locks are needed around it.

package realtime

import (
	"Deewan/internal/entity"
	"Deewan/pkg/log"
	"context"
	"sync"
	"time"
)

type joinRequest struct {
	session *Session
	userID  string
}

type dispatchJob struct {
	// room to emit into; empty means broadcast to every session
	room string
	// sender to exclude on broadcast; nil excludes nobody
	exclude *Session
	frame   []byte
}

// Hub tracks connected sessions and their room memberships.
// Membership is a property of the connection: a disconnect removes the
// session everywhere, no explicit leave exists.
type Hub struct {
	logger log.Logger

	register   chan *Session
	unregister chan *Session
	joins      chan joinRequest
	jobs       chan dispatchJob
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	// Called outside the loop when the last session of a user is gone.
	offlineHook func(userID string)

	// State below is owned exclusively by the Run loop.
	sessions map[*Session]struct{}
	rooms    map[string]map[*Session]struct{}
	identity map[*Session]string
	online   map[string]int
}

// Returns a new Hub, Run() still has to be launched on it.
func NewHub(logger log.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Session),
		unregister: make(chan *Session),
		joins:      make(chan joinRequest),
		jobs:       make(chan dispatchJob, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		sessions:   make(map[*Session]struct{}),
		rooms:      make(map[string]map[*Session]struct{}),
		identity:   make(map[*Session]string),
		online:     make(map[string]int),
	}
}

// OnLastSessionGone registers a hook fired after the final session of an
// identified user disconnects. Must be set before Run() is launched.
func (h *Hub) OnLastSessionGone(hook func(userID string)) {
	h.offlineHook = hook
}

// Run launches the hub event loop, preferably in a goroutine for non-blockage.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case session := <-h.register:
			h.sessions[session] = struct{}{}
			h.logger.Info().Msgf("Registered session %s into Deewan realtime hub", session.ID)

		case session := <-h.unregister:
			h.remove(session)

		case join := <-h.joins:
			h.join(join.session, join.userID)

		case job := <-h.jobs:
			if job.room != "" {
				h.emitToRoom(job.room, job.frame)
			} else {
				h.broadcastExcept(job.exclude, job.frame)
			}

		case <-h.quit:
			for session := range h.sessions {
				close(session.send)
			}
			return
		}
	}
}

// Register adds a freshly upgraded session to the hub.
func (h *Hub) Register(session *Session) {
	select {
	case h.register <- session:
	case <-h.quit:
	}
}

// Unregister drops a session, its room memberships and, if it was the last
// session of its user, broadcasts an implicit offline presence update.
func (h *Hub) Unregister(session *Session) {
	select {
	case h.unregister <- session:
	case <-h.quit:
	}
}

// Join adds session to rooms user-{userID} and all-users. Idempotent,
// rejoining is a no-op. A session identifies exactly once, there is no
// un-identify transition other than disconnect.
func (h *Hub) Join(session *Session, userID string) {
	select {
	case h.joins <- joinRequest{session: session, userID: userID}:
	case <-h.quit:
	}
}

// BroadcastExcept fans frame out to every connected session except sender.
// Pass a nil sender to reach everyone.
func (h *Hub) BroadcastExcept(sender *Session, frame []byte) {
	select {
	case h.jobs <- dispatchJob{exclude: sender, frame: frame}:
	case <-h.quit:
	}
}

// EmitToRoom fans frame out to every session in room, which may be zero,
// one or multiple sessions (multiple tabs of the same user).
func (h *Hub) EmitToRoom(room string, frame []byte) {
	select {
	case h.jobs <- dispatchJob{room: room, frame: frame}:
	case <-h.quit:
	}
}

// Close stops the event loop and kicks every open session. Idempotent,
// repeat calls just wait for the loop to finish.
// Satisfies the cleanup.Operation standard for graceful shutdown.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() { close(h.quit) })
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (h *Hub) join(session *Session, userID string) {
	if _, ok := h.sessions[session]; !ok {
		// Session already gone, membership would leak
		return
	}
	if known, ok := h.identity[session]; ok && known != userID {
		h.logger.Warn().Msgf("Session %s already identified as %s, ignoring join as %s", session.ID, known, userID)
		return
	}
	if _, ok := h.identity[session]; !ok {
		h.identity[session] = userID
		h.online[userID]++
	}
	h.addToRoom(entity.UserRoom(userID), session)
	h.addToRoom(entity.RoomAllUsers, session)
}

func (h *Hub) addToRoom(room string, session *Session) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[session] = struct{}{}
}

// remove drops the session from every structure and emits the implicit
// offline presence update when its user has no session left.
func (h *Hub) remove(session *Session) {
	if _, ok := h.sessions[session]; !ok {
		return
	}
	delete(h.sessions, session)
	for room, members := range h.rooms {
		delete(members, session)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	close(session.send)

	userID, identified := h.identity[session]
	delete(h.identity, session)
	h.logger.Info().Msgf("Removed session %s from Deewan realtime hub", session.ID)
	if !identified {
		return
	}
	h.online[userID]--
	if h.online[userID] > 0 {
		// Another tab of the same user is still connected
		return
	}
	delete(h.online, userID)
	frame, mrsherr := entity.NewFrame(entity.EventUserStatusChanged, entity.PresenceRecord{
		UserID:    userID,
		Status:    entity.PresenceOffline,
		Timestamp: time.Now().UTC(),
	})
	if mrsherr != nil {
		h.logger.Error().Err(mrsherr).Msg("Couldn't marshal implicit offline presence frame")
		return
	}
	h.broadcastExcept(nil, frame)
	if h.offlineHook != nil {
		go h.offlineHook(userID)
	}
}

func (h *Hub) broadcastExcept(sender *Session, frame []byte) {
	for session := range h.sessions {
		if session != sender {
			h.send(session, frame)
		}
	}
}

func (h *Hub) emitToRoom(room string, frame []byte) {
	for session := range h.rooms[room] {
		h.send(session, frame)
	}
}

// send delivers frame into the session's buffered channel.
// A session too slow to drain its buffer is dropped, same as a disconnect.
func (h *Hub) send(session *Session, frame []byte) {
	select {
	case session.send <- frame:
	default:
		h.logger.Warn().Msgf("Send buffer of session %s is full, dropping the session", session.ID)
		h.remove(session)
	}
}
