// Connection manager of the Deewan realtime client.
// Maintains exactly one websocket connection, reconnects with capped backoff
// and re-attaches identity after every reconnect, since server-side room
// membership does not survive a drop.

package client

import (
	"Deewan/internal/entity"
	"Deewan/pkg/log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	// Time allowed to write a frame to the server.
	clientWriteWait = 10 * time.Second
)

// Client is one browser-session-equivalent: a single persistent connection
// plus the reducer store fed by it. All emits are fire-and-forget; when the
// connection is down they are dropped silently.
type Client struct {
	addr   string
	logger log.Logger
	store  *Store
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	userID     string
	closed     bool
	quit       chan struct{}
	statusSubs []func(connected bool)
}

// New returns a client targeting the realtime websocket endpoint at addr,
// e.g. ws://host:port/api/realtime/ws. Connect still has to be called.
func New(addr string, logger log.Logger) *Client {
	return &Client{
		addr:   addr,
		logger: logger,
		store:  NewStore(logger),
		dialer: websocket.DefaultDialer,
		quit:   make(chan struct{}),
	}
}

// Store exposes the reducer holding notifications, activities and presence.
func (c *Client) Store() *Store {
	return c.store
}

// Connect launches the connection loop in a goroutine and returns immediately.
// Reconnection after a drop is automatic and invisible; only the
// connected/disconnected state is surfaced.
func (c *Client) Connect() {
	go c.run()
}

// Connected reports the current transport state. The only error surface the
// connection manager exposes upward.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnConnectionChange registers a callback fired on every transition between
// connected and disconnected.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusSubs = append(c.statusSubs, fn)
}

// AttachIdentity joins the user-{userID} and all-users rooms and declares the
// user online. Safe to call multiple times; re-emitted automatically after
// every reconnect.
func (c *Client) AttachIdentity(userID string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.userID = userID
	connected := c.connected
	c.mu.Unlock()
	if connected {
		c.attach(userID)
	}
}

// DetachIdentity declares the user away before logout or teardown.
// Best-effort: a no-op when the transport is already down.
func (c *Client) DetachIdentity() {
	c.mu.Lock()
	userID := c.userID
	c.userID = ""
	c.mu.Unlock()
	if userID != "" {
		c.emit(entity.EventUserAway, entity.JoinPayload{UserID: userID})
	}
}

// SendNotification emits a notification for the dispatcher to stamp and route.
// Leave TargetUserID empty to broadcast to all other sessions.
func (c *Client) SendNotification(notification entity.Notification) {
	c.emit(entity.EventSendNotification, notification)
}

// SendActivity emits an activity for broadcast to all other sessions.
// Falls back to the attached identity when UserID is unset.
func (c *Client) SendActivity(activity entity.UserActivity) {
	if activity.UserID == "" {
		c.mu.Lock()
		activity.UserID = c.userID
		c.mu.Unlock()
	}
	c.emit(entity.EventUserActivity, activity)
}

// EmitDataChange signals a completed REST mutation to all other sessions.
// Falls back to the attached identity when ActingUserID is unset.
func (c *Client) EmitDataChange(change entity.DataChangeEvent) {
	if change.ActingUserID == "" {
		c.mu.Lock()
		change.ActingUserID = c.userID
		c.mu.Unlock()
	}
	c.emit(entity.EventDataUpdated, change)
}

// Close tears the connection down for good. The server observes this as an
// implicit session end.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.quit)
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
}

// run dials in a loop until Close, handing each live connection to readLoop.
func (c *Client) run() {
	backoff := initialBackoff
	for {
		select {
		case <-c.quit:
			return
		default:
		}
		conn, _, dialerr := c.dialer.Dial(c.addr, nil)
		if dialerr != nil {
			c.logger.Debug().Err(dialerr).Msgf("Couldn't reach Deewan realtime server, retrying in %s", backoff)
			select {
			case <-time.After(jitter(backoff)):
			case <-c.quit:
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.connected = true
		userID := c.userID
		c.mu.Unlock()
		c.notifyStatus(true)
		if userID != "" {
			// Room membership has to be redone after every reconnect
			c.attach(userID)
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		c.notifyStatus(false)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, raw, readerr := conn.ReadMessage()
		if readerr != nil {
			c.logger.Debug().Err(readerr).Msg("Deewan realtime connection dropped")
			return
		}
		c.store.apply(raw)
	}
}

func (c *Client) attach(userID string) {
	c.emit(entity.EventJoinUser, entity.JoinPayload{UserID: userID})
	c.emit(entity.EventUserOnline, entity.JoinPayload{UserID: userID})
}

// emit writes one frame if connected, drops it silently otherwise.
// The mutex doubles as the single-writer guard gorilla requires.
func (c *Client) emit(event string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		c.logger.Debug().Msgf("Not connected, dropping %s emit", event)
		return
	}
	frame, mrsherr := entity.NewFrame(event, payload)
	if mrsherr != nil {
		c.logger.Error().Err(mrsherr).Msgf("Couldn't marshal %s frame", event)
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	if writeerr := c.conn.WriteMessage(websocket.TextMessage, frame); writeerr != nil {
		c.logger.Debug().Err(writeerr).Msgf("Couldn't emit %s, connection is going down", event)
	}
}

func (c *Client) notifyStatus(connected bool) {
	c.mu.Lock()
	subs := make([]func(bool), len(c.statusSubs))
	copy(subs, c.statusSubs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(connected)
	}
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
