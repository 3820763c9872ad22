// Service layer of the realtime dispatch in Deewan.
// Applies the fan-out rules: stamping server-side fields, targeted vs
// broadcast addressing and sender exclusion.

package realtime

import (
	"Deewan/internal/entity"
	"Deewan/pkg/log"
	"context"
	"encoding/json"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
)

type Service interface {
	// HandleFrame consumes one inbound frame from a session.
	// Malformed frames are dropped and logged, never returned as errors.
	HandleFrame(ctx context.Context, session *Session, raw []byte)
	// PublishNotification lets server-side collaborators (REST handlers) push a
	// notification without owning a session. Fire-and-forget.
	PublishNotification(ctx context.Context, notification entity.Notification)
	// PublishDataChange lets server-side collaborators signal a completed
	// mutation to every connected session. Fire-and-forget.
	PublishDataChange(ctx context.Context, change entity.DataChangeEvent)
	// OnlineUsers returns the ids of users with at least one active session.
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	hub          *Hub
	realtimeRepo Repository
	logger       log.Logger
}

// Helps to access the service layer interface and call methods.
// Also wires the hub's implicit-offline hook into the presence repository.
func NewService(hub *Hub, realtimeRepo Repository, logger log.Logger) Service {
	s := service{hub, realtimeRepo, logger}
	hub.OnLastSessionGone(func(userID string) {
		// Best-effort mirror cleanup, failure is logged inside the repository
		s.realtimeRepo.RemovePresence(context.Background(), logger, userID)
	})
	return s
}

func (s service) HandleFrame(ctx context.Context, session *Session, raw []byte) {
	var frame entity.Frame
	if mrsherr := json.Unmarshal(raw, &frame); mrsherr != nil {
		s.logger.WithCtx(ctx).Warn().Err(mrsherr).Msgf("Dropping unparseable frame from session %s", session.ID)
		return
	}
	switch frame.Event {
	case entity.EventJoinUser:
		s.handleJoin(ctx, session, frame.Data)
	case entity.EventUserOnline:
		s.handlePresence(ctx, session, frame.Event, frame.Data, entity.PresenceOnline)
	case entity.EventUserAway:
		s.handlePresence(ctx, session, frame.Event, frame.Data, entity.PresenceAway)
	case entity.EventUserActivity:
		s.handleActivity(ctx, session, frame.Data)
	case entity.EventDataUpdated:
		s.handleDataUpdated(ctx, session, frame.Data)
	case entity.EventSendNotification:
		s.handleNotification(ctx, session, frame.Data)
	default:
		s.logger.WithCtx(ctx).Warn().Msgf("Dropping frame with unknown event %s from session %s", frame.Event, session.ID)
	}
}

func (s service) handleJoin(ctx context.Context, session *Session, data json.RawMessage) {
	var payload entity.JoinPayload
	if !s.decode(ctx, session, entity.EventJoinUser, data, &payload) {
		return
	}
	s.hub.Join(session, payload.UserID)
}

func (s service) handlePresence(ctx context.Context, session *Session, event string, data json.RawMessage, status string) {
	var payload entity.JoinPayload
	if !s.decode(ctx, session, event, data, &payload) {
		return
	}
	record := entity.PresenceRecord{
		UserID:    payload.UserID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	frame, mrsherr := entity.NewFrame(entity.EventUserStatusChanged, record)
	if mrsherr != nil {
		s.logger.WithCtx(ctx).Error().Err(mrsherr).Msg("Couldn't marshal presence frame")
		return
	}
	s.hub.BroadcastExcept(session, frame)
	// Mirror presence into the DB so dashboards and sibling instances can
	// answer "who is online" without holding a socket.
	if dberr := s.realtimeRepo.SetPresence(ctx, s.logger, record); dberr != nil {
		s.logger.WithCtx(ctx).Error().Err(dberr).Msg("Couldn't mirror presence update, continuing without")
	}
}

func (s service) handleActivity(ctx context.Context, session *Session, data json.RawMessage) {
	var activity entity.UserActivity
	if !s.decode(ctx, session, entity.EventUserActivity, data, &activity) {
		return
	}
	activity.Timestamp = time.Now().UTC()
	frame, mrsherr := entity.NewFrame(entity.EventActivityUpdate, activity)
	if mrsherr != nil {
		s.logger.WithCtx(ctx).Error().Err(mrsherr).Msg("Couldn't marshal activity frame")
		return
	}
	s.hub.BroadcastExcept(session, frame)
}

func (s service) handleDataUpdated(ctx context.Context, session *Session, data json.RawMessage) {
	var change entity.DataChangeEvent
	if !s.decode(ctx, session, entity.EventDataUpdated, data, &change) {
		return
	}
	change.Timestamp = time.Now().UTC()
	frame, mrsherr := entity.NewFrame(entity.EventDataChanged, change)
	if mrsherr != nil {
		s.logger.WithCtx(ctx).Error().Err(mrsherr).Msg("Couldn't marshal data-change frame")
		return
	}
	s.hub.BroadcastExcept(session, frame)
}

func (s service) handleNotification(ctx context.Context, session *Session, data json.RawMessage) {
	var notification entity.Notification
	if !s.decode(ctx, session, entity.EventSendNotification, data, &notification) {
		return
	}
	s.dispatchNotification(ctx, session, notification)
}

// dispatchNotification stamps the server-assigned identity and branches
// between targeted room emit and broadcast-to-all-others.
func (s service) dispatchNotification(ctx context.Context, sender *Session, notification entity.Notification) {
	notification.ID = uuid.NewString()
	notification.CreatedAt = time.Now().UTC()
	frame, mrsherr := entity.NewFrame(entity.EventNewNotification, notification)
	if mrsherr != nil {
		s.logger.WithCtx(ctx).Error().Err(mrsherr).Msg("Couldn't marshal notification frame")
		return
	}
	if notification.TargetUserID != "" {
		s.hub.EmitToRoom(entity.UserRoom(notification.TargetUserID), frame)
		return
	}
	s.hub.BroadcastExcept(sender, frame)
}

func (s service) PublishNotification(ctx context.Context, notification entity.Notification) {
	if _, valerr := govalidator.ValidateStruct(notification); valerr != nil {
		s.logger.WithCtx(ctx).Warn().Err(valerr).Msg("Dropping invalid server-side notification")
		return
	}
	s.dispatchNotification(ctx, nil, notification)
}

func (s service) PublishDataChange(ctx context.Context, change entity.DataChangeEvent) {
	if _, valerr := govalidator.ValidateStruct(change); valerr != nil {
		s.logger.WithCtx(ctx).Warn().Err(valerr).Msg("Dropping invalid server-side data change")
		return
	}
	change.Timestamp = time.Now().UTC()
	frame, mrsherr := entity.NewFrame(entity.EventDataChanged, change)
	if mrsherr != nil {
		s.logger.WithCtx(ctx).Error().Err(mrsherr).Msg("Couldn't marshal data-change frame")
		return
	}
	s.hub.BroadcastExcept(nil, frame)
}

func (s service) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.realtimeRepo.GetOnlineUsers(ctx, s.logger)
}

// decode unmarshals and shape-validates an inbound payload.
// Returns false after logging when the payload has to be dropped.
func (s service) decode(ctx context.Context, session *Session, event string, data json.RawMessage, payload interface{}) bool {
	if mrsherr := json.Unmarshal(data, payload); mrsherr != nil {
		s.logger.WithCtx(ctx).Warn().Err(mrsherr).Msgf("Dropping malformed %s payload from session %s", event, session.ID)
		return false
	}
	if _, valerr := govalidator.ValidateStruct(payload); valerr != nil {
		s.logger.WithCtx(ctx).Warn().Err(valerr).Msgf("Dropping invalid %s payload from session %s", event, session.ID)
		return false
	}
	return true
}
