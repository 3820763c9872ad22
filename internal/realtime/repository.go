// realtime repository encapsulates the data access logic (interactions with the DB)
// mirroring presence state in Deewan. Purely best-effort: the broadcast path
// never depends on these writes succeeding.

package realtime

import (
	"Deewan/internal/entity"
	"Deewan/internal/errors"
	"Deewan/pkg/db"
	"Deewan/pkg/log"
	"context"
	"time"
)

// Redis keys used by the presence mirror.
const (
	onlineUsersKey    = "deewan:online_users"
	presenceKeyPrefix = "deewan:presence:"
)

type Repository interface {
	// SetPresence upserts the latest presence record of a user and keeps the
	// derived online-users set in sync with it.
	SetPresence(ctx context.Context, logger log.Logger, record entity.PresenceRecord) error
	// RemovePresence clears a user from the mirror entirely, used when the
	// last session of a user disconnects.
	RemovePresence(ctx context.Context, logger log.Logger, userID string) error
	// GetOnlineUsers returns every user id currently in the online set.
	GetOnlineUsers(ctx context.Context, logger log.Logger) ([]string, error)
}

// repository struct of realtime Repository.
// Object of this will be passed around from main to internal.
// Helps to access the repository layer interface and call methods.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of realtime repository for other packages to access its interface.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

func (r repository) SetPresence(ctx context.Context, logger log.Logger, record entity.PresenceRecord) error {
	var dberr error
	if record.Status == entity.PresenceOnline {
		dberr = r.db.Client().SAdd(ctx, onlineUsersKey, record.UserID).Err()
	} else {
		dberr = r.db.Client().SRem(ctx, onlineUsersKey, record.UserID).Err()
	}
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during updating online_users in realtime.SetPresence")
		return errors.InternalServerError("")
	}
	dberr = r.db.Client().HSet(ctx, presenceKeyPrefix+record.UserID, map[string]interface{}{
		"status":    record.Status,
		"timestamp": record.Timestamp.Format(time.RFC3339Nano),
	}).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of HSet in realtime.SetPresence")
		return errors.InternalServerError("")
	}
	return nil
}

func (r repository) RemovePresence(ctx context.Context, logger log.Logger, userID string) error {
	dberr := r.db.Client().SRem(ctx, onlineUsersKey, userID).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of SRem in realtime.RemovePresence")
		return errors.InternalServerError("")
	}
	dberr = r.db.Client().Del(ctx, presenceKeyPrefix+userID).Err()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of Del in realtime.RemovePresence")
		return errors.InternalServerError("")
	}
	return nil
}

func (r repository) GetOnlineUsers(ctx context.Context, logger log.Logger) ([]string, error) {
	users, dberr := r.db.Client().SMembers(ctx, onlineUsersKey).Result()
	if dberr != nil {
		logger.WithCtx(ctx).Error().Err(dberr).Msg("Error occured during execution of SMembers in realtime.GetOnlineUsers")
		return nil, errors.InternalServerError("")
	}
	return users, nil
}
