// All custom validations related to the realtime protocol payloads in Deewan are defined here.

package realtime

import (
	"Deewan/internal/entity"
	"Deewan/pkg/log"
	"context"

	"github.com/asaskevich/govalidator"
)

func RegisterCustomValidationTags(ctx context.Context, logger log.Logger) {
	// Notification kind validation.
	govalidator.TagMap["notifkind"] = govalidator.Validator(func(kind string) bool {
		switch kind {
		case entity.NotificationInfo, entity.NotificationSuccess, entity.NotificationWarning, entity.NotificationError:
			return true
		}
		return false
	})

	// Presence status validation.
	govalidator.TagMap["presencestatus"] = govalidator.Validator(func(status string) bool {
		switch status {
		case entity.PresenceOnline, entity.PresenceAway, entity.PresenceOffline:
			return true
		}
		return false
	})

	// Data change kind validation.
	govalidator.TagMap["changekind"] = govalidator.Validator(func(kind string) bool {
		switch kind {
		case entity.ChangeCreate, entity.ChangeUpdate, entity.ChangeDelete:
			return true
		}
		return false
	})

	logger.WithCtx(ctx).Info().Msg("Successfully registered realtime related custom validations.")
}
