package service

import (
	"context"
	"encoding/json"

	"github.com/gift_custody/model"
	"github.com/gift_custody/repository"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecorder writes gift notifications. Called with a transaction in the
// context, the rows share the operation's fate.
type EventRecorder struct {
	repo *repository.EventRepository
}

func NewEventRecorder(db *gorm.DB) *EventRecorder {
	return &EventRecorder{repo: repository.NewEventRepository(db)}
}

func (r *EventRecorder) Record(ctx context.Context, ev *model.GiftEvent, payload map[string]interface{}) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ev.Payload = datatypes.JSON(b)
	}
	return r.repo.Create(ctx, ev)
}

func (r *EventRecorder) ListByGift(ctx context.Context, giftID uint64) ([]*model.GiftEvent, error) {
	return r.repo.ListByGift(ctx, giftID)
}
