package repository

import (
	"context"

	"github.com/gift_custody/model"
	"gorm.io/gorm"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, ev *model.GiftEvent) error {
	return Conn(ctx, r.db).Create(ev).Error
}

func (r *EventRepository) ListByGift(ctx context.Context, giftID uint64) ([]*model.GiftEvent, error) {
	var list []*model.GiftEvent
	if err := Conn(ctx, r.db).Where("gift_id = ?", giftID).Order("id asc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ExistsByReference reports whether any event was committed by the ledger
// operation with the given reference.
func (r *EventRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var n int64
	if err := Conn(ctx, r.db).Model(&model.GiftEvent{}).Where("reference = ?", reference).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
