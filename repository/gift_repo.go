package repository

import (
	"context"
	"errors"

	"github.com/gift_custody/model"
	"gorm.io/gorm"
)

type GiftRepository struct {
	db *gorm.DB
}

func NewGiftRepository(db *gorm.DB) *GiftRepository {
	return &GiftRepository{db: db}
}

// Count is the number of gifts ever created, which is also the next id.
func (r *GiftRepository) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := Conn(ctx, r.db).Model(&model.Gift{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *GiftRepository) Create(ctx context.Context, gift *model.Gift) error {
	return Conn(ctx, r.db).Create(gift).Error
}

// FindByID returns gorm.ErrRecordNotFound for unknown ids.
func (r *GiftRepository) FindByID(ctx context.Context, giftID uint64) (*model.Gift, error) {
	var g model.Gift
	if err := Conn(ctx, r.db).Where("gift_id = ?", giftID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// FindForUpdate reads a gift with a row lock where the dialect supports one.
func (r *GiftRepository) FindForUpdate(ctx context.Context, giftID uint64) (*model.Gift, error) {
	var g model.Gift
	if err := forUpdate(Conn(ctx, r.db)).Where("gift_id = ?", giftID).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveAmounts writes back only the amount counters; the other columns are
// immutable after creation.
func (r *GiftRepository) SaveAmounts(ctx context.Context, gift *model.Gift) error {
	res := Conn(ctx, r.db).Model(&model.Gift{}).Where("gift_id = ?", gift.GiftID).Updates(map[string]interface{}{
		"deposited": gift.Deposited,
		"withdrawn": gift.Withdrawn,
		"remaining": gift.Remaining,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GiftRepository) ListByIDs(ctx context.Context, ids []uint64) ([]*model.Gift, error) {
	var list []*model.Gift
	if len(ids) == 0 {
		return list, nil
	}
	if err := Conn(ctx, r.db).Where("gift_id IN ?", ids).Order("gift_id asc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// SumRemainingByAsset adds up the remaining counters of every gift holding
// asset. Amounts are text, so the sum is done here rather than in SQL.
func (r *GiftRepository) SumRemainingByAsset(ctx context.Context, asset string) (string, error) {
	var rows []string
	if err := Conn(ctx, r.db).Model(&model.Gift{}).Where("asset = ?", asset).Pluck("remaining", &rows).Error; err != nil {
		return "", err
	}
	sum := model.ParseAmount("0")
	for _, v := range rows {
		if _, overflow := sum.AddOverflow(sum, model.ParseAmount(v)); overflow {
			return "", errors.New("remaining sum overflows 256 bits")
		}
	}
	return sum.Dec(), nil
}
