package repository

import (
	"context"
	"errors"

	"github.com/gift_custody/model"
	"gorm.io/gorm"
)

type OwnerRepository struct {
	db *gorm.DB
}

func NewOwnerRepository(db *gorm.DB) *OwnerRepository {
	return &OwnerRepository{db: db}
}

func (r *OwnerRepository) Create(ctx context.Context, o *model.GiftOwner) error {
	return Conn(ctx, r.db).Create(o).Error
}

func (r *OwnerRepository) Find(ctx context.Context, giftID uint64) (*model.GiftOwner, error) {
	var o model.GiftOwner
	if err := Conn(ctx, r.db).Where("gift_id = ?", giftID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OwnerRepository) Update(ctx context.Context, giftID uint64, owner, approved string) error {
	return Conn(ctx, r.db).Model(&model.GiftOwner{}).Where("gift_id = ?", giftID).
		Updates(map[string]interface{}{"owner": owner, "approved": approved}).Error
}

func (r *OwnerRepository) ListByOwner(ctx context.Context, owner string, page, size int) ([]uint64, int64, error) {
	var ids []uint64
	var total int64
	offset := (page - 1) * size
	db := Conn(ctx, r.db)
	if err := db.Model(&model.GiftOwner{}).Where("owner = ?", owner).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Model(&model.GiftOwner{}).Where("owner = ?", owner).Order("gift_id asc").
		Offset(offset).Limit(size).Pluck("gift_id", &ids).Error; err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

func (r *OwnerRepository) IsOperator(ctx context.Context, owner, operator string) (bool, error) {
	var a model.OperatorApproval
	err := Conn(ctx, r.db).Where("owner = ? AND operator = ?", owner, operator).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *OwnerRepository) SetOperator(ctx context.Context, owner, operator string, approved bool) error {
	db := Conn(ctx, r.db)
	if !approved {
		return db.Where("owner = ? AND operator = ?", owner, operator).Delete(&model.OperatorApproval{}).Error
	}
	ok, err := r.IsOperator(ctx, owner, operator)
	if err != nil || ok {
		return err
	}
	return db.Create(&model.OperatorApproval{Owner: owner, Operator: operator}).Error
}
