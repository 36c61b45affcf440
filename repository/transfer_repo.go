package repository

import (
	"context"
	"time"

	"github.com/gift_custody/model"
	"gorm.io/gorm"
)

// TransferRepository journals chain transfers. It always writes through its
// own connection, never the transaction in ctx, so entries outlive a
// rolled-back ledger operation.
type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, t *model.ChainTransfer) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TransferRepository) SetStatus(ctx context.Context, txHash, status string) error {
	return r.db.WithContext(ctx).Model(&model.ChainTransfer{}).
		Where("tx_hash = ?", txHash).Update("status", status).Error
}

func (r *TransferRepository) FindByHash(ctx context.Context, txHash string) (*model.ChainTransfer, error) {
	var t model.ChainTransfer
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ListStale returns up to limit transfers in status last touched before
// cutoff, oldest first.
func (r *TransferRepository) ListStale(ctx context.Context, status string, cutoff time.Time, limit int) ([]model.ChainTransfer, error) {
	var list []model.ChainTransfer
	if err := r.db.WithContext(ctx).
		Where("status = ? AND update_time < ?", status, cutoff).
		Order("id asc").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
