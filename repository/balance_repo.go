package repository

import (
	"context"
	"errors"

	"github.com/gift_custody/model"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Balance returns zero for holders with no row.
func (r *BalanceRepository) Balance(ctx context.Context, asset, account string) (*uint256.Int, error) {
	var b model.AssetBalance
	err := Conn(ctx, r.db).Where("asset = ? AND account = ?", asset, account).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return model.ParseAmount(b.Amount), nil
}

// LockBalance reads a balance for a read-modify-write, creating a zero row
// first so there is always a row to lock. Call it inside a transaction.
func (r *BalanceRepository) LockBalance(ctx context.Context, asset, account string) (*uint256.Int, error) {
	db := Conn(ctx, r.db)
	seed := model.AssetBalance{Asset: asset, Account: account, Amount: "0"}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var b model.AssetBalance
	if err := forUpdate(db).Where("asset = ? AND account = ?", asset, account).First(&b).Error; err != nil {
		return nil, err
	}
	return model.ParseAmount(b.Amount), nil
}

func (r *BalanceRepository) SetBalance(ctx context.Context, asset, account string, amount *uint256.Int) error {
	return Conn(ctx, r.db).Save(&model.AssetBalance{Asset: asset, Account: account, Amount: amount.Dec()}).Error
}

// Allowance returns zero when no approval was ever given.
func (r *BalanceRepository) Allowance(ctx context.Context, asset, owner, spender string) (*uint256.Int, error) {
	var a model.AssetAllowance
	err := Conn(ctx, r.db).Where("asset = ? AND owner = ? AND spender = ?", asset, owner, spender).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return model.ParseAmount(a.Amount), nil
}

// LockAllowance is the allowance counterpart of LockBalance.
func (r *BalanceRepository) LockAllowance(ctx context.Context, asset, owner, spender string) (*uint256.Int, error) {
	db := Conn(ctx, r.db)
	seed := model.AssetAllowance{Asset: asset, Owner: owner, Spender: spender, Amount: "0"}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var a model.AssetAllowance
	if err := forUpdate(db).Where("asset = ? AND owner = ? AND spender = ?", asset, owner, spender).First(&a).Error; err != nil {
		return nil, err
	}
	return model.ParseAmount(a.Amount), nil
}

func (r *BalanceRepository) SetAllowance(ctx context.Context, asset, owner, spender string, amount *uint256.Int) error {
	return Conn(ctx, r.db).Save(&model.AssetAllowance{Asset: asset, Owner: owner, Spender: spender, Amount: amount.Dec()}).Error
}
