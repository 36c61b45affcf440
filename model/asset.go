package model

import (
	"time"

	"gorm.io/gorm"
)

// AssetBalance is a holder's balance of a book asset.
type AssetBalance struct {
	Asset     string    `gorm:"column:asset;size:42;primaryKey" json:"asset"`
	Account   string    `gorm:"column:account;size:42;primaryKey" json:"account"`
	Amount    string    `gorm:"column:amount;type:text;not null" json:"amount"`
	UpdatedAt time.Time `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
}

func (AssetBalance) TableName() string {
	return "asset_balances"
}

// AssetAllowance is what Spender may pull from Owner's balance.
type AssetAllowance struct {
	Asset     string    `gorm:"column:asset;size:42;primaryKey" json:"asset"`
	Owner     string    `gorm:"column:owner;size:42;primaryKey" json:"owner"`
	Spender   string    `gorm:"column:spender;size:42;primaryKey" json:"spender"`
	Amount    string    `gorm:"column:amount;type:text;not null" json:"amount"`
	UpdatedAt time.Time `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
}

func (AssetAllowance) TableName() string {
	return "asset_allowances"
}

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Gift{}, &GiftEvent{}, &GiftOwner{}, &OperatorApproval{}, &AssetBalance{}, &AssetAllowance{}, &ChainTransfer{})
}
