package model

import "time"

// Chain transfer states. A transfer is pending from signing until its
// receipt is seen; mined transfers are settled once the ledger operation
// that caused them is known to have committed, or orphaned when it did not.
const (
	TransferPending  = "pending"
	TransferFailed   = "failed"
	TransferReverted = "reverted"
	TransferMined    = "mined"
	TransferSettled  = "settled"
	TransferOrphaned = "orphaned"
)

// ChainTransfer journals an on-chain token movement made by the custody
// account. Rows are written outside the ledger transaction so a broadcast
// survives a rolled-back operation.
type ChainTransfer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TxHash    string    `gorm:"column:tx_hash;size:66;uniqueIndex;not null" json:"tx_hash"`
	Asset     string    `gorm:"column:asset;size:42;index;not null" json:"asset"`
	Method    string    `gorm:"column:method;size:32;not null" json:"method"`
	From      string    `gorm:"column:from_address;size:42" json:"from"`
	To        string    `gorm:"column:to_address;size:42;not null" json:"to"`
	Amount    string    `gorm:"column:amount;type:text;not null" json:"amount"`
	Reference string    `gorm:"column:reference;size:36;index" json:"reference"`
	Status    string    `gorm:"column:status;size:16;index;not null" json:"status"`
	CreatedAt time.Time `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	UpdatedAt time.Time `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
}

func (ChainTransfer) TableName() string {
	return "chain_transfers"
}
