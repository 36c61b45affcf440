package model

import "time"

// GiftOwner holds the current owner of a gift token and its single approved
// spender, if any.
type GiftOwner struct {
	GiftID    uint64    `gorm:"column:gift_id;primaryKey;autoIncrement:false" json:"gift_id"`
	Owner     string    `gorm:"column:owner;size:42;index;not null" json:"owner"`
	Approved  string    `gorm:"column:approved;size:42" json:"approved,omitempty"`
	UpdatedAt time.Time `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
}

func (GiftOwner) TableName() string {
	return "gift_owners"
}

// OperatorApproval lets Operator act on every gift held by Owner.
type OperatorApproval struct {
	Owner     string    `gorm:"column:owner;size:42;primaryKey" json:"owner"`
	Operator  string    `gorm:"column:operator;size:42;primaryKey" json:"operator"`
	CreatedAt time.Time `gorm:"column:create_time;autoCreateTime" json:"create_time"`
}

func (OperatorApproval) TableName() string {
	return "operator_approvals"
}
