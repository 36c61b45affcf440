package model

import (
	"time"

	"gorm.io/datatypes"
)

// Notification kinds.
const (
	EventGiftMinted  = "gift_minted"
	EventTipReceived = "tip_received"
	EventCollected   = "collected"
)

// GiftEvent is an audit notification. Rows are written inside the
// operation's transaction, so only committed operations leave events.
type GiftEvent struct {
	ID      uint           `gorm:"primaryKey" json:"-"`
	EventID string         `gorm:"column:event_id;size:36;uniqueIndex;not null" json:"event_id"`
	GiftID  uint64         `gorm:"column:gift_id;index;not null" json:"gift_id"`
	Kind    string         `gorm:"column:kind;size:32;index;not null" json:"kind"`
	Actor   string         `gorm:"column:actor;size:42;not null" json:"actor"`
	Asset   string         `gorm:"column:asset;size:42" json:"asset,omitempty"`
	Amount  string         `gorm:"column:amount;type:text" json:"amount,omitempty"`
	Payload datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	// Reference ties the event to the ledger operation, and to any chain
	// transfer that operation made.
	Reference string    `gorm:"column:reference;size:36;index" json:"reference,omitempty"`
	CreatedAt time.Time `gorm:"column:create_time;autoCreateTime" json:"create_time"`
}

func (GiftEvent) TableName() string {
	return "gift_events"
}
