package model

import (
	"time"

	"github.com/gift_custody/vesting"
	"github.com/holiman/uint256"
)

// Gift is one vesting gift. GiftID is the dense public id, also the id of the
// ownership token; amounts are uint256 stored as base-10 text.
type Gift struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	GiftID    uint64    `gorm:"column:gift_id;uniqueIndex;not null" json:"id"`
	Asset     string    `gorm:"column:asset;size:42;index;not null" json:"asset"`
	Name      string    `gorm:"column:name;type:text" json:"name"`
	Message   string    `gorm:"column:message;type:text" json:"message"`
	URL       string    `gorm:"column:url;type:text" json:"url"`
	Deposited string    `gorm:"column:deposited;type:text;not null" json:"deposited"`
	Withdrawn string    `gorm:"column:withdrawn;type:text;not null" json:"withdrawn"`
	Remaining string    `gorm:"column:remaining;type:text;not null" json:"remaining"`
	StartTime uint64    `gorm:"column:start_time;not null" json:"start_time"`
	Duration  uint64    `gorm:"column:duration;not null" json:"duration"`
	CreatedAt time.Time `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	UpdatedAt time.Time `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
}

func (Gift) TableName() string {
	return "gifts"
}

// Schedule is the gift's release window.
func (g *Gift) Schedule() vesting.Schedule {
	return vesting.Schedule{Start: g.StartTime, Duration: g.Duration}
}

// Amounts decodes the stored counters. Malformed text decodes as zero; the
// ledger is the only writer and always stores canonical decimals.
func (g *Gift) Amounts() (deposited, withdrawn, remaining *uint256.Int) {
	return ParseAmount(g.Deposited), ParseAmount(g.Withdrawn), ParseAmount(g.Remaining)
}

// SetAmounts stores the counters back as decimal text.
func (g *Gift) SetAmounts(deposited, withdrawn, remaining *uint256.Int) {
	g.Deposited = deposited.Dec()
	g.Withdrawn = withdrawn.Dec()
	g.Remaining = remaining.Dec()
}

// ParseAmount reads a base-10 amount, returning zero for empty or invalid text.
func ParseAmount(s string) *uint256.Int {
	if s == "" {
		return new(uint256.Int)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return new(uint256.Int)
	}
	return v
}
