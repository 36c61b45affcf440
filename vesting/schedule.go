// Package vesting computes how much of a custodied amount is released by a
// linear schedule at a given moment.
package vesting

import (
	"math"

	"github.com/holiman/uint256"
)

// Schedule is a linear release window. Times are unix seconds.
type Schedule struct {
	Start    uint64
	Duration uint64
}

// End returns the first instant at which everything is released, saturating
// at the largest representable time.
func (s Schedule) End() uint64 {
	if s.Start > math.MaxUint64-s.Duration {
		return math.MaxUint64
	}
	return s.Start + s.Duration
}

// Unlocked returns the part of total released at now.
func (s Schedule) Unlocked(total *uint256.Int, now uint64) *uint256.Int {
	return UnlockedAmount(total, s.Start, s.Duration, now)
}

// UnlockedAmount returns total*min(now-start, duration)/duration, floored.
// Nothing is released before start; a zero duration releases everything at
// start. The product is formed in 512 bits so it cannot wrap.
func UnlockedAmount(total *uint256.Int, start, duration, now uint64) *uint256.Int {
	if total == nil || now < start {
		return new(uint256.Int)
	}
	elapsed := now - start
	if duration == 0 || elapsed >= duration {
		return new(uint256.Int).Set(total)
	}
	// elapsed < duration, so the quotient is below total and never overflows.
	out, _ := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(elapsed), uint256.NewInt(duration))
	return out
}
