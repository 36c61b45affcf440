package service

import (
	"errors"

	"github.com/gift_custody/custody"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("gift not found")
	ErrOverflow             = errors.New("amount overflow")
	ErrUnderflow            = errors.New("amount underflow")
	ErrInsufficientUnlocked = errors.New("nothing unlocked to withdraw")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidAddress       = errors.New("invalid address")

	// ErrTransferFailed is the custody layer's error, re-exported so callers
	// of the ledger need only this package.
	ErrTransferFailed = custody.ErrTransferFailed
)
