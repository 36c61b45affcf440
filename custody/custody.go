// Package custody moves fungible assets in and out of the gift ledger's
// custody account and normalizes what the assets report back.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrTransferFailed = errors.New("asset transfer failed")
	ErrUnknownAsset   = errors.New("not a registered asset handler")
)

// Asset is a fungible asset the custody account can hold. Implementations
// receive the caller's context, which may carry the ledger's transaction.
type Asset interface {
	Symbol() string
	Decimals() int32
	// Transfer sends amount from the custody account to to.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (Result, error)
	// TransferFrom pulls amount from from into to using the custody account's
	// allowance.
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (Result, error)
}

// Custody is the registry of known assets plus the custody account itself.
type Custody struct {
	account common.Address

	mu     sync.RWMutex
	assets map[common.Address]Asset
}

func New(account common.Address) *Custody {
	return &Custody{account: account, assets: make(map[common.Address]Asset)}
}

// Account is the address holding all gifted value.
func (c *Custody) Account() common.Address {
	return c.account
}

func (c *Custody) Register(handle common.Address, asset Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets[handle] = asset
}

func (c *Custody) Lookup(handle common.Address) (Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %w %s", ErrTransferFailed, ErrUnknownAsset, handle.Hex())
	}
	return a, nil
}

// TransferIn pulls amount of asset from from into to.
func (c *Custody) TransferIn(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	a, err := c.Lookup(asset)
	if err != nil {
		return err
	}
	res, err := a.TransferFrom(ctx, from, to, amount)
	return normalize("transfer in", asset, res, err)
}

// TransferOut sends amount of asset from the custody account to to.
func (c *Custody) TransferOut(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	a, err := c.Lookup(asset)
	if err != nil {
		return err
	}
	res, err := a.Transfer(ctx, to, amount)
	return normalize("transfer out", asset, res, err)
}

func normalize(op string, asset common.Address, res Result, err error) error {
	if err != nil {
		if errors.Is(err, ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %w", ErrTransferFailed, op, asset.Hex(), err)
	}
	if !res.OK() {
		return fmt.Errorf("%w: %s %s returned %s", ErrTransferFailed, op, asset.Hex(), res)
	}
	return nil
}
