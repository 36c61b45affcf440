package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gift_custody/repository"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrMintToCustody         = errors.New("cannot mint to the custody account")
)

// BookAsset is a fungible asset whose ledger lives in the service database.
// Movements made under a context carrying a transaction commit or roll back
// with it.
type BookAsset struct {
	handle   common.Address
	symbol   string
	decimals int32
	spender  common.Address
	db       *gorm.DB
	repo     *repository.BalanceRepository
}

// NewBookAsset creates a book asset; spender is the account allowed to move
// the custody account's funds and to spend allowances (the custody account).
func NewBookAsset(db *gorm.DB, handle common.Address, symbol string, decimals int32, spender common.Address) *BookAsset {
	return &BookAsset{
		handle:   handle,
		symbol:   symbol,
		decimals: decimals,
		spender:  spender,
		db:       db,
		repo:     repository.NewBalanceRepository(db),
	}
}

func (b *BookAsset) Handle() common.Address { return b.handle }
func (b *BookAsset) Symbol() string         { return b.symbol }
func (b *BookAsset) Decimals() int32        { return b.decimals }

func (b *BookAsset) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return b.repo.Balance(ctx, b.key(), key(account))
}

func (b *BookAsset) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return b.repo.Allowance(ctx, b.key(), key(owner), key(spender))
}

// Mint credits amount to to. Value in the custody account must come from
// gifts, so minting straight into it is refused.
func (b *BookAsset) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if to == b.spender {
		return fmt.Errorf("%w: %s", ErrMintToCustody, to.Hex())
	}
	return repository.InTx(ctx, b.db, func(ctx context.Context) error {
		bal, err := b.repo.LockBalance(ctx, b.key(), key(to))
		if err != nil {
			return err
		}
		if _, overflow := bal.AddOverflow(bal, amount); overflow {
			return fmt.Errorf("mint %s to %s: balance overflows", amount.Dec(), to.Hex())
		}
		return b.repo.SetBalance(ctx, b.key(), key(to), bal)
	})
}

// Approve sets the allowance of spender over owner's balance.
func (b *BookAsset) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return repository.InTx(ctx, b.db, func(ctx context.Context) error {
		if _, err := b.repo.LockAllowance(ctx, b.key(), key(owner), key(spender)); err != nil {
			return err
		}
		return b.repo.SetAllowance(ctx, b.key(), key(owner), key(spender), amount)
	})
}

func (b *BookAsset) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (Result, error) {
	err := repository.InTx(ctx, b.db, func(ctx context.Context) error {
		return b.move(ctx, b.spender, to, amount)
	})
	if err != nil {
		return ExplicitFailure, err
	}
	return ExplicitSuccess, nil
}

func (b *BookAsset) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (Result, error) {
	err := repository.InTx(ctx, b.db, func(ctx context.Context) error {
		if from != b.spender {
			allowance, err := b.repo.LockAllowance(ctx, b.key(), key(from), key(b.spender))
			if err != nil {
				return err
			}
			left, underflow := new(uint256.Int).SubOverflow(allowance, amount)
			if underflow {
				return fmt.Errorf("%w: %s allows %s, need %s", ErrInsufficientAllowance, from.Hex(), allowance.Dec(), amount.Dec())
			}
			if err := b.repo.SetAllowance(ctx, b.key(), key(from), key(b.spender), left); err != nil {
				return err
			}
		}
		return b.move(ctx, from, to, amount)
	})
	if err != nil {
		return ExplicitFailure, err
	}
	return ExplicitSuccess, nil
}

// move runs inside a transaction. Both balance rows are locked in key order
// so concurrent opposite transfers cannot deadlock.
func (b *BookAsset) move(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if from == to || amount.IsZero() {
		bal, err := b.BalanceOf(ctx, from)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
		}
		return nil
	}
	first, second := from, to
	if key(second) < key(first) {
		first, second = second, first
	}
	locked := make(map[common.Address]*uint256.Int, 2)
	for _, acct := range []common.Address{first, second} {
		bal, err := b.repo.LockBalance(ctx, b.key(), key(acct))
		if err != nil {
			return err
		}
		locked[acct] = bal
	}
	fromBal, toBal := locked[from], locked[to]
	if _, underflow := fromBal.SubOverflow(fromBal, amount); underflow {
		return fmt.Errorf("%w: %s cannot send %s", ErrInsufficientBalance, from.Hex(), amount.Dec())
	}
	if _, overflow := toBal.AddOverflow(toBal, amount); overflow {
		return fmt.Errorf("credit %s to %s: balance overflows", amount.Dec(), to.Hex())
	}
	if err := b.repo.SetBalance(ctx, b.key(), key(from), fromBal); err != nil {
		return err
	}
	return b.repo.SetBalance(ctx, b.key(), key(to), toBal)
}

func (b *BookAsset) key() string { return key(b.handle) }

func key(a common.Address) string { return a.Hex() }
