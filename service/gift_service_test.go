package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gift_custody/custody"
	"github.com/gift_custody/model"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const T = uint64(1_000_000)

var (
	issuer         = common.HexToAddress("0x0000000000000000000000000000000000001551")
	recipient      = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	tipper         = common.HexToAddress("0x0000000000000000000000000000000000000717")
	stranger       = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	custodyAccount = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	assetX         = common.HexToAddress("0x00000000000000000000000000000000000000a5")
)

type testClock struct{ now uint64 }

func (c *testClock) Now() uint64 { return c.now }

type fixture struct {
	ctx     context.Context
	db      *gorm.DB
	ledger  *GiftLedger
	owners  *OwnershipService
	custody *custody.Custody
	book    *custody.BookAsset
	clock   *testClock
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupDB(t)
	log := zaptest.NewLogger(t)
	c := custody.New(custodyAccount)
	book := custody.NewBookAsset(db, assetX, "X", 0, custodyAccount)
	c.Register(assetX, book)
	owners := NewOwnershipService(db, log)
	clock := &testClock{now: T}
	return &fixture{
		ctx:     context.Background(),
		db:      db,
		ledger:  NewGiftLedger(db, owners, NewStaticIssuers(issuer), c, clock, log),
		owners:  owners,
		custody: c,
		book:    book,
		clock:   clock,
	}
}

// fund mints amount to who and lets the custody account pull all of it.
func (f *fixture) fund(t *testing.T, who common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.book.Mint(f.ctx, who, uint256.NewInt(amount)))
	bal, err := f.book.BalanceOf(f.ctx, who)
	require.NoError(t, err)
	require.NoError(t, f.book.Approve(f.ctx, who, custodyAccount, bal))
}

func (f *fixture) create(t *testing.T, amount, start, duration uint64) uint64 {
	t.Helper()
	id, err := f.ledger.Create(f.ctx, issuer, CreateRequest{
		Recipient: recipient,
		Asset:     assetX,
		Amount:    uint256.NewInt(amount),
		Name:      "birthday",
		Message:   "happy birthday",
		URL:       "https://example.com/card.png",
		StartTime: start,
		Duration:  duration,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) balance(t *testing.T, who common.Address) uint64 {
	t.Helper()
	bal, err := f.book.BalanceOf(f.ctx, who)
	require.NoError(t, err)
	return bal.Uint64()
}

func (f *fixture) remaining(t *testing.T, id uint64) uint64 {
	t.Helper()
	g, err := f.ledger.Get(f.ctx, id)
	require.NoError(t, err)
	return model.ParseAmount(g.Remaining).Uint64()
}

func (f *fixture) withdrawable(t *testing.T, id uint64) uint64 {
	t.Helper()
	w, err := f.ledger.Withdrawable(f.ctx, id)
	require.NoError(t, err)
	return w.Uint64()
}

func (f *fixture) requireConserved(t *testing.T) {
	t.Helper()
	total, err := f.ledger.TotalRemaining(f.ctx, assetX)
	require.NoError(t, err)
	require.Equal(t, f.balance(t, custodyAccount), total.Uint64())
}

func TestCreateAssignsDenseIDs(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 30)

	for want := uint64(0); want < 3; want++ {
		require.Equal(t, want, f.create(t, 10, T, 100))
	}
	g, err := f.ledger.Get(f.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, assetX.Hex(), g.Asset)
	require.Equal(t, "birthday", g.Name)
	require.Equal(t, "10", g.Remaining)

	owner, err := f.owners.OwnerOf(f.ctx, 2)
	require.NoError(t, err)
	require.Equal(t, recipient, owner)
	require.Equal(t, uint64(30), f.balance(t, custodyAccount))
	require.Equal(t, uint64(0), f.balance(t, issuer))

	evs, err := f.ledger.Events(f.ctx, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, model.EventGiftMinted, evs[0].Kind)
	require.Equal(t, recipient.Hex(), evs[0].Actor)
	require.Equal(t, model.EventTipReceived, evs[1].Kind)
	require.Equal(t, issuer.Hex(), evs[1].Actor)
	require.Equal(t, "10", evs[1].Amount)
	require.NotEmpty(t, evs[1].EventID)
}

func TestCreateRequiresIssuer(t *testing.T) {
	f := newFixture(t)
	f.fund(t, stranger, 10)

	_, err := f.ledger.Create(f.ctx, stranger, CreateRequest{Recipient: recipient, Asset: assetX, Amount: uint256.NewInt(10)})
	require.ErrorIs(t, err, ErrUnauthorized)
	n, err := f.ledger.Count(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCreateRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.book.Mint(f.ctx, issuer, uint256.NewInt(100)))

	// no allowance
	_, err := f.ledger.Create(f.ctx, issuer, CreateRequest{Recipient: recipient, Asset: assetX, Amount: uint256.NewInt(100)})
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, custody.ErrInsufficientAllowance)

	// unregistered asset
	_, err = f.ledger.Create(f.ctx, issuer, CreateRequest{Recipient: recipient, Asset: common.HexToAddress("0xdead"), Amount: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, custody.ErrUnknownAsset)

	n, err := f.ledger.Count(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = f.owners.OwnerOf(f.ctx, 0)
	require.ErrorIs(t, err, ErrNotFound)
	var events int64
	require.NoError(t, f.db.Model(&model.GiftEvent{}).Count(&events).Error)
	require.Zero(t, events)

	// the id is still free afterwards
	f.fund(t, issuer, 0)
	require.Equal(t, uint64(0), f.create(t, 100, T, 10))
}

func TestCreateZeroAmountAndValidation(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 0, T, 10)
	require.Equal(t, uint64(0), f.remaining(t, id))

	_, err := f.ledger.Create(f.ctx, issuer, CreateRequest{Asset: assetX})
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = f.ledger.Create(f.ctx, issuer, CreateRequest{Recipient: recipient})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

// Linear release and a capped withdrawal.
func TestWithdrawLinearSchedule(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 1000)
	id := f.create(t, 1000, T, 1000)

	f.clock.now = T
	require.Equal(t, uint64(0), f.withdrawable(t, id))
	f.clock.now = T + 500
	require.Equal(t, uint64(500), f.withdrawable(t, id))
	f.clock.now = T + 1000
	require.Equal(t, uint64(1000), f.withdrawable(t, id))

	got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(2000))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), got.Uint64())
	require.Equal(t, uint64(0), f.remaining(t, id))
	require.Equal(t, uint64(1000), f.balance(t, recipient))
	f.requireConserved(t)

	// drained gifts persist
	g, err := f.ledger.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, "1000", g.Withdrawn)
	_, err = f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientUnlocked)
}

func TestWithdrawBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 100)
	id := f.create(t, 100, T+100, 0)

	_, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrInsufficientUnlocked)

	f.clock.now = T + 100
	got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Uint64())
}

func TestWithdrawPartialNeverExceedsVested(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 1000)
	id := f.create(t, 1000, T, 1000)

	f.clock.now = T + 250
	got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Uint64())
	require.Equal(t, uint64(150), f.withdrawable(t, id))

	got, err = f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(150), got.Uint64())

	_, err = f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientUnlocked)
	require.Equal(t, uint64(750), f.remaining(t, id))
	require.Equal(t, uint64(250), f.balance(t, recipient))
}

// Tipping after a partial withdrawal.
func TestAugmentAfterPartialWithdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 1000)
	f.fund(t, tipper, 500)
	id := f.create(t, 1000, T, 1000)

	f.clock.now = T + 500
	_, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(300))
	require.NoError(t, err)
	require.Equal(t, uint64(700), f.remaining(t, id))

	require.NoError(t, f.ledger.Augment(f.ctx, tipper, id, uint256.NewInt(500), "thanks"))
	require.Equal(t, uint64(1200), f.remaining(t, id))

	// 1500 deposited, half vested, 300 already collected
	require.Equal(t, uint64(450), f.withdrawable(t, id))
	got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, uint64(450), got.Uint64())

	f.clock.now = T + 1000
	require.Equal(t, uint64(750), f.withdrawable(t, id))
	require.Equal(t, uint64(750), f.remaining(t, id))
	f.requireConserved(t)

	evs, err := f.ledger.Events(f.ctx, id)
	require.NoError(t, err)
	var tips []*model.GiftEvent
	for _, ev := range evs {
		if ev.Kind == model.EventTipReceived {
			tips = append(tips, ev)
		}
	}
	require.Len(t, tips, 2)
	require.Equal(t, tipper.Hex(), tips[1].Actor)
	require.JSONEq(t, `{"message":"thanks"}`, string(tips[1].Payload))
}

func TestAugmentErrors(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 10)
	id := f.create(t, 10, T, 10)

	err := f.ledger.Augment(f.ctx, tipper, 99, uint256.NewInt(1), "")
	require.ErrorIs(t, err, ErrNotFound)

	// tipper has neither balance nor allowance
	err = f.ledger.Augment(f.ctx, tipper, id, uint256.NewInt(5), "hi")
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, uint64(10), f.remaining(t, id))
	f.requireConserved(t)
}

func TestAugmentZeroStillNotifies(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 0, T, 10)

	require.NoError(t, f.ledger.Augment(f.ctx, stranger, id, uint256.NewInt(0), "just a note"))
	evs, err := f.ledger.Events(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	require.Equal(t, stranger.Hex(), evs[2].Actor)
	require.Equal(t, "0", evs[2].Amount)
}

func TestAugmentOverflow(t *testing.T) {
	f := newFixture(t)
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, f.book.Mint(f.ctx, issuer, max))
	require.NoError(t, f.book.Approve(f.ctx, issuer, custodyAccount, max))
	id, err := f.ledger.Create(f.ctx, issuer, CreateRequest{Recipient: recipient, Asset: assetX, Amount: max})
	require.NoError(t, err)

	f.fund(t, tipper, 1)
	err = f.ledger.Augment(f.ctx, tipper, id, uint256.NewInt(1), "")
	require.ErrorIs(t, err, ErrOverflow)
	g, err := f.ledger.Get(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, max.Dec(), g.Remaining)
	require.Equal(t, uint64(1), f.balance(t, tipper))
}

// Only the owner or an approved agent collects.
func TestWithdrawRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 100)
	id := f.create(t, 100, T, 0)

	_, err := f.ledger.Withdraw(f.ctx, stranger, id, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, uint64(100), f.remaining(t, id))

	_, err = f.ledger.Withdraw(f.ctx, recipient, 42, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.owners.Approve(f.ctx, recipient, id, stranger))
	got, err := f.ledger.Withdraw(f.ctx, stranger, id, uint256.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, uint64(40), got.Uint64())
	require.Equal(t, uint64(40), f.balance(t, stranger))

	// after a transfer the old owner is locked out
	require.NoError(t, f.owners.Transfer(f.ctx, recipient, id, tipper))
	_, err = f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.Withdraw(f.ctx, stranger, id, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorized)
	got, err = f.ledger.Withdraw(f.ctx, tipper, id, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(60), got.Uint64())
}

// reentrantAsset calls back into the ledger from inside its outbound transfer.
type reentrantAsset struct {
	*custody.BookAsset
	ledger  *GiftLedger
	giftID  uint64
	caller  common.Address
	request *uint256.Int

	reentered  bool
	reentryErr error
	reentryGot *uint256.Int
}

func (a *reentrantAsset) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (custody.Result, error) {
	if !a.reentered {
		a.reentered = true
		a.reentryGot, a.reentryErr = a.ledger.Withdraw(ctx, a.caller, a.giftID, a.request)
	}
	return a.BookAsset.Transfer(ctx, to, amount)
}

// A reentrant withdraw sees the decremented record.
func TestWithdrawReentrancy(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 1000)
	id := f.create(t, 1000, T, 1000)

	evil := &reentrantAsset{BookAsset: f.book, ledger: f.ledger, giftID: id, caller: recipient, request: uint256.NewInt(1000)}
	f.custody.Register(assetX, evil)

	f.clock.now = T + 500
	got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(500), got.Uint64())
	require.True(t, evil.reentered)
	require.ErrorIs(t, evil.reentryErr, ErrInsufficientUnlocked)

	require.Equal(t, uint64(500), f.remaining(t, id))
	require.Equal(t, uint64(500), f.balance(t, recipient))
	f.requireConserved(t)

	evs, err := f.ledger.Events(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.EventCollected, evs[len(evs)-1].Kind)
	require.Len(t, evs, 3)
}

func TestWithdrawReentrancyCannotExceedVested(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 1000)
	id := f.create(t, 1000, T, 1000)

	evil := &reentrantAsset{BookAsset: f.book, ledger: f.ledger, giftID: id, caller: recipient, request: uint256.NewInt(1000)}
	f.custody.Register(assetX, evil)

	f.clock.now = T + 500
	got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(200))
	require.NoError(t, err)
	require.Equal(t, uint64(200), got.Uint64())
	require.NoError(t, evil.reentryErr)
	require.Equal(t, uint64(300), evil.reentryGot.Uint64())

	// both legs together stay within what had vested
	require.Equal(t, uint64(500), f.balance(t, recipient))
	require.Equal(t, uint64(500), f.remaining(t, id))
	f.requireConserved(t)
}

type failingOutAsset struct {
	*custody.BookAsset
}

func (a failingOutAsset) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (custody.Result, error) {
	return custody.ExplicitFailure, nil
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	f.fund(t, issuer, 100)
	id := f.create(t, 100, T, 0)
	f.custody.Register(assetX, failingOutAsset{f.book})

	_, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, uint64(100), f.remaining(t, id))
	require.Equal(t, uint64(100), f.withdrawable(t, id))
	evs, err := f.ledger.Events(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, evs, 2)
}

func TestConservationUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	f.fund(t, issuer, 1_000_000)
	f.fund(t, tipper, 200_000)

	var inflow, outflow uint64
	var ids []uint64
	for step := 0; step < 150; step++ {
		f.clock.now += uint64(rng.Intn(50))
		switch op := rng.Intn(3); {
		case op == 0 || len(ids) == 0:
			amount := uint64(rng.Intn(5000))
			id, err := f.ledger.Create(f.ctx, issuer, CreateRequest{
				Recipient: recipient,
				Asset:     assetX,
				Amount:    uint256.NewInt(amount),
				StartTime: f.clock.now + uint64(rng.Intn(100)),
				Duration:  uint64(rng.Intn(500)),
			})
			if err == nil {
				ids = append(ids, id)
				inflow += amount
			} else {
				require.ErrorIs(t, err, ErrTransferFailed)
			}
		case op == 1:
			amount := uint64(rng.Intn(3000))
			id := ids[rng.Intn(len(ids))]
			if err := f.ledger.Augment(f.ctx, tipper, id, uint256.NewInt(amount), "tip"); err == nil {
				inflow += amount
			} else {
				require.ErrorIs(t, err, ErrTransferFailed)
			}
		default:
			id := ids[rng.Intn(len(ids))]
			before := f.withdrawable(t, id)
			got, err := f.ledger.Withdraw(f.ctx, recipient, id, uint256.NewInt(uint64(rng.Intn(4000))))
			if err == nil {
				require.LessOrEqual(t, got.Uint64(), before)
				outflow += got.Uint64()
			} else {
				require.ErrorIs(t, err, ErrInsufficientUnlocked)
			}
		}
		total, err := f.ledger.TotalRemaining(f.ctx, assetX)
		require.NoError(t, err)
		require.Equal(t, inflow-outflow, total.Uint64())
		require.Equal(t, inflow-outflow, f.balance(t, custodyAccount))
	}
	require.Equal(t, outflow, f.balance(t, recipient))
}
