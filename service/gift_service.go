package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gift_custody/custody"
	"github.com/gift_custody/model"
	"github.com/gift_custody/repository"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ownership is the part of the token registry the ledger relies on.
type Ownership interface {
	Register(ctx context.Context, giftID uint64, owner common.Address) error
	IsOwnerOrApproved(ctx context.Context, caller common.Address, giftID uint64) (bool, error)
}

// AssetCustody moves value in and out of the custody account.
type AssetCustody interface {
	Account() common.Address
	TransferIn(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, asset, to common.Address, amount *uint256.Int) error
}

// CreateRequest describes a new gift.
type CreateRequest struct {
	Recipient common.Address
	Asset     common.Address
	Amount    *uint256.Int
	Name      string
	Message   string
	URL       string
	StartTime uint64
	Duration  uint64
}

// GiftLedger owns the gift records. Every mutating operation runs as one
// database transaction: record changes are written first and the custody
// transfer comes last, so a failed transfer discards everything and a
// reentrant call made by an asset during the transfer sees the updated
// record.
type GiftLedger struct {
	db      *gorm.DB
	gifts   *repository.GiftRepository
	events  *EventRecorder
	owners  Ownership
	issuers IssuerPolicy
	custody AssetCustody
	clock   Clock
	log     *zap.Logger

	mu sync.Mutex // serializes top-level operations
}

func NewGiftLedger(db *gorm.DB, owners Ownership, issuers IssuerPolicy, assets AssetCustody, clock Clock, log *zap.Logger) *GiftLedger {
	return &GiftLedger{
		db:      db,
		gifts:   repository.NewGiftRepository(db),
		events:  NewEventRecorder(db),
		owners:  owners,
		issuers: issuers,
		custody: assets,
		clock:   clock,
		log:     log,
	}
}

// Create mints a gift for req.Recipient and pulls req.Amount from caller.
func (l *GiftLedger) Create(ctx context.Context, caller common.Address, req CreateRequest) (uint64, error) {
	if !l.issuers.IsIssuer(ctx, caller) {
		return 0, fmt.Errorf("%w: %s is not an issuer", ErrUnauthorized, caller.Hex())
	}
	if req.Recipient == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero recipient", ErrInvalidAddress)
	}
	if req.Asset == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero asset", ErrInvalidAddress)
	}
	amount := req.Amount
	if amount == nil {
		amount = new(uint256.Int)
	}

	var giftID uint64
	err := l.run(ctx, "create", func(ctx context.Context, o *operation) error {
		id, err := l.gifts.Count(ctx)
		if err != nil {
			return err
		}
		gift := &model.Gift{
			GiftID:    id,
			Asset:     req.Asset.Hex(),
			Name:      req.Name,
			Message:   req.Message,
			URL:       req.URL,
			StartTime: req.StartTime,
			Duration:  req.Duration,
		}
		gift.SetAmounts(amount, new(uint256.Int), amount)
		if err := l.gifts.Create(ctx, gift); err != nil {
			return fmt.Errorf("append gift %d: %w", id, err)
		}
		if err := l.owners.Register(ctx, id, req.Recipient); err != nil {
			return fmt.Errorf("register gift %d: %w", id, err)
		}

		if err := o.record(ctx, l.events, &model.GiftEvent{
			GiftID: id,
			Kind:   model.EventGiftMinted,
			Actor:  req.Recipient.Hex(),
		}, map[string]interface{}{"recipient": req.Recipient.Hex(), "start_time": req.StartTime}); err != nil {
			return err
		}
		if err := o.record(ctx, l.events, &model.GiftEvent{
			GiftID: id,
			Kind:   model.EventTipReceived,
			Actor:  caller.Hex(),
			Asset:  req.Asset.Hex(),
			Amount: amount.Dec(),
		}, map[string]interface{}{"message": req.Message}); err != nil {
			return err
		}

		if err := l.custody.TransferIn(ctx, req.Asset, caller, l.custody.Account(), amount); err != nil {
			return err
		}
		giftID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return giftID, nil
}

// Augment adds amount from caller to an existing gift. Anyone may tip.
func (l *GiftLedger) Augment(ctx context.Context, caller common.Address, giftID uint64, amount *uint256.Int, message string) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.run(ctx, "augment", func(ctx context.Context, o *operation) error {
		gift, err := l.load(ctx, giftID)
		if err != nil {
			return err
		}
		deposited, withdrawn, remaining := gift.Amounts()
		if _, overflow := deposited.AddOverflow(deposited, amount); overflow {
			return fmt.Errorf("%w: gift %d deposits", ErrOverflow, giftID)
		}
		if _, overflow := remaining.AddOverflow(remaining, amount); overflow {
			return fmt.Errorf("%w: gift %d remaining", ErrOverflow, giftID)
		}
		gift.SetAmounts(deposited, withdrawn, remaining)
		if err := l.gifts.SaveAmounts(ctx, gift); err != nil {
			return err
		}

		if err := o.record(ctx, l.events, &model.GiftEvent{
			GiftID: giftID,
			Kind:   model.EventTipReceived,
			Actor:  caller.Hex(),
			Asset:  gift.Asset,
			Amount: amount.Dec(),
		}, map[string]interface{}{"message": message}); err != nil {
			return err
		}

		return l.custody.TransferIn(ctx, common.HexToAddress(gift.Asset), caller, l.custody.Account(), amount)
	})
}

// Withdraw sends caller the lesser of requested and what has vested but not
// yet been collected, returning the amount moved.
func (l *GiftLedger) Withdraw(ctx context.Context, caller common.Address, giftID uint64, requested *uint256.Int) (*uint256.Int, error) {
	if requested == nil {
		requested = new(uint256.Int)
	}
	var moved *uint256.Int
	err := l.run(ctx, "withdraw", func(ctx context.Context, o *operation) error {
		gift, err := l.load(ctx, giftID)
		if err != nil {
			return err
		}
		ok, err := l.owners.IsOwnerOrApproved(ctx, caller, giftID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s cannot collect gift %d", ErrUnauthorized, caller.Hex(), giftID)
		}

		amount := available(gift, l.clock.Now())
		if requested.Lt(amount) {
			amount.Set(requested)
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: gift %d", ErrInsufficientUnlocked, giftID)
		}

		deposited, withdrawn, remaining := gift.Amounts()
		if _, underflow := remaining.SubOverflow(remaining, amount); underflow {
			return fmt.Errorf("%w: gift %d remaining", ErrUnderflow, giftID)
		}
		if _, overflow := withdrawn.AddOverflow(withdrawn, amount); overflow {
			return fmt.Errorf("%w: gift %d withdrawals", ErrOverflow, giftID)
		}
		gift.SetAmounts(deposited, withdrawn, remaining)
		if err := l.gifts.SaveAmounts(ctx, gift); err != nil {
			return err
		}

		if err := o.record(ctx, l.events, &model.GiftEvent{
			GiftID: giftID,
			Kind:   model.EventCollected,
			Actor:  caller.Hex(),
			Asset:  gift.Asset,
			Amount: amount.Dec(),
		}, nil); err != nil {
			return err
		}

		if err := l.custody.TransferOut(ctx, common.HexToAddress(gift.Asset), caller, amount); err != nil {
			return err
		}
		moved = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Withdrawable is what Withdraw would release right now.
func (l *GiftLedger) Withdrawable(ctx context.Context, giftID uint64) (*uint256.Int, error) {
	gift, err := l.Get(ctx, giftID)
	if err != nil {
		return nil, err
	}
	return available(gift, l.clock.Now()), nil
}

func (l *GiftLedger) Get(ctx context.Context, giftID uint64) (*model.Gift, error) {
	gift, err := l.gifts.FindByID(ctx, giftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, giftID)
	}
	return gift, err
}

func (l *GiftLedger) GetMany(ctx context.Context, ids []uint64) ([]*model.Gift, error) {
	return l.gifts.ListByIDs(ctx, ids)
}

func (l *GiftLedger) Count(ctx context.Context) (uint64, error) {
	return l.gifts.Count(ctx)
}

func (l *GiftLedger) Events(ctx context.Context, giftID uint64) ([]*model.GiftEvent, error) {
	if _, err := l.Get(ctx, giftID); err != nil {
		return nil, err
	}
	return l.events.ListByGift(ctx, giftID)
}

// TotalRemaining sums the remaining balance of every gift in asset; it must
// equal the custody account's holding of that asset.
func (l *GiftLedger) TotalRemaining(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	sum, err := l.gifts.SumRemainingByAsset(ctx, asset.Hex())
	if err != nil {
		return nil, err
	}
	return model.ParseAmount(sum), nil
}

func (l *GiftLedger) load(ctx context.Context, giftID uint64) (*model.Gift, error) {
	gift, err := l.gifts.FindForUpdate(ctx, giftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, giftID)
	}
	return gift, err
}

// available vests the cumulative deposits, takes off what was already
// collected and caps the result at what is still held.
func available(gift *model.Gift, now uint64) *uint256.Int {
	deposited, withdrawn, remaining := gift.Amounts()
	unlocked := gift.Schedule().Unlocked(deposited, now)
	out, underflow := new(uint256.Int).SubOverflow(unlocked, withdrawn)
	if underflow {
		return new(uint256.Int)
	}
	if remaining.Lt(out) {
		out.Set(remaining)
	}
	return out
}

type operationKey struct{}

// operation collects the notifications of one ledger call so they are logged
// only once the enclosing transaction commits. ref is shared by every event
// and chain transfer the call makes, nested calls included.
type operation struct {
	ref    string
	events []*model.GiftEvent
}

func (o *operation) record(ctx context.Context, rec *EventRecorder, ev *model.GiftEvent, payload map[string]interface{}) error {
	ev.Reference = o.ref
	if err := rec.Record(ctx, ev, payload); err != nil {
		return fmt.Errorf("record %s: %w", ev.Kind, err)
	}
	o.events = append(o.events, ev)
	return nil
}

// run executes fn atomically. A call arriving with a transaction already in
// its context comes from a collaborator inside another operation; it joins
// that transaction through a savepoint instead of taking the lock again.
func (l *GiftLedger) run(ctx context.Context, name string, fn func(ctx context.Context, o *operation) error) error {
	o := &operation{}
	if tx, ok := repository.TxFrom(ctx); ok {
		o.ref, _ = custody.ReferenceFrom(ctx)
		err := tx.Transaction(func(inner *gorm.DB) error {
			return fn(context.WithValue(repository.WithTx(ctx, inner), operationKey{}, o), o)
		})
		if err != nil {
			l.log.Warn("nested gift operation rolled back", zap.String("op", name), zap.Error(err))
			return err
		}
		if parent, ok := ctx.Value(operationKey{}).(*operation); ok {
			parent.events = append(parent.events, o.events...)
		}
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	o.ref = uuid.NewString()
	ctx = custody.WithReference(ctx, o.ref)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(repository.WithTx(ctx, tx), operationKey{}, o), o)
	})
	if err != nil {
		l.log.Warn("gift operation rolled back", zap.String("op", name), zap.Error(err))
		return err
	}
	for _, ev := range o.events {
		l.log.Info("gift event",
			zap.String("kind", ev.Kind),
			zap.Uint64("gift_id", ev.GiftID),
			zap.String("actor", ev.Actor),
			zap.String("asset", ev.Asset),
			zap.String("amount", ev.Amount),
			zap.String("event_id", ev.EventID))
	}
	return nil
}
