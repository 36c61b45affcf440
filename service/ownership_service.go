package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gift_custody/model"
	"github.com/gift_custody/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OwnershipService is the registry of gift tokens: who holds each id and
// who else may act on it.
type OwnershipService struct {
	db   *gorm.DB
	repo *repository.OwnerRepository
	log  *zap.Logger
}

func NewOwnershipService(db *gorm.DB, log *zap.Logger) *OwnershipService {
	return &OwnershipService{db: db, repo: repository.NewOwnerRepository(db), log: log}
}

// Register records owner as the holder of a freshly minted id.
func (s *OwnershipService) Register(ctx context.Context, giftID uint64, owner common.Address) error {
	if owner == (common.Address{}) {
		return fmt.Errorf("%w: zero owner", ErrInvalidAddress)
	}
	return s.repo.Create(ctx, &model.GiftOwner{GiftID: giftID, Owner: owner.Hex()})
}

func (s *OwnershipService) OwnerOf(ctx context.Context, giftID uint64) (common.Address, error) {
	o, err := s.find(ctx, giftID)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(o.Owner), nil
}

// IsOwnerOrApproved reports whether caller is the owner of giftID, its
// approved address, or an operator of the owner. Unknown ids authorize
// nobody.
func (s *OwnershipService) IsOwnerOrApproved(ctx context.Context, caller common.Address, giftID uint64) (bool, error) {
	o, err := s.find(ctx, giftID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.authorized(ctx, o, caller, true)
}

// Approve lets spender act on giftID until the token next changes hands.
func (s *OwnershipService) Approve(ctx context.Context, caller common.Address, giftID uint64, spender common.Address) error {
	o, err := s.find(ctx, giftID)
	if err != nil {
		return err
	}
	ok, err := s.authorized(ctx, o, caller, false)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s cannot approve gift %d", ErrUnauthorized, caller.Hex(), giftID)
	}
	approved := ""
	if spender != (common.Address{}) {
		approved = spender.Hex()
	}
	return s.repo.Update(ctx, giftID, o.Owner, approved)
}

func (s *OwnershipService) SetApprovalForAll(ctx context.Context, caller, operator common.Address, approved bool) error {
	if operator == (common.Address{}) || operator == caller {
		return fmt.Errorf("%w: operator %s", ErrInvalidAddress, operator.Hex())
	}
	return s.repo.SetOperator(ctx, caller.Hex(), operator.Hex(), approved)
}

// Transfer hands giftID to to and clears its approval.
func (s *OwnershipService) Transfer(ctx context.Context, caller common.Address, giftID uint64, to common.Address) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: zero recipient", ErrInvalidAddress)
	}
	var from string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx := repository.WithTx(ctx, tx)
		o, err := s.find(ctx, giftID)
		if err != nil {
			return err
		}
		ok, err := s.authorized(ctx, o, caller, true)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s cannot transfer gift %d", ErrUnauthorized, caller.Hex(), giftID)
		}
		from = o.Owner
		return s.repo.Update(ctx, giftID, to.Hex(), "")
	})
	if err != nil {
		return err
	}
	s.log.Info("gift transferred",
		zap.Uint64("gift_id", giftID),
		zap.String("from", from),
		zap.String("to", to.Hex()))
	return nil
}

func (s *OwnershipService) ListOwned(ctx context.Context, owner common.Address, page, size int) ([]uint64, int64, error) {
	return s.repo.ListByOwner(ctx, owner.Hex(), page, size)
}

func (s *OwnershipService) find(ctx context.Context, giftID uint64) (*model.GiftOwner, error) {
	o, err := s.repo.Find(ctx, giftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, giftID)
	}
	return o, err
}

func (s *OwnershipService) authorized(ctx context.Context, o *model.GiftOwner, caller common.Address, allowApproved bool) (bool, error) {
	if caller == (common.Address{}) {
		return false, nil
	}
	who := caller.Hex()
	if o.Owner == who || (allowApproved && o.Approved == who) {
		return true, nil
	}
	return s.repo.IsOperator(ctx, o.Owner, who)
}
