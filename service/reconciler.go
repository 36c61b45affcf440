package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gift_custody/model"
	"github.com/gift_custody/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reconcileBatchSize    = 100
	reconcileGracePeriod  = 5 * time.Minute
	reconcilePollInterval = 30 * time.Second
)

// ReceiptSource looks up mined transactions.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Reconciler settles journaled chain transfers against the ledger. A pending
// transfer gets its receipt re-read; a mined transfer is settled when the
// ledger operation that made it committed, and reported as orphaned when it
// did not (tokens moved with no matching gift record).
type Reconciler struct {
	events   *repository.EventRepository
	journal  *repository.TransferRepository
	receipts ReceiptSource
	log      *zap.Logger

	Grace    time.Duration
	Interval time.Duration
	now      func() time.Time
}

func NewReconciler(db *gorm.DB, journal *repository.TransferRepository, receipts ReceiptSource, log *zap.Logger) *Reconciler {
	return &Reconciler{
		events:   repository.NewEventRepository(db),
		journal:  journal,
		receipts: receipts,
		log:      log,
		Grace:    reconcileGracePeriod,
		Interval: reconcilePollInterval,
		now:      time.Now,
	}
}

// Run polls until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Once(ctx); err != nil {
				r.log.Warn("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// Once makes a single pass over transfers untouched for longer than Grace.
func (r *Reconciler) Once(ctx context.Context) error {
	cutoff := r.now().Add(-r.Grace)

	pending, err := r.journal.ListStale(ctx, model.TransferPending, cutoff, reconcileBatchSize)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if err := r.refresh(ctx, t); err != nil {
			r.log.Warn("refresh transfer", zap.String("tx", t.TxHash), zap.Error(err))
		}
	}

	mined, err := r.journal.ListStale(ctx, model.TransferMined, cutoff, reconcileBatchSize)
	if err != nil {
		return err
	}
	for _, t := range mined {
		if err := r.settle(ctx, t); err != nil {
			r.log.Warn("settle transfer", zap.String("tx", t.TxHash), zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) refresh(ctx context.Context, t model.ChainTransfer) error {
	receipt, err := r.receipts.TransactionReceipt(ctx, common.HexToHash(t.TxHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	status := model.TransferMined
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = model.TransferReverted
	}
	if err := r.journal.SetStatus(ctx, t.TxHash, status); err != nil {
		return err
	}
	if status == model.TransferMined {
		t.Status = status
		return r.settle(ctx, t)
	}
	return nil
}

func (r *Reconciler) settle(ctx context.Context, t model.ChainTransfer) error {
	committed := false
	if t.Reference != "" {
		var err error
		if committed, err = r.events.ExistsByReference(ctx, t.Reference); err != nil {
			return err
		}
	}
	if committed {
		return r.journal.SetStatus(ctx, t.TxHash, model.TransferSettled)
	}
	r.log.Error("chain transfer has no committed ledger operation",
		zap.String("tx", t.TxHash),
		zap.String("method", t.Method),
		zap.String("asset", t.Asset),
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.String("amount", t.Amount),
		zap.String("reference", t.Reference))
	return r.journal.SetStatus(ctx, t.TxHash, model.TransferOrphaned)
}
