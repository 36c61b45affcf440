package cmd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gift_custody/config"
	"github.com/gift_custody/custody"
	"github.com/gift_custody/repository"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDB(c config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case "postgres":
		dialector = postgres.Open(c.DSN)
	case "sqlite":
		dialector = sqlite.Open(c.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Driver, err)
	}
	return db, nil
}

// newGormLogger sends gorm's warnings (slow queries, failed statements) to
// zap. Lookups that find nothing are routine here and are not logged.
func newGormLogger(log *zap.Logger) gormlogger.Interface {
	stdLog, _ := zap.NewStdLogAt(log.Named("gorm"), zapcore.WarnLevel)
	return gormlogger.New(stdLog, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// custodyAccount resolves the custody address and, when a mnemonic is
// configured, its signing key.
func custodyAccount(c config.CustodyConfig) (common.Address, *ecdsa.PrivateKey, error) {
	if c.Mnemonic != "" {
		key, addr, err := custody.DeriveKey(c.Mnemonic, c.AccountIndex)
		if err != nil {
			return common.Address{}, nil, err
		}
		return addr, key, nil
	}
	if c.Address != "" {
		return common.HexToAddress(c.Address), nil, nil
	}
	return common.Address{}, nil, errors.New("custody.mnemonic or custody.address must be set")
}

// chainSet is what buildCustody wires up for on-chain assets. client is nil
// when no erc20 asset is configured.
type chainSet struct {
	client  *ethclient.Client
	journal *repository.TransferRepository
}

func (s *chainSet) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// buildCustody registers every configured asset.
func buildCustody(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) (*custody.Custody, *chainSet, error) {
	account, key, err := custodyAccount(cfg.Custody)
	if err != nil {
		return nil, nil, err
	}
	c := custody.New(account)
	chain := &chainSet{journal: repository.NewTransferRepository(db)}

	var signer *custody.Signer
	for _, a := range cfg.Assets {
		handle := common.HexToAddress(a.Address)
		switch a.Kind {
		case config.AssetBook:
			c.Register(handle, custody.NewBookAsset(db, handle, a.Symbol, a.Decimals, account))
		case config.AssetERC20:
			if chain.client == nil {
				if chain.client, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL); err != nil {
					return nil, nil, fmt.Errorf("dial %s: %w", cfg.Chain.RPCURL, err)
				}
				if signer, err = custody.NewSigner(cfg.Chain.SignerURL, key, cfg.Chain.ChainID); err != nil {
					chain.Close()
					return nil, nil, err
				}
			}
			token, err := custody.NewERC20Asset(chain.client, signer, chain.journal, custody.ERC20Config{
				Token:          handle,
				Custody:        account,
				Symbol:         a.Symbol,
				Decimals:       a.Decimals,
				GasLimit:       cfg.Chain.GasLimit,
				ReceiptTimeout: cfg.Chain.ReceiptTimeout,
			})
			if err != nil {
				chain.Close()
				return nil, nil, err
			}
			c.Register(handle, token)
		}
		log.Info("asset registered",
			zap.String("asset", handle.Hex()),
			zap.String("symbol", a.Symbol),
			zap.String("kind", strings.ToLower(a.Kind)),
		)
	}
	return c, chain, nil
}
