package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/gift_custody/model"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func TestForUpdateLocksOnPostgres(t *testing.T) {
	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=gift dbname=gift sslmode=disable"}),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	stmt := forUpdate(pg).Where("asset = ?", "0xa5").First(&model.AssetBalance{}).Statement
	require.Contains(t, stmt.SQL.String(), "FOR UPDATE")

	lite := setupDB(t).Session(&gorm.Session{DryRun: true})
	stmt = forUpdate(lite).Where("asset = ?", "0xa5").First(&model.AssetBalance{}).Statement
	require.NotContains(t, stmt.SQL.String(), "FOR UPDATE")
}

func TestLockBalanceSeedsMissingRow(t *testing.T) {
	ctx := context.Background()
	repo := NewBalanceRepository(setupDB(t))

	err := InTx(ctx, repo.db, func(ctx context.Context) error {
		bal, err := repo.LockBalance(ctx, "0xa5", "0xa1")
		require.NoError(t, err)
		require.True(t, bal.IsZero())
		return repo.SetBalance(ctx, "0xa5", "0xa1", uint256.NewInt(9))
	})
	require.NoError(t, err)

	err = InTx(ctx, repo.db, func(ctx context.Context) error {
		bal, err := repo.LockBalance(ctx, "0xa5", "0xa1")
		require.NoError(t, err)
		require.Equal(t, uint64(9), bal.Uint64())
		allowance, err := repo.LockAllowance(ctx, "0xa5", "0xa1", "0xc0")
		require.NoError(t, err)
		require.True(t, allowance.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestInTxJoinsContextTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := NewBalanceRepository(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		outer := WithTx(ctx, tx)
		if err := InTx(outer, db, func(ctx context.Context) error {
			got, ok := TxFrom(ctx)
			require.True(t, ok)
			require.Same(t, tx, got)
			return repo.SetBalance(ctx, "0xa5", "0xa1", uint256.NewInt(3))
		}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	bal, err := repo.Balance(ctx, "0xa5", "0xa1")
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}
