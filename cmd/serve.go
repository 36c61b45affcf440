package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gift_custody/handler"
	"github.com/gift_custody/model"
	"github.com/gift_custody/router"
	"github.com/gift_custody/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(appConfig.Database, logger)
	if err != nil {
		return err
	}
	if err := model.AutoMigrate(db); err != nil {
		return err
	}

	c, chain, err := buildCustody(ctx, appConfig, db, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	if chain.client != nil {
		rec := service.NewReconciler(db, chain.journal, chain.client, logger.Named("reconciler"))
		if appConfig.Chain.ReconcileInterval > 0 {
			rec.Interval = appConfig.Chain.ReconcileInterval
		}
		go rec.Run(ctx)
	}

	issuers := service.NewStaticIssuers(appConfig.IssuerAddresses()...)
	owners := service.NewOwnershipService(db, logger)
	ledger := service.NewGiftLedger(db, owners, issuers, c, service.SystemClock{}, logger)

	if !appConfig.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(handler.NewGiftHandler(ledger, owners, c, issuers, logger), logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", appConfig.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gift ledger listening",
			zap.String("addr", srv.Addr),
			zap.String("custody", c.Account().Hex()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
