package router

import (
	"time"

	"github.com/gift_custody/handler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(giftHandler *handler.GiftHandler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	api := r.Group("/api")
	{
		api.POST("/gifts", giftHandler.CreateGift)
		api.GET("/gifts", giftHandler.ListGifts)
		api.GET("/gifts/:id", giftHandler.GetGift)
		api.GET("/gifts/:id/events", giftHandler.GetEvents)
		api.POST("/gifts/:id/tip", giftHandler.Tip)
		api.POST("/gifts/:id/collect", giftHandler.Collect)
		api.POST("/gifts/:id/transfer", giftHandler.TransferGift)
		api.POST("/gifts/:id/approve", giftHandler.ApproveGift)

		api.POST("/operators", giftHandler.SetOperator)

		api.GET("/assets/:asset/balance/:account", giftHandler.GetBalance)
		api.POST("/assets/:asset/approve", giftHandler.ApproveAsset)
		api.POST("/assets/:asset/mint", giftHandler.MintAsset)
	}

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("caller", c.GetHeader(handler.CallerHeader)),
		)
	}
}
