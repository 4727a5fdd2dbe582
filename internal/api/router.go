package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	compressHandler "image-compressor/internal/api/handlers/compress"
	"image-compressor/internal/api/handlers/health"
	"image-compressor/internal/api/middleware"
	"image-compressor/internal/core/compress"
	"image-compressor/internal/core/page"
	"image-compressor/internal/infrastructure/cache"
	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// 超時設置
	timeoutDuration = 120 * time.Second
	// 請求體大小限制 (20MB，頁面請求可能內嵌多張 data URL 圖片)
	maxBodySize = 20 << 20
)

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, cacheManager *cache.Manager) (*gin.Engine, error) {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 創建路由引擎
	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New()) // 自動生成請求 ID

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 請求體大小限制
	router.Use(middleware.BodySizeLimit(maxBodySize))

	// 限流
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	// 請求去重
	router.Use(middleware.Deduplication(cfg))

	common.LogInfo("Initializing services",
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Int("queue_workers", cfg.Queue.Workers),
		zap.Int("max_width", cfg.Compress.MaxWidth),
		zap.Int("max_height", cfg.Compress.MaxHeight),
		zap.Float64("quality", cfg.Compress.Quality),
		zap.Duration("timeout", timeoutDuration),
	)

	// 初始化服務
	fetcher := compress.NewFetcher(cfg)
	compressService := compress.NewService(cfg, fetcher, cacheManager)
	if compressService == nil {
		common.LogError("Failed to initialize compress service")
		return nil, fmt.Errorf("failed to initialize compress service")
	}

	// 初始化頁面處理隊列與改寫器
	queue := page.NewQueue(&cfg.Queue)
	rewriter := page.NewRewriter(compressService, queue)

	// 超時與服務注入中間件
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeoutDuration)
		defer cancel()

		req := c.Request.WithContext(ctx)
		c.Request = req

		// 設置配置與服務
		c.Set("config", cfg)
		c.Set("queue", queue)
		c.Set("cache_manager", cacheManager)

		// 處理請求
		c.Next()

		// 檢查是否超時
		if ctx.Err() == context.DeadlineExceeded {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetHeader("X-Request-ID")),
				zap.Duration("timeout", timeoutDuration),
			)
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error": "Request timeout",
				"code":  "REQUEST_TIMEOUT",
				"details": gin.H{
					"timeout": timeoutDuration.String(),
				},
			})
			c.Abort()
			return
		}
	})

	// 健康檢查路由
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)

	// API 路由組
	api := router.Group("/api/v1")
	{
		compressGroup := api.Group("/compress")
		{
			// 單張圖片壓縮
			compressGroup.POST("/image", compressHandler.HandleImage(compressService, cfg))

			// 整頁 HTML 圖片壓縮
			compressGroup.POST("/page", compressHandler.HandlePage(rewriter, cfg))

			// 動態片段壓縮（初始頁面之後插入的元素）
			compressGroup.POST("/fragment", compressHandler.HandleFragment(rewriter, cfg))
		}
	}

	common.LogInfo("Router setup completed")

	return router, nil
}
