package compress

import (
	"net/http"

	corecompress "image-compressor/internal/core/compress"
	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ImageRequest 單張圖片壓縮請求
type ImageRequest struct {
	Source    string  `json:"source" binding:"required"`
	MaxWidth  int     `json:"max_width,omitempty"`
	MaxHeight int     `json:"max_height,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
}

// ImageResponse 單張圖片壓縮響應
type ImageResponse struct {
	Source     string `json:"source"`
	Compressed bool   `json:"compressed"`
}

// HandleImage 處理單張圖片壓縮請求
func HandleImage(service *corecompress.Service, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = common.GenerateUUID()
			c.Header("X-Request-ID", requestID)
		}

		// 解析請求
		var req ImageRequest
		if err := common.DecodeJSON(c.Request.Body, &req); err != nil {
			common.LogError("Invalid request format",
				zap.Error(err),
				zap.String("request_id", requestID))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
			return
		}

		// 驗證來源
		if req.Source == "" {
			common.LogError("Empty image source",
				zap.String("request_id", requestID))
			c.JSON(common.ErrInvalidImageSource.Status, gin.H{
				"error": common.ErrInvalidImageSource.Message,
				"code":  common.ErrInvalidImageSource.Code,
			})
			return
		}

		common.LogDebug("收到圖片壓縮請求",
			zap.String("request_id", requestID),
			zap.String("source_type", getSourceType(req.Source)),
			zap.Int("source_length", len(req.Source)),
		)

		// 構建選項：未提供的欄位使用設定的預設值
		opts := corecompress.DefaultOptions(&cfg.Compress)
		if req.MaxWidth > 0 {
			opts.MaxWidth = req.MaxWidth
		}
		if req.MaxHeight > 0 {
			opts.MaxHeight = req.MaxHeight
		}
		if req.Quality > 0 {
			opts.Quality = req.Quality
		}

		// 壓縮是盡力而為：失敗時返回原始來源
		result := service.Compress(c.Request.Context(), req.Source, opts)

		c.JSON(http.StatusOK, ImageResponse{
			Source:     result,
			Compressed: result != req.Source,
		})
	}
}
