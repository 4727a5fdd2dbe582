package compress

import (
	"bytes"
	"net/http"

	corecompress "image-compressor/internal/core/compress"
	"image-compressor/internal/core/page"
	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PageRequest 頁面壓縮請求
type PageRequest struct {
	HTML      string  `json:"html" binding:"required"`
	Selector  string  `json:"selector,omitempty"`
	MaxWidth  int     `json:"max_width,omitempty"`
	MaxHeight int     `json:"max_height,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
}

// PageResponse 頁面壓縮響應
type PageResponse struct {
	HTML      string `json:"html"`
	Processed int    `json:"processed"`
}

// FragmentRequest 動態片段壓縮請求（初始頁面之後插入的元素）
type FragmentRequest struct {
	HTML      string  `json:"html" binding:"required"`
	MaxWidth  int     `json:"max_width,omitempty"`
	MaxHeight int     `json:"max_height,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
}

// buildOptions 由請求與設定預設值構建壓縮選項
func buildOptions(cfg *config.Config, maxWidth, maxHeight int, quality float64, selector string) corecompress.Options {
	opts := corecompress.DefaultOptions(&cfg.Compress)
	if maxWidth > 0 {
		opts.MaxWidth = maxWidth
	}
	if maxHeight > 0 {
		opts.MaxHeight = maxHeight
	}
	if quality > 0 {
		opts.Quality = quality
	}
	if selector != "" {
		opts.Selector = selector
	}
	return opts
}

// HandlePage 處理整頁 HTML 的圖片壓縮請求
func HandlePage(rewriter *page.Rewriter, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = common.GenerateUUID()
			c.Header("X-Request-ID", requestID)
		}

		// 解析請求
		var req PageRequest
		if err := common.DecodeJSON(c.Request.Body, &req); err != nil {
			common.LogError("Invalid request format",
				zap.Error(err),
				zap.String("request_id", requestID))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
			return
		}
		if req.HTML == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "HTML document is required"})
			return
		}

		// 解析文件
		doc, err := page.ParseDocumentString(req.HTML)
		if err != nil {
			common.LogError("Failed to parse HTML document",
				zap.Error(err),
				zap.String("request_id", requestID))
			c.JSON(common.ErrInvalidDocument.Status, gin.H{
				"error": common.ErrInvalidDocument.Message,
				"code":  common.ErrInvalidDocument.Code,
			})
			return
		}

		opts := buildOptions(cfg, req.MaxWidth, req.MaxHeight, req.Quality, req.Selector)

		// 處理所有符合的元素
		processed := rewriter.ApplyToAll(c.Request.Context(), doc, opts)

		// 序列化結果
		out, err := doc.String()
		if err != nil {
			common.LogError("Failed to render HTML document",
				zap.Error(err),
				zap.String("request_id", requestID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render document"})
			return
		}

		common.LogInfo("頁面處理完成",
			zap.String("request_id", requestID),
			zap.Int("processed", processed),
		)

		c.JSON(http.StatusOK, PageResponse{
			HTML:      out,
			Processed: processed,
		})
	}
}

// HandleFragment 處理動態插入的單一元素片段（例如輪播頁），抑制載入指示
func HandleFragment(rewriter *page.Rewriter, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = common.GenerateUUID()
			c.Header("X-Request-ID", requestID)
		}

		var req FragmentRequest
		if err := common.DecodeJSON(c.Request.Body, &req); err != nil {
			common.LogError("Invalid request format",
				zap.Error(err),
				zap.String("request_id", requestID))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
			return
		}

		doc, err := page.ParseDocumentString(req.HTML)
		if err != nil {
			c.JSON(common.ErrInvalidDocument.Status, gin.H{
				"error": common.ErrInvalidDocument.Message,
				"code":  common.ErrInvalidDocument.Code,
			})
			return
		}

		elements := doc.Images("")
		if len(elements) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Fragment contains no image element"})
			return
		}

		opts := buildOptions(cfg, req.MaxWidth, req.MaxHeight, req.Quality, "")

		compressed := false
		for _, el := range elements {
			if rewriter.ApplyToDynamic(c.Request.Context(), el, opts) {
				compressed = true
			}
		}

		var buf bytes.Buffer
		for _, el := range elements {
			if err := el.Render(&buf); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render fragment"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"html":       buf.String(),
			"compressed": compressed,
		})
	}
}
