package compress

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"math"
	"net/url"
	"strings"

	_ "image/gif" // 支援 GIF

	_ "golang.org/x/image/webp" // 支援 WebP

	"image-compressor/internal/infrastructure/cache"
	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// minCompressPixels 低於此像素面積且未超出邊界的圖片不重新編碼
const minCompressPixels = 500_000

// Options 單次壓縮的選項。每次調用不可變，省略時補預設值。
type Options struct {
	MaxWidth    int     // 最大寬度，預設 1920
	MaxHeight   int     // 最大高度，預設 1920
	Quality     float64 // JPEG 品質，(0, 1]，預設 0.8
	Selector    string  // 頁面處理時的元素選擇器，預設 "img"
	ShowLoading bool    // 處理期間是否調暗元素
}

// DefaultOptions 由設定構建預設選項
func DefaultOptions(cfg *config.CompressConfig) Options {
	return Options{
		MaxWidth:    cfg.MaxWidth,
		MaxHeight:   cfg.MaxHeight,
		Quality:     cfg.Quality,
		Selector:    cfg.Selector,
		ShowLoading: true,
	}
}

// withDefaults 補齊無效或省略的選項值
func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = 1920
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 1920
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = 0.8
	}
	if o.Selector == "" {
		o.Selector = "img"
	}
	return o
}

// Fingerprint 選項指紋，用於緩存鍵
func (o Options) Fingerprint() string {
	return fmt.Sprintf("%dx%d@%.2f", o.MaxWidth, o.MaxHeight, o.Quality)
}

// Service 圖片壓縮服務
type Service struct {
	config  *config.Config
	fetcher *Fetcher
	cache   *cache.Manager
}

// NewService 創建新的圖片壓縮服務
func NewService(cfg *config.Config, fetcher *Fetcher, cacheManager *cache.Manager) *Service {
	return &Service{
		config:  cfg,
		fetcher: fetcher,
		cache:   cacheManager,
	}
}

// Compress 壓縮來源圖片並返回 data URL。
// 像素面積低於 500,000 且尺寸已在邊界內的圖片原樣返回，不重新編碼。
// 壓縮是盡力而為：任何失敗只記錄警告並返回原始來源，絕不阻擋顯示。
func (s *Service) Compress(ctx context.Context, source string, opts Options) string {
	if source == "" {
		return source
	}
	opts = opts.withDefaults()

	// 查詢快取
	key := cache.Key(source, opts.Fingerprint())
	if cached, err := s.cache.Get(ctx, key); err == nil {
		common.LogCacheHit("compress", key)
		return cached
	}

	result, err := s.compress(ctx, source, opts)
	if err != nil {
		common.LogWarn("圖片壓縮失敗，使用原始來源",
			zap.Error(err),
			zap.String("source", truncateSource(source)),
		)
		return source
	}

	// 只快取真正重新編碼的結果
	if result != source {
		if err := s.cache.Set(ctx, key, result); err != nil && err != common.ErrCacheDisabled {
			common.LogWarn("寫入快取失敗", zap.Error(err))
		}
	}

	return result
}

// compress 執行實際的載入、縮放與重新編碼
func (s *Service) compress(ctx context.Context, source string, opts Options) (string, error) {
	data, err := s.fetcher.Fetch(ctx, source)
	if err != nil {
		return "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// 小圖且在邊界內：原樣返回
	if w*h < minCompressPixels && w <= opts.MaxWidth && h <= opts.MaxHeight {
		return source, nil
	}

	nw, nh, resized := fitWithin(w, h, opts.MaxWidth, opts.MaxHeight)
	if resized {
		img = imaging.Resize(img, nw, nh, imaging.Lanczos)
	}

	encoded, err := encodeDataURL(img, source, resized, opts.Quality)
	if err != nil {
		return "", err
	}

	common.LogCompression("info", "圖片已壓縮",
		zap.String("format", format),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("new_width", nw),
		zap.Int("new_height", nh),
		zap.Bool("resized", resized),
		zap.Int("original_bytes", len(data)),
		zap.Int("encoded_bytes", len(encoded)),
	)

	return encoded, nil
}

// fitWithin 計算符合邊界的縮放尺寸，保持長寬比。
// 只夾取一個維度：相對其邊界超出比例較大的那一個；另一維度按比例
// 縮放，縮放後兩個維度都保證在邊界內。
func fitWithin(w, h, maxWidth, maxHeight int) (int, int, bool) {
	if w <= maxWidth && h <= maxHeight {
		return w, h, false
	}

	if float64(w)/float64(maxWidth) >= float64(h)/float64(maxHeight) {
		nh := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
		if nh < 1 {
			nh = 1
		}
		return maxWidth, nh, true
	}

	nw := int(math.Round(float64(w) * float64(maxHeight) / float64(h)))
	if nw < 1 {
		nw = 1
	}
	return nw, maxHeight, true
}

// encodeDataURL 將圖片編碼為 data URL。
// 未縮放的 PNG 來源保持 PNG 以保留透明度，其餘一律輸出 JPEG。
func encodeDataURL(img image.Image, source string, resized bool, quality float64) (string, error) {
	var buf bytes.Buffer

	if !resized && isPNGSource(source) {
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return "", fmt.Errorf("failed to encode image as PNG: %w", err)
		}
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
	}

	q := int(math.Round(quality * 100))
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
		return "", fmt.Errorf("failed to encode image as JPEG: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// isPNGSource 檢查來源是否為 PNG（路徑以 .png 結尾或 PNG data URL）
func isPNGSource(source string) bool {
	if strings.HasPrefix(source, "data:image/png") {
		return true
	}
	path := source
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		path = u.Path
	}
	return strings.HasSuffix(strings.ToLower(path), ".png")
}

// truncateSource 截斷過長的來源字串（data URL 可能非常長）
func truncateSource(source string) string {
	if len(source) > 80 {
		return source[:80] + "..."
	}
	return source
}
