package compress

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Fetcher 圖片來源載入器。支援 http(s) URL、data URL 與本地檔案路徑。
type Fetcher struct {
	client       *resty.Client
	origin       *url.URL
	maxSizeBytes int64
}

// NewFetcher 創建圖片來源載入器
func NewFetcher(cfg *config.Config) *Fetcher {
	client := resty.New().
		SetTimeout(cfg.Fetch.Timeout).
		SetHeader("User-Agent", cfg.Fetch.UserAgent)

	var origin *url.URL
	if cfg.Fetch.Origin != "" {
		u, err := url.Parse(cfg.Fetch.Origin)
		if err != nil {
			common.LogWarn("無效的 origin 設定，跨域判斷停用",
				zap.String("origin", cfg.Fetch.Origin),
				zap.Error(err),
			)
		} else {
			origin = u
		}
	}

	return &Fetcher{
		client:       client,
		origin:       origin,
		maxSizeBytes: cfg.Fetch.MaxSizeBytes,
	}
}

// Fetch 載入來源的原始圖片數據
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	switch {
	case strings.HasPrefix(source, "data:"):
		return decodeDataURL(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return f.fetchRemote(ctx, source)
	case strings.HasPrefix(source, "/") && f.origin != nil:
		// 相對來源解析到設定的 origin
		ref, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("invalid source path: %w", err)
		}
		return f.fetchRemote(ctx, f.origin.ResolveReference(ref).String())
	default:
		return f.readFile(source)
	}
}

// fetchRemote 下載遠端圖片。非同源的絕對 URL 先以匿名模式請求，
// 失敗時不帶匿名標頭重試一次。
func (f *Fetcher) fetchRemote(ctx context.Context, source string) ([]byte, error) {
	anonymous := f.isCrossOrigin(source)

	data, err := f.get(ctx, source, anonymous)
	if err != nil && anonymous {
		common.LogDebug("匿名請求失敗，重試一次",
			zap.String("url", source),
			zap.Error(err),
		)
		data, err = f.get(ctx, source, false)
	}
	return data, err
}

func (f *Fetcher) get(ctx context.Context, source string, anonymous bool) ([]byte, error) {
	req := f.client.R().SetContext(ctx)
	if anonymous && f.origin != nil {
		req.SetHeader("Origin", f.origin.Scheme+"://"+f.origin.Host)
	}

	resp, err := req.Get(source)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status code %d", resp.StatusCode())
	}

	body := resp.Body()
	if f.maxSizeBytes > 0 && int64(len(body)) > f.maxSizeBytes {
		return nil, fmt.Errorf("image size exceeds maximum limit of %d bytes", f.maxSizeBytes)
	}
	return body, nil
}

// isCrossOrigin 檢查絕對 URL 是否與設定的 origin 不同源
func (f *Fetcher) isCrossOrigin(source string) bool {
	if f.origin == nil {
		return false
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme != f.origin.Scheme || u.Host != f.origin.Host
}

// readFile 讀取本地圖片檔案
func (f *Fetcher) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	if f.maxSizeBytes > 0 && int64(len(data)) > f.maxSizeBytes {
		return nil, fmt.Errorf("image size exceeds maximum limit of %d bytes", f.maxSizeBytes)
	}
	return data, nil
}

// decodeDataURL 解碼 data URL 的 base64 內容
func decodeDataURL(source string) ([]byte, error) {
	parts := strings.SplitN(source, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid data URL format")
	}

	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		// 有些來源省略填充
		data, err = base64.RawStdEncoding.DecodeString(parts[1])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 data: %w", err)
	}
	return data, nil
}
