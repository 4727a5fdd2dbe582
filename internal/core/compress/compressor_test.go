package compress

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"image-compressor/internal/infrastructure/cache"
	"image-compressor/internal/infrastructure/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Compress: config.CompressConfig{
			MaxWidth:  1920,
			MaxHeight: 1920,
			Quality:   0.8,
			Selector:  "img",
		},
		Fetch: config.FetchConfig{
			Timeout:      5 * time.Second,
			MaxSizeBytes: 50 << 20,
			UserAgent:    "image-compressor/test",
		},
		Cache: config.CacheConfig{
			Enabled:         true,
			MaxSize:         100,
			TTL:             time.Hour,
			CleanupInterval: time.Hour,
		},
		Queue: config.QueueConfig{
			Workers: 2,
			MaxSize: 16,
		},
	}
}

func newTestService(cfg *config.Config) *Service {
	return NewService(cfg, NewFetcher(cfg), nil)
}

func makeImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func jpegDataURL(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func writeImageFile(t *testing.T, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var buf bytes.Buffer
	if filepath.Ext(name) == ".png" {
		require.NoError(t, png.Encode(&buf, img))
	} else {
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func decodeResult(t *testing.T, dataURL string) image.Image {
	t.Helper()
	data, err := decodeDataURL(dataURL)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestCompressSmallImagePassthrough(t *testing.T) {
	svc := newTestService(testConfig())

	// 400x300 = 120,000 px，低於閾值且在邊界內：原樣返回
	source := jpegDataURL(t, makeImage(400, 300))
	result := svc.Compress(context.Background(), source, Options{})

	assert.Equal(t, source, result)
}

func TestCompressOversizedResizes(t *testing.T) {
	svc := newTestService(testConfig())

	source := jpegDataURL(t, makeImage(3000, 1500))
	result := svc.Compress(context.Background(), source, Options{})

	require.NotEqual(t, source, result)
	assert.True(t, len(result) > 0)
	assert.Contains(t, result[:22], "data:image/jpeg")

	out := decodeResult(t, result)
	b := out.Bounds()
	assert.Equal(t, 1920, b.Dx())
	assert.Equal(t, 960, b.Dy())
}

func TestCompressLargeAreaWithinBoundsReencodes(t *testing.T) {
	svc := newTestService(testConfig())

	// 900x700 = 630,000 px：超過閾值但在邊界內，重新編碼不縮放
	source := jpegDataURL(t, makeImage(900, 700))
	result := svc.Compress(context.Background(), source, Options{})

	require.NotEqual(t, source, result)
	out := decodeResult(t, result)
	assert.Equal(t, 900, out.Bounds().Dx())
	assert.Equal(t, 700, out.Bounds().Dy())
}

func TestCompressPNGWithoutResizeKeepsPNG(t *testing.T) {
	svc := newTestService(testConfig())

	path := writeImageFile(t, "photo.png", makeImage(900, 700))
	result := svc.Compress(context.Background(), path, Options{})

	require.NotEqual(t, path, result)
	assert.Contains(t, result[:21], "data:image/png")
}

func TestCompressResizedPNGBecomesJPEG(t *testing.T) {
	svc := newTestService(testConfig())

	path := writeImageFile(t, "banner.png", makeImage(2500, 500))
	result := svc.Compress(context.Background(), path, Options{})

	require.NotEqual(t, path, result)
	assert.Contains(t, result[:22], "data:image/jpeg")

	out := decodeResult(t, result)
	assert.Equal(t, 1920, out.Bounds().Dx())
	assert.Equal(t, 384, out.Bounds().Dy())
}

func TestCompressFailureReturnsOriginal(t *testing.T) {
	svc := newTestService(testConfig())
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
	}{
		{"不存在的檔案", "/nonexistent/missing.jpg"},
		{"損壞的 data URL", "data:image/png;base64,!!!not-base64!!!"},
		{"非圖片內容", jpegTextDataURL()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := svc.Compress(ctx, tt.source, Options{})
			assert.Equal(t, tt.source, result)
		})
	}
}

func jpegTextDataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("not an image"))
}

func TestCompressEmptySource(t *testing.T) {
	svc := newTestService(testConfig())
	assert.Equal(t, "", svc.Compress(context.Background(), "", Options{}))
}

func TestCompressQualityOption(t *testing.T) {
	svc := newTestService(testConfig())
	source := jpegDataURL(t, makeImage(3000, 1500))

	low := svc.Compress(context.Background(), source, Options{Quality: 0.2})
	high := svc.Compress(context.Background(), source, Options{Quality: 0.95})

	require.NotEqual(t, source, low)
	require.NotEqual(t, source, high)
	assert.Less(t, len(low), len(high))
}

func TestCompressUsesCache(t *testing.T) {
	cfg := testConfig()
	manager := cache.NewManager(cfg)
	require.NotNil(t, manager)
	defer manager.Close()

	svc := NewService(cfg, NewFetcher(cfg), manager)
	source := jpegDataURL(t, makeImage(3000, 1500))

	first := svc.Compress(context.Background(), source, Options{})
	second := svc.Compress(context.Background(), source, Options{})

	assert.Equal(t, first, second)
	stats := manager.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxW, maxH   int
		wantW, wantH int
		wantResized  bool
	}{
		{"在邊界內", 100, 100, 1920, 1920, 100, 100, false},
		{"橫向超寬", 3000, 1500, 1920, 1920, 1920, 960, true},
		{"縱向超高", 1500, 3000, 1920, 1920, 960, 1920, true},
		{"正方形超界", 3000, 3000, 1920, 1920, 1920, 1920, true},
		{"寬高相近", 1999, 2000, 1920, 1920, 1919, 1920, true},
		{"剛好在邊界", 1920, 1920, 1920, 1920, 1920, 1920, false},
		{"極端長寬比", 10000, 10, 1920, 1920, 1920, 2, true},
		{"不等邊界僅寬超出", 2000, 2500, 1920, 3000, 1920, 2400, true},
		{"不等邊界僅高超出", 800, 900, 1000, 600, 533, 600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, resized := fitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantResized, resized)
		})
	}
}

func TestIsPNGSource(t *testing.T) {
	assert.True(t, isPNGSource("logo.png"))
	assert.True(t, isPNGSource("/assets/Logo.PNG"))
	assert.True(t, isPNGSource("https://example.com/a.png?v=2"))
	assert.True(t, isPNGSource("data:image/png;base64,abcd"))
	assert.False(t, isPNGSource("photo.jpg"))
	assert.False(t, isPNGSource("data:image/jpeg;base64,abcd"))
	assert.False(t, isPNGSource("https://example.com/a.png.jpg"))
}
