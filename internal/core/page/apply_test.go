package page

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"image-compressor/internal/core/compress"
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
		Queue: config.QueueConfig{
			Workers: 2,
			MaxSize: 16,
		},
	}
}

func newTestRewriter(cfg *config.Config) (*Rewriter, *Queue) {
	queue := NewQueue(&cfg.Queue)
	service := compress.NewService(cfg, compress.NewFetcher(cfg), nil)
	return NewRewriter(service, queue), queue
}

// writeBigJPEG 寫入一張會被壓縮的大圖（2400x1200）
func writeBigJPEG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2400, 1200))
	for y := 0; y < 1200; y += 10 {
		for x := 0; x < 2400; x += 10 {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	path := filepath.Join(t.TempDir(), "big.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseDocumentString(s)
	require.NoError(t, err)
	return doc
}

func TestApplyToCompressesAndMarks(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	src := writeBigJPEG(t)
	doc := mustParse(t, fmt.Sprintf(`<html><body><img src="%s"></body></html>`, src))
	el := doc.Images("")[0]

	changed := rw.ApplyTo(context.Background(), el, compress.Options{ShowLoading: true})

	assert.True(t, changed)
	assert.True(t, el.Compressed())
	assert.True(t, strings.HasPrefix(el.Src(), "data:image/jpeg;base64,"))
	assert.Equal(t, src, el.Attr("data-original-src"))
	// 載入指示已還原
	assert.False(t, el.HasAttr("style"))
}

func TestApplyToIdempotent(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	src := writeBigJPEG(t)
	doc := mustParse(t, fmt.Sprintf(`<html><body><img src="%s"></body></html>`, src))
	el := doc.Images("")[0]

	require.True(t, rw.ApplyTo(context.Background(), el, compress.Options{}))
	first := el.Src()

	// 第二次調用不再壓縮
	assert.False(t, rw.ApplyTo(context.Background(), el, compress.Options{}))
	assert.Equal(t, first, el.Src())
	assert.Equal(t, src, el.Attr("data-original-src"))
}

func TestApplyToSkipsEmbeddedSource(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	doc := mustParse(t, `<html><body><img src="data:image/gif;base64,R0lGODlhAQABAAAAACw="></body></html>`)
	el := doc.Images("")[0]

	assert.False(t, rw.ApplyTo(context.Background(), el, compress.Options{}))
	assert.False(t, el.Compressed())
}

func TestApplyToFailureRestoresAndResolves(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	doc := mustParse(t, `<html><body><img src="/nonexistent/missing.jpg" style="border: 1px"></body></html>`)
	el := doc.Images("")[0]

	// 壓縮失敗：來源保持原樣，元素仍標記已處理，樣式還原
	changed := rw.ApplyTo(context.Background(), el, compress.Options{ShowLoading: true})
	assert.False(t, changed)
	assert.Equal(t, "/nonexistent/missing.jpg", el.Src())
	assert.True(t, el.Compressed())
	assert.Equal(t, "border: 1px", el.Attr("style"))
}

func TestApplyToAll(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	src := writeBigJPEG(t)
	html := fmt.Sprintf(`<html><body>
		<img id="normal" src="%s">
		<img id="logo" src="%s" data-compress-ignore>
		<img id="lazy" data-src="%s">
		<img id="embedded" src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
		<img id="empty">
	</body></html>`, src, src, src)
	doc := mustParse(t, html)

	processed := rw.ApplyToAll(context.Background(), doc, compress.Options{})
	assert.Equal(t, 2, processed)

	for _, el := range doc.Images("") {
		switch el.Attr("id") {
		case "normal":
			assert.True(t, el.Compressed())
			assert.True(t, strings.HasPrefix(el.Src(), "data:image/jpeg;base64,"))
		case "logo":
			assert.False(t, el.Compressed())
			assert.Equal(t, src, el.Src())
		case "lazy":
			assert.True(t, el.Compressed())
			assert.False(t, el.HasAttr("data-src"))
			assert.True(t, strings.HasPrefix(el.Src(), "data:image/jpeg;base64,"))
		case "embedded":
			assert.False(t, el.Compressed())
		case "empty":
			assert.False(t, el.Compressed())
		}
	}
}

func TestApplyToAllWithSelector(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	src := writeBigJPEG(t)
	html := fmt.Sprintf(`<html><body>
		<img class="gallery" src="%s">
		<img class="avatar" src="%s">
	</body></html>`, src, src)
	doc := mustParse(t, html)

	processed := rw.ApplyToAll(context.Background(), doc, compress.Options{Selector: ".gallery"})
	assert.Equal(t, 1, processed)

	for _, el := range doc.Images("") {
		if el.Attr("class") == "gallery" {
			assert.True(t, el.Compressed())
		} else {
			assert.False(t, el.Compressed())
		}
	}
}

func TestApplyToAllIdempotent(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	src := writeBigJPEG(t)
	doc := mustParse(t, fmt.Sprintf(`<html><body><img src="%s"></body></html>`, src))

	assert.Equal(t, 1, rw.ApplyToAll(context.Background(), doc, compress.Options{}))
	// 再次處理同一文件：所有元素已標記
	assert.Equal(t, 0, rw.ApplyToAll(context.Background(), doc, compress.Options{}))
}

func TestApplyToAllCancelledContextSettlesTasks(t *testing.T) {
	// 來源伺服器掛起直到請求情境結束
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	doc := mustParse(t, fmt.Sprintf(`<html><body>
		<img src="%s/a.jpg">
		<img src="%s/b.jpg">
	</body></html>`, server.URL, server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan int, 1)
	go func() {
		done <- rw.ApplyToAll(ctx, doc, compress.Options{})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyToAll 未在情境取消後返回")
	}

	// 返回後所有任務已結算，文件不再被改寫
	first, err := doc.String()
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	second, err := doc.String()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProcessSkipsTaskWithEndedContext(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	doc := mustParse(t, `<html><body><img src="/some/img.jpg"></body></html>`)
	el := doc.Images("")[0]

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &Task{Context: ctx, Element: el, Options: compress.Options{}}
	rw.process(task)

	assert.True(t, task.Skipped)
	assert.False(t, el.Compressed())
	assert.Equal(t, "/some/img.jpg", el.Src())
}

func TestApplyToDynamic(t *testing.T) {
	rw, q := newTestRewriter(testConfig())
	defer q.Close()

	src := writeBigJPEG(t)
	doc := mustParse(t, fmt.Sprintf(`<html><body><img src="%s"></body></html>`, src))
	el := doc.Images("")[0]

	// 動態元素抑制載入指示
	changed := rw.ApplyToDynamic(context.Background(), el, compress.Options{ShowLoading: true})
	assert.True(t, changed)
	assert.True(t, el.Compressed())
	assert.False(t, el.HasAttr("style"))
}

func TestDocumentRenderRoundTrip(t *testing.T) {
	doc := mustParse(t, `<html><head></head><body><img src="a.jpg" alt="A"></body></html>`)

	out, err := doc.String()
	require.NoError(t, err)
	assert.Contains(t, out, `<img src="a.jpg" alt="A"`)
}
