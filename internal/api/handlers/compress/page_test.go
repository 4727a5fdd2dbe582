package compress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"image-compressor/internal/core/page"
	"image-compressor/internal/infrastructure/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRewriter(t *testing.T, cfg *config.Config) *page.Rewriter {
	t.Helper()
	cfg.Queue = config.QueueConfig{Workers: 2, MaxSize: 16}
	queue := page.NewQueue(&cfg.Queue)
	t.Cleanup(queue.Close)
	return page.NewRewriter(newTestService(cfg), queue)
}

func performPage(t *testing.T, handler gin.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST(path, handler)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlePageCompressesImages(t *testing.T) {
	cfg := testConfig()
	handler := HandlePage(newTestRewriter(t, cfg), cfg)

	html := `<html><body>
		<img src="/nonexistent/big.jpg">
		<img src="logo.png" data-compress-ignore>
	</body></html>`

	body, err := json.Marshal(PageRequest{HTML: html})
	require.NoError(t, err)

	rec := performPage(t, handler, "/compress/page", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// 取得失敗也算處理過（盡力而為），豁免元素不計入
	assert.Equal(t, 1, resp.Processed)
	assert.Contains(t, resp.HTML, `data-compressed="true"`)
	assert.Contains(t, resp.HTML, "data-compress-ignore")
}

func TestHandlePageInvalidJSON(t *testing.T) {
	cfg := testConfig()
	handler := HandlePage(newTestRewriter(t, cfg), cfg)

	rec := performPage(t, handler, "/compress/page", "{bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePageMissingHTML(t *testing.T) {
	cfg := testConfig()
	handler := HandlePage(newTestRewriter(t, cfg), cfg)

	rec := performPage(t, handler, "/compress/page", `{"selector": "img"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFragment(t *testing.T) {
	cfg := testConfig()
	handler := HandleFragment(newTestRewriter(t, cfg), cfg)

	body, err := json.Marshal(FragmentRequest{HTML: `<img src="/nonexistent/slide.jpg">`})
	require.NoError(t, err)

	rec := performPage(t, handler, "/compress/fragment", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// 來源無法取得：片段原樣返回且標記未壓縮
	assert.Equal(t, false, resp["compressed"])
	assert.Contains(t, resp["html"], "/nonexistent/slide.jpg")
}

func TestHandleFragmentNoImage(t *testing.T) {
	cfg := testConfig()
	handler := HandleFragment(newTestRewriter(t, cfg), cfg)

	rec := performPage(t, handler, "/compress/fragment", `{"html": "<p>no images</p>"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
