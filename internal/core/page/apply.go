package page

import (
	"context"
	"strings"

	"image-compressor/internal/core/compress"
	"image-compressor/internal/pkg/common"

	"go.uber.org/zap"
)

// Rewriter 將壓縮套用到文件中的圖片元素
type Rewriter struct {
	compressor *compress.Service
	queue      *Queue
}

// NewRewriter 創建頁面改寫器並啟動其工作協程
func NewRewriter(compressor *compress.Service, queue *Queue) *Rewriter {
	r := &Rewriter{
		compressor: compressor,
		queue:      queue,
	}
	queue.Start(r.process)
	return r
}

// process 隊列工作協程的任務入口。任務的請求情境已結束時不再觸碰
// 元素，只結算任務，避免在文件序列化之後改寫節點。
func (r *Rewriter) process(t *Task) {
	if t.Context.Err() != nil {
		t.Skipped = true
		return
	}
	r.ApplyTo(t.Context, t.Element, t.Options)
}

// ApplyTo 壓縮單一元素的來源並回寫。
// 已標記壓縮或已持有 data URL 來源的元素跳過，因此重複調用只壓縮一次。
// 處理期間調暗元素（ShowLoading 時），完成或失敗都會還原。
func (r *Rewriter) ApplyTo(ctx context.Context, el *Element, opts compress.Options) bool {
	if el == nil {
		return false
	}
	if el.Compressed() {
		return false
	}

	src := el.Src()
	if src == "" || strings.HasPrefix(src, "data:") {
		return false
	}

	if opts.ShowLoading {
		el.Dim()
		defer el.Restore()
	}

	result := r.compressor.Compress(ctx, src, opts)
	el.SetSrc(result)
	el.MarkCompressed(src)

	return result != src
}

// ApplyToAll 將壓縮套用到文件中所有符合選擇器的元素。
// 豁免元素跳過；已持有來源的元素立即處理，延遲載入的元素先提升
// data-src（至多一次）再處理。各元素經由隊列並發處理，無順序保證。
// 所有任務在返回前結算；情境結束後剩餘任務被跳過且不計入。
// 返回實際處理的元素數。
func (r *Rewriter) ApplyToAll(ctx context.Context, doc *Document, opts compress.Options) int {
	selector := opts.Selector
	elements := doc.Images(selector)

	var pending []*Task
	processed := 0

	for _, el := range elements {
		if el.Exempt() || el.Compressed() {
			continue
		}
		if !el.Loaded() {
			// 尚未載入的元素：提升延遲來源，失敗則略過
			if !el.PromoteLazySrc() {
				continue
			}
		}
		// 已內嵌編碼來源的元素無需處理
		if strings.HasPrefix(el.Src(), "data:") {
			continue
		}

		task, err := r.queue.Enqueue(ctx, el, opts)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			// 隊列滿或已關閉時就地處理
			common.LogDebug("隊列不可用，就地處理元素", zap.Error(err))
			r.ApplyTo(ctx, el, opts)
			processed++
			continue
		}
		pending = append(pending, task)
	}

	// 無條件等待所有排入隊列的任務結算。請求情境結束後工作協程會
	// 跳過尚未開始的任務，因此返回之後文件不會再被改寫。
	for _, task := range pending {
		<-task.Done
		if !task.Skipped {
			processed++
		}
	}

	return processed
}

// ApplyToDynamic 處理初始解析之後插入的元素（例如輪播頁），
// 抑制載入指示。
func (r *Rewriter) ApplyToDynamic(ctx context.Context, el *Element, opts compress.Options) bool {
	opts.ShowLoading = false
	return r.ApplyTo(ctx, el, opts)
}
