package page

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"image-compressor/internal/core/compress"
	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"go.uber.org/zap"
)

// Task 隊列中的單一元素處理任務
type Task struct {
	Context context.Context
	Element *Element
	Options compress.Options
	Skipped bool // 由工作協程設置：任務已結算但未處理
	Done    chan struct{}
}

// Status 隊列狀態
type Status struct {
	QueueLength    int `json:"queue_length"`
	ProcessedCount int `json:"processed_count"`
	MaxQueueSize   int `json:"max_queue_size"`
	Workers        int `json:"workers"`
}

// Queue 頁面元素處理隊列。各任務獨立處理，彼此之間沒有順序保證。
type Queue struct {
	config    *config.QueueConfig
	tasks     chan *Task
	done      chan struct{}
	processed int64
	startOnce sync.Once
	closeOnce sync.Once
}

// NewQueue 創建新的處理隊列
func NewQueue(cfg *config.QueueConfig) *Queue {
	return &Queue{
		config: cfg,
		tasks:  make(chan *Task, cfg.MaxSize),
		done:   make(chan struct{}),
	}
}

// Start 啟動工作協程，每個任務交由 handler 處理。重複調用無效果。
func (q *Queue) Start(handler func(*Task)) {
	q.startOnce.Do(func() {
		for i := 0; i < q.config.Workers; i++ {
			go q.worker(handler)
		}
		common.LogInfo("頁面處理隊列已啟動",
			zap.Int("workers", q.config.Workers),
			zap.Int("max_queue_size", q.config.MaxSize),
		)
	})
}

// worker 消費任務直到隊列關閉
func (q *Queue) worker(handler func(*Task)) {
	for {
		select {
		case task := <-q.tasks:
			handler(task)
			atomic.AddInt64(&q.processed, 1)
			close(task.Done)
		case <-q.done:
			return
		}
	}
}

// Enqueue 將元素加入隊列
func (q *Queue) Enqueue(ctx context.Context, el *Element, opts compress.Options) (*Task, error) {
	// 檢查隊列容量
	if len(q.tasks) >= q.config.MaxSize {
		return nil, fmt.Errorf("queue is full")
	}

	task := &Task{
		Context: ctx,
		Element: el,
		Options: opts,
		Done:    make(chan struct{}),
	}

	select {
	case q.tasks <- task:
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, fmt.Errorf("queue is closed")
	}
}

// Status 獲取隊列狀態
func (q *Queue) Status() *Status {
	return &Status{
		QueueLength:    len(q.tasks),
		ProcessedCount: int(atomic.LoadInt64(&q.processed)),
		MaxQueueSize:   q.config.MaxSize,
		Workers:        q.config.Workers,
	}
}

// Close 關閉隊列
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
