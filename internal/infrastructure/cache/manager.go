package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"image-compressor/internal/infrastructure/config"
	"image-compressor/internal/pkg/common"

	"go.uber.org/zap"
)

// ErrMiss 表示快取未命中
var ErrMiss = errors.New("cache miss")

// Manager 緩存管理器。快取壓縮結果（data URL），鍵為來源與選項的哈希。
// 啟用 Redis 後端時讀寫委派給 Redis，否則使用進程內存。
type Manager struct {
	config *config.Config
	redis  *RedisStore
	mu     sync.RWMutex
	store  map[string]cacheEntry
	stats  cacheStats
	done   chan struct{}
}

// cacheEntry 緩存條目
type cacheEntry struct {
	value       string
	expiresAt   time.Time
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int
}

// cacheStats 緩存統計
type cacheStats struct {
	hits      int64
	misses    int64
	evictions int64
	errors    int64
}

// Stats 對外的快取統計快照
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// NewManager 創建新的緩存管理器。快取停用時返回 nil。
func NewManager(cfg *config.Config) *Manager {
	if !cfg.Cache.Enabled {
		common.LogInfo("Cache disabled")
		return nil
	}

	m := &Manager{
		config: cfg,
		store:  make(map[string]cacheEntry),
		done:   make(chan struct{}),
	}

	if cfg.Cache.Redis.Enabled {
		rs, err := NewRedisStore(&cfg.Cache)
		if err != nil {
			common.LogWarn("Redis 連線失敗，改用進程內快取", zap.Error(err))
		} else {
			m.redis = rs
		}
	}

	// 啟動清理過期緩存的協程
	go m.startCleanup()

	common.LogInfo("快取管理員已初始化",
		zap.Int("最大容量", cfg.Cache.MaxSize),
		zap.Duration("存活時間", cfg.Cache.TTL),
		zap.Duration("清理間隔", cfg.Cache.CleanupInterval),
		zap.Bool("redis", m.redis != nil),
	)

	return m
}

// Key 以來源與選項指紋生成緩存鍵
func Key(source, fingerprint string) string {
	h := sha256.Sum256([]byte(source + "|" + fingerprint))
	return hex.EncodeToString(h[:])
}

// Get 獲取緩存值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m == nil {
		return "", common.ErrCacheDisabled
	}

	if m.redis != nil {
		value, err := m.redis.Get(ctx, key)
		if err != nil {
			m.mu.Lock()
			m.stats.misses++
			m.mu.Unlock()
			return "", ErrMiss
		}
		m.mu.Lock()
		m.stats.hits++
		m.mu.Unlock()
		return value, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.store[key]
	if !exists {
		m.stats.misses++
		return "", ErrMiss
	}

	// 檢查是否過期
	if time.Now().After(entry.expiresAt) {
		delete(m.store, key)
		m.stats.evictions++
		m.stats.misses++
		return "", ErrMiss
	}

	// 更新訪問統計
	entry.lastAccess = time.Now()
	entry.accessCount++
	m.store[key] = entry
	m.stats.hits++

	return entry.value, nil
}

// Set 設置緩存值
func (m *Manager) Set(ctx context.Context, key, value string) error {
	if m == nil {
		return common.ErrCacheDisabled
	}

	if m.redis != nil {
		return m.redis.Set(ctx, key, value, m.config.Cache.TTL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 容量已滿時淘汰最久未訪問的條目
	if len(m.store) >= m.config.Cache.MaxSize {
		m.evictOldest()
	}

	now := time.Now()
	m.store[key] = cacheEntry{
		value:      value,
		expiresAt:  now.Add(m.config.Cache.TTL),
		createdAt:  now,
		lastAccess: now,
	}

	return nil
}

// evictOldest 淘汰最久未訪問的條目。調用方必須持有寫鎖。
func (m *Manager) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for k, e := range m.store {
		if oldestKey == "" || e.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
	}
}

// Stats 獲取快取統計
func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Hits:      m.stats.hits,
		Misses:    m.stats.misses,
		Evictions: m.stats.evictions,
		Size:      len(m.store),
	}
}

// startCleanup 定期清理過期條目
func (m *Manager) startCleanup() {
	ticker := time.NewTicker(m.config.Cache.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

// cleanup 移除所有過期條目
func (m *Manager) cleanup() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.store {
		if now.After(e.expiresAt) {
			delete(m.store, k)
			m.stats.evictions++
		}
	}
}

// Close 關閉緩存管理器
func (m *Manager) Close() {
	if m == nil {
		return
	}
	close(m.done)
	if m.redis != nil {
		_ = m.redis.Close()
	}
}
