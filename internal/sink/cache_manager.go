package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrRealtimeNotFound 缓存中没有该会话的实时数据
var ErrRealtimeNotFound = errors.New("realtime data not found")

// CacheManager 会话实时数据缓存
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) realtimeKey(sessionID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.PPG.Cache.RealtimeKeyPrefix,
		sessionID,
		c.config.PPG.Cache.RealtimeSuffix,
	)
}

// UpdateRealtimeData 写入实时数据（带 TTL）
func (c *CacheManager) UpdateRealtimeData(ctx context.Context, data *models.RealtimeData) error {
	key := c.realtimeKey(data.SessionID)

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime data: %w", err)
	}

	ttl := time.Duration(c.config.PPG.Cache.RealtimeTTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated realtime cache",
		zap.String("session_id", data.SessionID),
		zap.String("key", key),
	)
	return nil
}

// GetRealtimeData 读取实时数据
func (c *CacheManager) GetRealtimeData(ctx context.Context, sessionID string) (*models.RealtimeData, error) {
	val, err := c.redisClient.Get(ctx, c.realtimeKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w for session: %s", ErrRealtimeNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var data models.RealtimeData
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal realtime data: %w", err)
	}
	return &data, nil
}

// DeleteRealtimeData 会话结束后删除缓存
func (c *CacheManager) DeleteRealtimeData(ctx context.Context, sessionID string) error {
	if err := c.redisClient.Del(ctx, c.realtimeKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
