package sink

import (
	"context"
	"fmt"

	rediscommon "wisefido-ppg/common/redis"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisSink 把流水线输出写入 Redis Streams 和实时缓存
type RedisSink struct {
	config      *config.Config
	redisClient *redis.Client
	cache       *CacheManager
	logger      *zap.Logger
}

// NewRedisSink 创建 Redis 输出端
func NewRedisSink(cfg *config.Config, redisClient *redis.Client, cache *CacheManager, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		config:      cfg,
		redisClient: redisClient,
		cache:       cache,
		logger:      logger,
	}
}

// PublishSample 发布每帧信号样本
func (s *RedisSink) PublishSample(ctx context.Context, sessionID, deviceID string, sample models.SignalSample) error {
	payload := &models.SamplePayload{
		SessionID: sessionID,
		DeviceID:  deviceID,
		Sample:    sample,
	}
	return s.publish(ctx, s.config.PPG.Streams.Signal, payload)
}

// PublishBeat 发布确认的心跳
func (s *RedisSink) PublishBeat(ctx context.Context, payload *models.BeatPayload) error {
	if err := s.publish(ctx, s.config.PPG.Streams.Beat, payload); err != nil {
		return err
	}
	s.logger.Debug("Published beat",
		zap.String("session_id", payload.SessionID),
		zap.Int("bpm", payload.BPM),
		zap.Float64("confidence", payload.Beat.Confidence),
	)
	return nil
}

// PublishArrhythmia 发布心律失常评估结果
func (s *RedisSink) PublishArrhythmia(ctx context.Context, payload *models.ArrhythmiaPayload) error {
	return s.publish(ctx, s.config.PPG.Streams.Arrhythmia, payload)
}

// UpdateRealtime 更新实时缓存
func (s *RedisSink) UpdateRealtime(ctx context.Context, data *models.RealtimeData) error {
	return s.cache.UpdateRealtimeData(ctx, data)
}

func (s *RedisSink) publish(ctx context.Context, stream string, payload interface{}) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, stream, s.config.PPG.Streams.MaxLen, payload); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}
