package service

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-ppg/common/database"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/consumer"
	"wisefido-ppg/internal/device"
	"wisefido-ppg/internal/pipeline"
	"wisefido-ppg/internal/repository"
	"wisefido-ppg/internal/sink"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	mqttcommon "wisefido-ppg/common/mqtt"
	rediscommon "wisefido-ppg/common/redis"
)

// PPGService 摄像头 PPG 服务
type PPGService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	sessions   *SessionManager
	consumer   *consumer.MQTTConsumer
}

// NewPPGService 创建PPG服务
func NewPPGService(cfg *config.Config, logger *zap.Logger) (*PPGService, error) {
	ctx := context.Background()

	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		redisClient.Close()
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// 创建Repository
	sessionRepo := repository.NewSessionRepository(db, logger)

	// 创建输出端和设备控制
	cache := sink.NewCacheManager(cfg, redisClient, logger)
	deps := pipeline.Dependencies{
		Sink:     sink.NewRedisSink(cfg, redisClient, cache, logger),
		Torch:    device.NewTorch(mqttClient, cfg.PPG.Topics.Torch, 1, logger),
		Notifier: device.NewBeeper(mqttClient, cfg.PPG.Topics.Beep, logger),
		Recorder: sessionRepo,
	}

	sessions := NewSessionManager(cfg.Tuning, deps, sessionRepo, cache, logger)

	return &PPGService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
		sessions:   sessions,
		consumer:   consumer.NewMQTTConsumer(cfg, mqttClient, sessions, logger),
	}, nil
}

// Start 启动服务
func (s *PPGService) Start(ctx context.Context) error {
	s.logger.Info("Starting PPG service components")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	s.logger.Info("PPG service started successfully")
	return nil
}

// Stop 停止服务
func (s *PPGService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PPG service")

	// 先停止接收帧，再结束会话（会话结束需要 MQTT 关闭闪光灯）
	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}
	if s.sessions != nil {
		s.sessions.StopAll(ctx)
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("PPG service stopped")
	return nil
}
