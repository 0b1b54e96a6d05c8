package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "wisefido-ppg/common/logger"

	"go.uber.org/zap"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-ppg")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-ppg service",
		zap.String("version", "1.0.0"),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("frame_topic", cfg.PPG.Topics.Frame),
		zap.String("tuning_file", cfg.PPG.TuningFile),
	)

	// 创建服务
	ppgService, err := service.NewPPGService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create PPG service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ppgService.Start(ctx); err != nil {
		logger.Fatal("Failed to start PPG service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭：会话结束需要关闭闪光灯，使用未取消的 ctx
	if err := ppgService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Service stopped")
}
