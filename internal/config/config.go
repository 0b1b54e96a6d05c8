package config

import (
	"os"
	"time"

	"wisefido-ppg/common/config"
)

// Config PPG 服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// PPG 服务特定配置
	PPG struct {
		Topics struct {
			Frame   string // 帧数据主题，如 "ppg/+/frame"
			Control string // 控制主题，如 "ppg/+/control"
			Torch   string // 闪光灯命令主题模板，%s 为设备ID
			Beep    string // 提示音命令主题模板
		}
		Streams struct {
			Signal     string // 每帧信号样本
			Beat       string // 确认的心跳事件
			Arrhythmia string // 心律失常评估结果
			MaxLen     int64  // 每个 stream 近似保留的条目数
		}
		Cache struct {
			RealtimeKeyPrefix string // 实时数据缓存键前缀，如 "ppg:session:"
			RealtimeSuffix    string
			RealtimeTTL       int // 秒
		}
		TuningFile string
	}

	Tuning Tuning

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "wisefido-ppg",
		QoS:            0,
		ConnectTimeout: 10 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.PPG.Topics.Frame = getEnv("PPG_TOPIC_FRAME", "ppg/+/frame")
	cfg.PPG.Topics.Control = getEnv("PPG_TOPIC_CONTROL", "ppg/+/control")
	cfg.PPG.Topics.Torch = getEnv("PPG_TOPIC_TORCH", "ppg/%s/torch")
	cfg.PPG.Topics.Beep = getEnv("PPG_TOPIC_BEEP", "ppg/%s/beep")

	cfg.PPG.Streams.Signal = getEnv("PPG_STREAM_SIGNAL", "ppg:signal:stream")
	cfg.PPG.Streams.Beat = getEnv("PPG_STREAM_BEAT", "ppg:beat:stream")
	cfg.PPG.Streams.Arrhythmia = getEnv("PPG_STREAM_ARRHYTHMIA", "ppg:arrhythmia:stream")
	cfg.PPG.Streams.MaxLen = 10000

	cfg.PPG.Cache.RealtimeKeyPrefix = getEnv("CACHE_REALTIME_PREFIX", "ppg:session:")
	cfg.PPG.Cache.RealtimeSuffix = ":realtime"
	cfg.PPG.Cache.RealtimeTTL = 30

	cfg.PPG.TuningFile = getEnv("TUNING_FILE", "")
	tuning, err := LoadTuning(cfg.PPG.TuningFile)
	if err != nil {
		return nil, err
	}
	cfg.Tuning = tuning

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
