package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// TorchCommand 闪光灯命令
type TorchCommand struct {
	On        bool  `json:"on"`
	Timestamp int64 `json:"timestamp"`
}

// BeepCommand 提示音命令
type BeepCommand struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Torch 通过 MQTT 控制设备闪光灯
type Torch struct {
	publisher     Publisher
	topicTemplate string // 如 "ppg/%s/torch"
	qos           byte
	logger        *zap.Logger
}

// NewTorch 创建闪光灯控制器
func NewTorch(publisher Publisher, topicTemplate string, qos byte, logger *zap.Logger) *Torch {
	return &Torch{
		publisher:     publisher,
		topicTemplate: topicTemplate,
		qos:           qos,
		logger:        logger,
	}
}

// SetTorch 同步发送开关命令（retained，设备重连后仍能拿到最后状态）
func (t *Torch) SetTorch(ctx context.Context, deviceID string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(TorchCommand{On: on, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal torch command: %w", err)
	}

	topic := fmt.Sprintf(t.topicTemplate, deviceID)
	if err := t.publisher.Publish(topic, t.qos, true, payload); err != nil {
		return fmt.Errorf("failed to send torch command: %w", err)
	}

	t.logger.Debug("Torch command sent",
		zap.String("device_id", deviceID),
		zap.Bool("on", on),
	)
	return nil
}

// Beeper 通过 MQTT 发送心跳提示音
type Beeper struct {
	publisher     Publisher
	topicTemplate string // 如 "ppg/%s/beep"
	logger        *zap.Logger
}

// NewBeeper 创建提示音发送器
func NewBeeper(publisher Publisher, topicTemplate string, logger *zap.Logger) *Beeper {
	return &Beeper{
		publisher:     publisher,
		topicTemplate: topicTemplate,
		logger:        logger,
	}
}

// Beep 发送一次心跳提示（QoS 0，丢失可以接受）
func (b *Beeper) Beep(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(BeepCommand{Reason: "beat", Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal beep command: %w", err)
	}
	if err := b.publisher.Publish(fmt.Sprintf(b.topicTemplate, deviceID), 0, false, payload); err != nil {
		return fmt.Errorf("failed to send beep: %w", err)
	}
	return nil
}
