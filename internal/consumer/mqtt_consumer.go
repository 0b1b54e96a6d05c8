package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	mqttcommon "wisefido-ppg/common/mqtt"
)

// 控制命令
const (
	CommandStart     = "start"
	CommandStop      = "stop"
	CommandReset     = "reset"
	CommandCalibrate = "calibrate"
)

var (
	// ErrUnknownCommand 无法识别的控制命令
	ErrUnknownCommand = errors.New("unknown control command")
	// ErrControlQueueFull 设备的控制命令积压
	ErrControlQueueFull = errors.New("control queue full")
	// ErrConsumerStopped 消费者未启动或已停止
	ErrConsumerStopped = errors.New("consumer is not running")
)

// controlQueueSize 每个设备待执行的控制命令上限
const controlQueueSize = 16

// Subscriber MQTT 订阅接口（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// SessionController 按设备管理测量会话
type SessionController interface {
	SubmitFrame(deviceID string, frame *models.RawFrame) error
	StartSession(ctx context.Context, deviceID string) error
	StopSession(ctx context.Context, deviceID string) error
	ResetSession(deviceID string) error
	CalibrateSession(deviceID string) error
}

// MQTTConsumer 订阅帧和控制主题，转发给会话管理器
// 控制命令不在 MQTT 回调中执行，每个设备一个 worker 按到达顺序执行
type MQTTConsumer struct {
	config     *config.Config
	subscriber Subscriber
	sessions   SessionController
	logger     *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers map[string]chan string
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	subscriber Subscriber,
	sessions SessionController,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		subscriber: subscriber,
		sessions:   sessions,
		logger:     logger,
	}
}

// Start 订阅主题（不阻塞）
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.workers = make(map[string]chan string)
	c.mu.Unlock()

	// 帧数据量大且只需要最新一帧，用 QoS 0
	if err := c.subscriber.Subscribe(c.config.PPG.Topics.Frame, 0, c.handleFrame); err != nil {
		return fmt.Errorf("failed to subscribe to frame topic: %w", err)
	}
	if err := c.subscriber.Subscribe(c.config.PPG.Topics.Control, 1, c.handleControl); err != nil {
		return fmt.Errorf("failed to subscribe to control topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("frame_topic", c.config.PPG.Topics.Frame),
		zap.String("control_topic", c.config.PPG.Topics.Control),
	)
	return nil
}

// Stop 取消订阅，等待正在执行的控制命令结束；未执行的命令被丢弃
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	err := c.subscriber.Unsubscribe(c.config.PPG.Topics.Frame, c.config.PPG.Topics.Control)
	if err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.workers = nil
	c.mu.Unlock()
	c.wg.Wait()

	c.logger.Info("MQTT consumer stopped")
	return err
}

// handleFrame 处理帧消息（msgpack）
func (c *MQTTConsumer) handleFrame(topic string, payload []byte) error {
	var msg models.FrameMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal frame message: %w", err)
	}

	// 消息里没有设备ID时从主题中取，主题格式: ppg/{device_id}/frame
	deviceID := msg.DeviceID
	if deviceID == "" {
		id, err := deviceFromTopic(topic)
		if err != nil {
			return err
		}
		deviceID = id
	}

	return c.sessions.SubmitFrame(deviceID, &msg.Frame)
}

// handleControl 处理控制消息（JSON）
func (c *MQTTConsumer) handleControl(topic string, payload []byte) error {
	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		return err
	}

	var msg models.ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal control message: %w", err)
	}

	command := strings.ToLower(strings.TrimSpace(msg.Command))
	switch command {
	case CommandStart, CommandStop, CommandReset, CommandCalibrate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}

	c.logger.Info("Received control command",
		zap.String("device_id", deviceID),
		zap.String("command", command),
	)
	return c.enqueue(deviceID, command)
}

// enqueue 把命令交给设备的 worker，不等待执行
func (c *MQTTConsumer) enqueue(deviceID, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workers == nil || c.ctx.Err() != nil {
		return ErrConsumerStopped
	}
	queue, ok := c.workers[deviceID]
	if !ok {
		queue = make(chan string, controlQueueSize)
		c.workers[deviceID] = queue
		c.wg.Add(1)
		go c.runWorker(c.ctx, deviceID, queue)
	}

	select {
	case queue <- command:
		return nil
	default:
		return fmt.Errorf("%w: device_id=%s", ErrControlQueueFull, deviceID)
	}
}

func (c *MQTTConsumer) runWorker(ctx context.Context, deviceID string, queue <-chan string) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case command := <-queue:
			if err := c.execute(deviceID, command); err != nil {
				c.logger.Error("Control command failed",
					zap.String("device_id", deviceID),
					zap.String("command", command),
					zap.Error(err),
				)
			}
		}
	}
}

// execute 执行控制命令；使用独立 ctx，消费者停止时正在执行的 stop 仍能关闭闪光灯
func (c *MQTTConsumer) execute(deviceID, command string) error {
	ctx := context.Background()
	switch command {
	case CommandStart:
		return c.sessions.StartSession(ctx, deviceID)
	case CommandStop:
		return c.sessions.StopSession(ctx, deviceID)
	case CommandReset:
		return c.sessions.ResetSession(deviceID)
	case CommandCalibrate:
		return c.sessions.CalibrateSession(deviceID)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
