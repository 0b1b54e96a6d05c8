package models

// RawFrame 摄像头单帧像素数据（每次采集产生，处理后即丢弃，不保存）
type RawFrame struct {
	Timestamp int64  `msgpack:"ts" json:"timestamp"` // 毫秒
	Width     int    `msgpack:"w" json:"width"`
	Height    int    `msgpack:"h" json:"height"`
	Channels  int    `msgpack:"c" json:"channels"` // 3 = RGB, 4 = RGBA
	Pixels    []byte `msgpack:"px" json:"-"`
}

// ROI 采样区域（像素坐标）
type ROI struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty 区域内没有像素
func (r ROI) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// FrameMessage MQTT 帧消息（msgpack 编码）
type FrameMessage struct {
	DeviceID string   `msgpack:"device_id"`
	Frame    RawFrame `msgpack:"frame"`
}

// ControlMessage MQTT 控制消息（JSON）
type ControlMessage struct {
	Command string `json:"command"` // start, stop, reset, calibrate
}
