package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/pipeline"

	"go.uber.org/zap"
)

// Report 回放结果
type Report struct {
	Samples          int                        `json:"samples"`
	Skipped          int                        `json:"skipped"`
	Beats            []models.BeatPayload       `json:"beats,omitempty"`
	Arrhythmias      []models.ArrhythmiaPayload `json:"arrhythmias,omitempty"`
	FinalBPM         int                        `json:"final_bpm"`
	BeatCount        int                        `json:"beat_count"`
	ArrhythmiaCount  int                        `json:"arrhythmia_count"`
	ArrhythmiaStatus string                     `json:"arrhythmia_status"`
	Vitals           models.VitalSigns          `json:"vitals"`
}

// collector 收集流水线输出的 Sink
type collector struct {
	mu          sync.Mutex
	beats       []models.BeatPayload
	arrhythmias []models.ArrhythmiaPayload
}

func (c *collector) PublishSample(context.Context, string, string, models.SignalSample) error {
	return nil
}

func (c *collector) PublishBeat(_ context.Context, payload *models.BeatPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beats = append(c.beats, *payload)
	return nil
}

func (c *collector) PublishArrhythmia(_ context.Context, payload *models.ArrhythmiaPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrhythmias = append(c.arrhythmias, *payload)
	return nil
}

func (c *collector) UpdateRealtime(context.Context, *models.RealtimeData) error {
	return nil
}

// Run 读取 "timestamp,value" CSV（毫秒，可带表头），逐行送入流水线
// 无法解析的行计入 Skipped，不中断回放
func Run(ctx context.Context, r io.Reader, tuning config.Tuning, logger *zap.Logger) (*Report, error) {
	out := &collector{}
	p := pipeline.New("replay", tuning, pipeline.Dependencies{Sink: out}, logger)
	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	report := &Report{}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			_, _ = p.Stop(ctx)
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		if ctx.Err() != nil {
			_, _ = p.Stop(ctx)
			return nil, ctx.Err()
		}

		ts, value, ok := parseRecord(record)
		if !ok {
			if line > 1 {
				logger.Debug("Skipping unparsable line", zap.Int("line", line))
			}
			report.Skipped++
			continue
		}
		if _, err := p.ProcessValue(ts, value); err != nil {
			report.Skipped++
			logger.Warn("Sample processing failed", zap.Int("line", line), zap.Error(err))
			continue
		}
		report.Samples++
	}

	status := p.Snapshot().ArrhythmiaStatus
	summary, err := p.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stop pipeline: %w", err)
	}

	out.mu.Lock()
	report.Beats = out.beats
	report.Arrhythmias = out.arrhythmias
	out.mu.Unlock()

	report.FinalBPM = summary.FinalBPM
	report.BeatCount = summary.BeatCount
	report.ArrhythmiaCount = summary.ArrhythmiaCount
	report.ArrhythmiaStatus = status
	report.Vitals = summary.Vitals
	return report, nil
}

func parseRecord(record []string) (int64, float64, bool) {
	if len(record) < 2 {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return ts, value, true
}
