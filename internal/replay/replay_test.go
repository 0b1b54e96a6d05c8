package replay

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"wisefido-ppg/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sineCSV(seconds int) string {
	var b strings.Builder
	b.WriteString("timestamp,value\n")
	for i := 0; i < seconds*30; i++ {
		ts := i * 1000 / 30
		v := 100 + 5*math.Sin(2*math.Pi*float64(i)/30)
		fmt.Fprintf(&b, "%d,%.6f\n", ts, v)
	}
	return b.String()
}

func replayTuning() config.Tuning {
	tuning := config.DefaultTuning()
	tuning.Beat.MinConfidence = 0.4
	return tuning
}

func TestRun_Sinusoid(t *testing.T) {
	report, err := Run(context.Background(), strings.NewReader(sineCSV(10)), replayTuning(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 300, report.Samples)
	assert.Equal(t, 1, report.Skipped) // 表头
	require.GreaterOrEqual(t, len(report.Beats), 7)
	assert.Equal(t, len(report.Beats), len(report.Arrhythmias))
	assert.InDelta(t, 60, report.FinalBPM, 3)
	assert.Equal(t, 0, report.ArrhythmiaCount)
	assert.NotEmpty(t, report.ArrhythmiaStatus)
}

func TestRun_SkipsBadLines(t *testing.T) {
	input := "0,100\nnot,a number\n33\n66,101\n"
	report, err := Run(context.Background(), strings.NewReader(input), replayTuning(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Samples)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, report.Beats)
	assert.Equal(t, 0, report.FinalBPM)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, strings.NewReader("0,100\n"), replayTuning(), zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRecord(t *testing.T) {
	ts, v, ok := parseRecord([]string{" 1500", "98.5 "})
	require.True(t, ok)
	assert.Equal(t, int64(1500), ts)
	assert.Equal(t, 98.5, v)

	_, _, ok = parseRecord([]string{"1500"})
	assert.False(t, ok)
	_, _, ok = parseRecord([]string{"x", "1"})
	assert.False(t, ok)
}
