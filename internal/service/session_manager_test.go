package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/models"
	"wisefido-ppg/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type completed struct {
	sessionID string
	beatCount int
}

type fakeStore struct {
	mu        sync.Mutex
	created   []*models.MeasurementSession
	completed []completed
	createErr error
}

func (f *fakeStore) CreateSession(_ context.Context, session *models.MeasurementSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, session)
	return f.createErr
}

func (f *fakeStore) CompleteSession(_ context.Context, sessionID string, _ time.Time,
	_, beatCount, _ int, _ models.VitalSigns) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completed{sessionID, beatCount})
	return nil
}

type fakeCache struct {
	deleted []string
}

func (f *fakeCache) DeleteRealtimeData(_ context.Context, sessionID string) error {
	f.deleted = append(f.deleted, sessionID)
	return nil
}

type fakeTorch struct {
	mu    sync.Mutex
	state map[string]bool
}

func (f *fakeTorch) SetTorch(_ context.Context, deviceID string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[deviceID] = on
	return nil
}

func (f *fakeTorch) isOn(deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[deviceID]
}

func setupManager(t *testing.T) (*SessionManager, *fakeStore, *fakeCache, *fakeTorch) {
	t.Helper()
	store := &fakeStore{}
	cache := &fakeCache{}
	torch := &fakeTorch{state: make(map[string]bool)}
	m := NewSessionManager(config.DefaultTuning(), pipeline.Dependencies{Torch: torch}, store, cache, zap.NewNop())
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m, store, cache, torch
}

func TestSessionManager_StartAndStop(t *testing.T) {
	m, store, cache, torch := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, "cam-1"))
	assert.True(t, torch.isOn("cam-1"))
	assert.Equal(t, []string{"cam-1"}, m.ActiveDevices())

	require.Len(t, store.created, 1)
	session := store.created[0]
	assert.Equal(t, "cam-1", session.DeviceID)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.NotEmpty(t, session.SessionID)
	assert.False(t, session.StartedAt.IsZero())

	assert.ErrorIs(t, m.StartSession(ctx, "cam-1"), pipeline.ErrAlreadyRunning)

	require.NoError(t, m.StopSession(ctx, "cam-1"))
	assert.False(t, torch.isOn("cam-1"))
	assert.Empty(t, m.ActiveDevices())

	require.Len(t, store.completed, 1)
	assert.Equal(t, session.SessionID, store.completed[0].sessionID)
	assert.Equal(t, 0, store.completed[0].beatCount)
	assert.Equal(t, []string{session.SessionID}, cache.deleted)

	assert.ErrorIs(t, m.StopSession(ctx, "cam-1"), pipeline.ErrNotRunning)
}

func TestSessionManager_RestartCreatesNewSession(t *testing.T) {
	m, store, _, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, "cam-1"))
	require.NoError(t, m.StopSession(ctx, "cam-1"))
	require.NoError(t, m.StartSession(ctx, "cam-1"))

	require.Len(t, store.created, 2)
	assert.NotEqual(t, store.created[0].SessionID, store.created[1].SessionID)
}

func TestSessionManager_StoreFailureDoesNotBlockMeasurement(t *testing.T) {
	m, store, _, _ := setupManager(t)
	store.createErr = errors.New("database unavailable")

	require.NoError(t, m.StartSession(context.Background(), "cam-1"))
	assert.Equal(t, []string{"cam-1"}, m.ActiveDevices())
}

func TestSessionManager_UnknownDevice(t *testing.T) {
	m, _, _, _ := setupManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.StopSession(ctx, "ghost"), pipeline.ErrNotRunning)
	assert.ErrorIs(t, m.ResetSession("ghost"), pipeline.ErrNotRunning)
	assert.ErrorIs(t, m.CalibrateSession("ghost"), pipeline.ErrNotRunning)
	// 未开始测量的设备的帧静默丢弃
	assert.NoError(t, m.SubmitFrame("ghost", &models.RawFrame{}))
}

func TestSessionManager_ControlCommandsOnRunningSession(t *testing.T) {
	m, _, _, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, "cam-1"))
	assert.NoError(t, m.ResetSession("cam-1"))
	assert.NoError(t, m.CalibrateSession("cam-1"))
	assert.NoError(t, m.SubmitFrame("cam-1", &models.RawFrame{Timestamp: 1}))

	require.NoError(t, m.StopSession(ctx, "cam-1"))
	assert.ErrorIs(t, m.ResetSession("cam-1"), pipeline.ErrNotRunning)
	assert.NoError(t, m.SubmitFrame("cam-1", &models.RawFrame{Timestamp: 2}))
}

func TestSessionManager_StopAll(t *testing.T) {
	m, store, _, torch := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.StartSession(ctx, "cam-2"))
	require.NoError(t, m.StartSession(ctx, "cam-1"))
	assert.Equal(t, []string{"cam-1", "cam-2"}, m.ActiveDevices())

	m.StopAll(ctx)
	assert.Empty(t, m.ActiveDevices())
	assert.Len(t, store.completed, 2)
	assert.False(t, torch.isOn("cam-1"))
	assert.False(t, torch.isOn("cam-2"))
}
