package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-ppg/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("ppg session not found")
	// ErrSessionExists 会话ID重复
	ErrSessionExists = errors.New("ppg session already exists")
)

// uniqueViolation PostgreSQL unique_violation 错误码
const uniqueViolation = "23505"

// SessionRepository 测量会话和心律失常事件仓库
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSession 会话开始时写入一条 active 记录
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.MeasurementSession) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if session.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	query := `
		INSERT INTO ppg_sessions (
			session_id,
			device_id,
			status,
			started_at
		) VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.SessionID,
		session.DeviceID,
		models.SessionStatusActive,
		session.StartedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: session_id=%s", ErrSessionExists, session.SessionID)
		}
		return fmt.Errorf("failed to create ppg session: %w", err)
	}
	return nil
}

// CompleteSession 会话结束时写入汇总
func (r *SessionRepository) CompleteSession(
	ctx context.Context,
	sessionID string,
	endedAt time.Time,
	finalBPM, beatCount, arrhythmiaCount int,
	vitals models.VitalSigns,
) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	vitalsJSON, err := json.Marshal(vitals)
	if err != nil {
		return fmt.Errorf("failed to marshal vitals: %w", err)
	}

	// 0 表示没有可靠的最终心率
	var bpm sql.NullInt64
	if finalBPM > 0 {
		bpm = sql.NullInt64{Int64: int64(finalBPM), Valid: true}
	}

	query := `
		UPDATE ppg_sessions
		SET status = $2,
		    ended_at = $3,
		    final_bpm = $4,
		    beat_count = $5,
		    arrhythmia_count = $6,
		    vitals = $7
		WHERE session_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		sessionID,
		models.SessionStatusCompleted,
		endedAt,
		bpm,
		beatCount,
		arrhythmiaCount,
		string(vitalsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to complete ppg session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: session_id=%s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetSession 读取会话
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.MeasurementSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := `
		SELECT
			session_id,
			device_id,
			status,
			started_at,
			ended_at,
			final_bpm,
			beat_count,
			arrhythmia_count,
			vitals
		FROM ppg_sessions
		WHERE session_id = $1
	`

	var session models.MeasurementSession
	var endedAt sql.NullTime
	var finalBPM sql.NullInt64
	var vitals []byte

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.DeviceID,
		&session.Status,
		&session.StartedAt,
		&endedAt,
		&finalBPM,
		&session.BeatCount,
		&session.ArrhythmiaCount,
		&vitals,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: session_id=%s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get ppg session: %w", err)
	}

	// 处理可空字段
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	if finalBPM.Valid {
		bpm := int(finalBPM.Int64)
		session.FinalBPM = &bpm
	}
	if len(vitals) > 0 {
		session.Vitals = string(vitals)
	} else {
		session.Vitals = "{}"
	}

	return &session, nil
}

// RecordArrhythmiaEvent 写入一次计数的心律失常事件
func (r *SessionRepository) RecordArrhythmiaEvent(ctx context.Context, event *models.ArrhythmiaEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	query := `
		INSERT INTO ppg_arrhythmia_events (
			event_id,
			session_id,
			rule,
			confidence,
			rr_interval,
			rmssd,
			triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionID,
		event.Rule,
		event.Confidence,
		event.RRInterval,
		event.RMSSD,
		event.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record arrhythmia event: %w", err)
	}

	r.logger.Debug("Recorded arrhythmia event",
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
		zap.String("rule", event.Rule),
	)
	return nil
}

// ListArrhythmiaEvents 按时间顺序列出会话的心律失常事件
func (r *SessionRepository) ListArrhythmiaEvents(ctx context.Context, sessionID string) ([]*models.ArrhythmiaEvent, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := `
		SELECT
			event_id,
			session_id,
			rule,
			confidence,
			rr_interval,
			rmssd,
			triggered_at
		FROM ppg_arrhythmia_events
		WHERE session_id = $1
		ORDER BY triggered_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list arrhythmia events: %w", err)
	}
	defer rows.Close()

	var events []*models.ArrhythmiaEvent
	for rows.Next() {
		var e models.ArrhythmiaEvent
		if err := rows.Scan(
			&e.EventID,
			&e.SessionID,
			&e.Rule,
			&e.Confidence,
			&e.RRInterval,
			&e.RMSSD,
			&e.TriggeredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan arrhythmia event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate arrhythmia events: %w", err)
	}
	return events, nil
}
