package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"wisefido-ppg/common/database"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/repository"

	"go.uber.org/zap"
)

// 用法: go run ./scripts/check_session <session_id>
// 数据库连接使用服务相同的环境变量（DB_HOST, DB_PORT, ...）
func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s <session_id>", os.Args[0])
	}
	sessionID := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := repository.NewSessionRepository(db, zap.NewNop())

	session, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		log.Fatalf("Failed to get session: %v", err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("1. ppg_sessions")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-20s %s\n", "session_id", session.SessionID)
	fmt.Printf("%-20s %s\n", "device_id", session.DeviceID)
	fmt.Printf("%-20s %s\n", "status", session.Status)
	fmt.Printf("%-20s %s\n", "started_at", session.StartedAt.Format(time.RFC3339))
	if session.EndedAt != nil {
		fmt.Printf("%-20s %s (%s)\n", "ended_at", session.EndedAt.Format(time.RFC3339),
			session.EndedAt.Sub(session.StartedAt).Round(time.Second))
	} else {
		fmt.Printf("%-20s %s\n", "ended_at", "NULL")
	}
	if session.FinalBPM != nil {
		fmt.Printf("%-20s %d\n", "final_bpm", *session.FinalBPM)
	} else {
		fmt.Printf("%-20s %s\n", "final_bpm", "NULL")
	}
	fmt.Printf("%-20s %d\n", "beat_count", session.BeatCount)
	fmt.Printf("%-20s %d\n", "arrhythmia_count", session.ArrhythmiaCount)
	fmt.Printf("%-20s %s\n", "vitals", session.Vitals)

	events, err := repo.ListArrhythmiaEvents(ctx, sessionID)
	if err != nil {
		log.Fatalf("Failed to list arrhythmia events: %v", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("2. ppg_arrhythmia_events (%d)\n", len(events))
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-26s %-20s %-10s %-12s %-10s\n", "triggered_at", "rule", "conf", "rr_ms", "rmssd")
	fmt.Println(strings.Repeat("-", 80))
	for _, e := range events {
		fmt.Printf("%-26s %-20s %-10.2f %-12.0f %-10.1f\n",
			e.TriggeredAt.Format(time.RFC3339Nano), e.Rule, e.Confidence, e.RRInterval, e.RMSSD)
	}

	if len(events) != session.ArrhythmiaCount {
		fmt.Printf("\nWARNING: arrhythmia_count=%d but %d events recorded\n", session.ArrhythmiaCount, len(events))
	}
}
