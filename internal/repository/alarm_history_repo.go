package repository

import (
	"context"
	"fmt"

	"alarmd/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// DB *pgxpool.Pool 和 pgx.Tx 都满足
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AlarmHistoryRepository struct {
	db DB
}

func NewAlarmHistoryRepository(db DB) *AlarmHistoryRepository {
	return &AlarmHistoryRepository{db: db}
}

// EnsureSchema 创建 alarm_history 表（幂等）
func (r *AlarmHistoryRepository) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS alarm_history (
            id           BIGSERIAL PRIMARY KEY,
            task_id      TEXT,
            title        TEXT NOT NULL,
            kind         TEXT NOT NULL,
            outcome      TEXT NOT NULL,
            presented_at TIMESTAMPTZ NOT NULL,
            closed_at    TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_alarm_history_closed_at ON alarm_history (closed_at DESC);
    `
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure alarm_history schema: %w", err)
	}
	return nil
}

// Insert 写入一次展示记录，返回自增 ID
func (r *AlarmHistoryRepository) Insert(ctx context.Context, rec *model.AlarmRecord) (int64, error) {
	query := `
        INSERT INTO alarm_history (task_id, title, kind, outcome, presented_at, closed_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	var id int64
	err := r.db.QueryRow(ctx, query,
		rec.TaskID,
		rec.Title,
		string(rec.Kind),
		string(rec.Outcome),
		rec.PresentedAt,
		rec.ClosedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alarm history: %w", err)
	}
	rec.ID = id
	return id, nil
}

// ListRecent 按关闭时间倒序返回最近的记录
func (r *AlarmHistoryRepository) ListRecent(ctx context.Context, limit int) ([]model.AlarmRecord, error) {
	limit = ClampLimit(limit)

	query := `
        SELECT id, task_id, title, kind, outcome, presented_at, closed_at
        FROM alarm_history
        ORDER BY closed_at DESC, id DESC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alarm history: %w", err)
	}
	defer rows.Close()

	records := make([]model.AlarmRecord, 0, limit)
	for rows.Next() {
		var (
			rec     model.AlarmRecord
			kind    string
			outcome string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TaskID,
			&rec.Title,
			&kind,
			&outcome,
			&rec.PresentedAt,
			&rec.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alarm history: %w", err)
		}
		rec.Kind = model.Kind(kind)
		rec.Outcome = model.Outcome(outcome)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ClampLimit 非正数取默认值，超过上限截断
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
