package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// StoredReport — отчёт в outbox вместе со служебными полями.
type StoredReport struct {
	ID uuid.UUID
	model.CombinedRewardReport
	SettledAt *time.Time
	CreatedAt time.Time
}

// RewardReportRepository — outbox отчётов о вознаграждении для системы расчётов.
type RewardReportRepository interface {
	// SaveReport сохраняет отчёт. Повторный отчёт за тот же период
	// заменяет прежний, пока тот не передан в систему расчётов.
	SaveReport(ctx context.Context, report *model.CombinedRewardReport) error
	// ListUnsettled возвращает непереданные отчёты в порядке создания.
	ListUnsettled(ctx context.Context, limit int) ([]*StoredReport, error)
	// MarkSettled отмечает отчёт переданным.
	MarkSettled(ctx context.Context, id uuid.UUID, at time.Time) error
}

type rewardReportRepo struct {
	db DBTX
}

// NewRewardReportRepository создаёт репозиторий outbox отчётов.
func NewRewardReportRepository(db DBTX) RewardReportRepository {
	return &rewardReportRepo{db: db}
}

func (r *rewardReportRepo) SaveReport(ctx context.Context, rep *model.CombinedRewardReport) error {
	query := `
		INSERT INTO reward_reports (
			id, participant_id, period_from, period_to,
			storage, compute, bandwidth, subtotal,
			uptime_percent, uptime_bonus, penalty_percent, total, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (participant_id, period_from, period_to) DO UPDATE SET
			storage = EXCLUDED.storage,
			compute = EXCLUDED.compute,
			bandwidth = EXCLUDED.bandwidth,
			subtotal = EXCLUDED.subtotal,
			uptime_percent = EXCLUDED.uptime_percent,
			uptime_bonus = EXCLUDED.uptime_bonus,
			penalty_percent = EXCLUDED.penalty_percent,
			total = EXCLUDED.total,
			generated_at = EXCLUDED.generated_at
		WHERE reward_reports.settled_at IS NULL`

	_, err := r.db.Exec(ctx, query,
		uuid.New(), rep.ParticipantID, rep.Period.From, rep.Period.To,
		rep.Storage, rep.Compute, rep.Bandwidth, rep.Subtotal,
		rep.UptimePercent, rep.UptimeBonus, rep.PenaltyPercent, rep.Total, rep.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения отчёта о вознаграждении: %w", err)
	}
	return nil
}

func (r *rewardReportRepo) ListUnsettled(ctx context.Context, limit int) ([]*StoredReport, error) {
	query := `
		SELECT id, participant_id, period_from, period_to,
			storage, compute, bandwidth, subtotal,
			uptime_percent, uptime_bonus, penalty_percent, total, generated_at,
			settled_at, created_at
		FROM reward_reports
		WHERE settled_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отчётов: %w", err)
	}
	defer rows.Close()

	var result []*StoredReport
	for rows.Next() {
		s, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения отчётов: %w", err)
	}
	return result, nil
}

func (r *rewardReportRepo) MarkSettled(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE reward_reports SET settled_at = $2 WHERE id = $1 AND settled_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки отчёта %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReport(row pgx.Row) (*StoredReport, error) {
	s := &StoredReport{}
	err := row.Scan(
		&s.ID, &s.ParticipantID, &s.Period.From, &s.Period.To,
		&s.Storage, &s.Compute, &s.Bandwidth, &s.Subtotal,
		&s.UptimePercent, &s.UptimeBonus, &s.PenaltyPercent, &s.Total, &s.GeneratedAt,
		&s.SettledAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора отчёта: %w", err)
	}
	return s, nil
}
