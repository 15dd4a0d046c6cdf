package model

import (
	"fmt"
	"time"
)

// MonthDuration — длительность расчётного месяца (30 дней).
const MonthDuration = 30 * 24 * time.Hour

// Period — расчётный период [From, To).
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewPeriod создаёт период и проверяет, что To > From.
func NewPeriod(from, to time.Time) (Period, error) {
	if !to.After(from) {
		return Period{}, fmt.Errorf("конец периода %s должен быть позже начала %s",
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return Period{From: from.UTC(), To: to.UTC()}, nil
}

// LastMonth возвращает период в один расчётный месяц, заканчивающийся в now.
func LastMonth(now time.Time) Period {
	return Period{From: now.Add(-MonthDuration).UTC(), To: now.UTC()}
}

// Duration возвращает длительность периода.
func (p Period) Duration() time.Duration {
	return p.To.Sub(p.From)
}

// Months возвращает длительность периода в расчётных месяцах.
func (p Period) Months() float64 {
	return float64(p.Duration()) / float64(MonthDuration)
}

// Contains проверяет, попадает ли момент t в период.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

// CombinedRewardReport — вычисленное (не выплаченное) вознаграждение участника за период.
// Производная величина, всегда пересчитывается из исходных данных.
type CombinedRewardReport struct {
	ParticipantID string  `json:"participant_id"`
	Period        Period  `json:"period"`
	Storage       float64 `json:"storage"`
	Compute       float64 `json:"compute"`
	Bandwidth     float64 `json:"bandwidth"`
	Subtotal      float64 `json:"subtotal"`
	UptimePercent float64 `json:"uptime_percent"`
	UptimeBonus   float64 `json:"uptime_bonus"`
	// PenaltyPercent — штраф за невыполненное обязательство по uptime (0, если не заявлено)
	PenaltyPercent float64   `json:"penalty_percent"`
	Total          float64   `json:"total"`
	GeneratedAt    time.Time `json:"generated_at"`
}
