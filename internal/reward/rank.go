package reward

import "math"

// Tier — ранг участника.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

// Пороги рангов по итоговой оценке (0..100).
const (
	silverThreshold   = 40
	goldThreshold     = 60
	platinumThreshold = 75
	diamondThreshold  = 90
)

// rankWeight — вес каждого компонента оценки.
const rankWeight = 0.25

// Contribution — вклад участника (или среднее по сети) для ранжирования.
type Contribution struct {
	StorageGB     float64 `json:"storage_gb"`
	Cores         float64 `json:"cores"`
	BandwidthMbps float64 `json:"bandwidth_mbps"`
	UptimePercent float64 `json:"uptime_percent"`
}

// Rank — результат ранжирования.
type Rank struct {
	Score float64 `json:"score"`
	Tier  Tier    `json:"tier"`
}

// Score вычисляет оценку: взвешенная сумма компонентов (по 25%),
// каждый нормирован к среднему по сети. Значение на уровне среднего
// даёт 50 баллов компонента, вдвое выше среднего и больше — 100.
func Score(participant, network Contribution) Rank {
	score := rankWeight * (normalize(participant.StorageGB, network.StorageGB) +
		normalize(participant.Cores, network.Cores) +
		normalize(participant.BandwidthMbps, network.BandwidthMbps) +
		normalize(participant.UptimePercent, network.UptimePercent))
	return Rank{Score: score, Tier: TierFor(score)}
}

// TierFor возвращает ранг для оценки.
func TierFor(score float64) Tier {
	switch {
	case score >= diamondThreshold:
		return TierDiamond
	case score >= platinumThreshold:
		return TierPlatinum
	case score >= goldThreshold:
		return TierGold
	case score >= silverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

func normalize(value, average float64) float64 {
	if value <= 0 {
		return 0
	}
	if average <= 0 {
		return 100
	}
	return math.Min(100, 50*value/average)
}
