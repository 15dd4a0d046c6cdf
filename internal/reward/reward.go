// Пакет reward — чистые функции расчёта вознаграждения.
// Не имеет состояния и побочных эффектов: все входные данные
// передаются явно, результаты полностью определяются аргументами.
package reward

import (
	"math"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// Rates — месячные ставки вознаграждения.
type Rates struct {
	// StoragePerGBMonth — за 1 GB используемого пространства в месяц
	StoragePerGBMonth float64
	// ComputePerCoreMonth — за 1 полностью загруженное ядро в месяц
	ComputePerCoreMonth float64
	// BandwidthPerMbpsMonth — за 1 Mbps средней пропускной способности в месяц
	BandwidthPerMbpsMonth float64
}

// BonusPolicy — правило бонуса за uptime.
type BonusPolicy struct {
	// ThresholdPercent — минимальный uptime для бонуса (включительно)
	ThresholdPercent float64
	// BonusPercent — размер бонуса в процентах от subtotal
	BonusPercent float64
}

// DefaultBonusPolicy — 10% при uptime >= 99%.
var DefaultBonusPolicy = BonusPolicy{ThresholdPercent: 99, BonusPercent: 10}

// Metrics — входные данные расчёта за период.
type Metrics struct {
	// StorageUsedBytes — используемое (не выделенное) пространство
	StorageUsedBytes int64
	// CoresAllocated — выделенные ядра
	CoresAllocated int64
	// ComputeUsagePercent — средняя загрузка ядер (0..100)
	ComputeUsagePercent float64
	// UploadMbps, DownloadMbps — измеренные скорости канала
	UploadMbps   float64
	DownloadMbps float64
	// Months — длительность периода в расчётных месяцах
	Months float64
}

// Breakdown — вознаграждение по видам ресурсов.
type Breakdown struct {
	Storage   float64
	Compute   float64
	Bandwidth float64
	Subtotal  float64
}

// Totals — итог с учётом бонуса и штрафа.
type Totals struct {
	UptimeBonus    float64
	PenaltyPercent float64
	Total          float64
}

// StorageReward — пропорционально используемым GB.
func StorageReward(usedBytes int64, rate, months float64) float64 {
	if usedBytes <= 0 || months <= 0 {
		return 0
	}
	return model.ToGB(usedBytes) * rate * months
}

// ComputeReward — ядра × средняя загрузка.
func ComputeReward(cores int64, usagePercent, rate, months float64) float64 {
	if cores <= 0 || months <= 0 {
		return 0
	}
	usage := clamp(usagePercent, 0, 100)
	return float64(cores) * usage / 100 * rate * months
}

// BandwidthReward — средняя из upload/download скорость, не зависит от трафика.
func BandwidthReward(uploadMbps, downloadMbps, rate, months float64) float64 {
	if months <= 0 {
		return 0
	}
	avg := (math.Max(uploadMbps, 0) + math.Max(downloadMbps, 0)) / 2
	return avg * rate * months
}

// MonthlyReward возвращает разбивку вознаграждения и subtotal.
func MonthlyReward(m Metrics, r Rates) Breakdown {
	b := Breakdown{
		Storage:   StorageReward(m.StorageUsedBytes, r.StoragePerGBMonth, m.Months),
		Compute:   ComputeReward(m.CoresAllocated, m.ComputeUsagePercent, r.ComputePerCoreMonth, m.Months),
		Bandwidth: BandwidthReward(m.UploadMbps, m.DownloadMbps, r.BandwidthPerMbpsMonth, m.Months),
	}
	b.Subtotal = b.Storage + b.Compute + b.Bandwidth
	return b
}

// UptimeBonus возвращает бонус: BonusPercent от subtotal при uptime >= ThresholdPercent, иначе 0.
func UptimeBonus(subtotal, uptimePercent float64, p BonusPolicy) float64 {
	if uptimePercent < p.ThresholdPercent {
		return 0
	}
	return subtotal * p.BonusPercent / 100
}

// DowntimePenaltyPercent — min(100, 2 × (target − actual)); 0 если цель выполнена.
func DowntimePenaltyPercent(targetPercent, actualPercent float64) float64 {
	if actualPercent >= targetPercent {
		return 0
	}
	return math.Min(100, 2*(targetPercent-actualPercent))
}

// ApplyPenalty уменьшает base на penaltyPercent процентов.
func ApplyPenalty(base, penaltyPercent float64) float64 {
	return base * (1 - clamp(penaltyPercent, 0, 100)/100)
}

// Finalize применяет бонус за uptime и штраф за невыполненное обязательство.
// target == nil — обязательство не заявлено.
// total = (subtotal + bonus) × (1 − penalty/100).
func Finalize(subtotal, uptimePercent float64, p BonusPolicy, target *float64) Totals {
	t := Totals{UptimeBonus: UptimeBonus(subtotal, uptimePercent, p)}
	if target != nil {
		t.PenaltyPercent = DowntimePenaltyPercent(*target, uptimePercent)
	}
	t.Total = ApplyPenalty(subtotal+t.UptimeBonus, t.PenaltyPercent)
	return t
}

// EstimateMonthly — оценка месячного вознаграждения при регистрации ресурса.
// Для storage оценка строится по выделенной ёмкости при полном использовании.
func EstimateMonthly(a *model.Allocation, r Rates) float64 {
	switch a.Kind {
	case model.KindStorage:
		return StorageReward(a.Total, r.StoragePerGBMonth, 1)
	case model.KindCompute:
		return ComputeReward(a.Total, 100, r.ComputePerCoreMonth, 1)
	case model.KindBandwidth:
		return BandwidthReward(a.UploadMbps, a.DownloadMbps, r.BandwidthPerMbpsMonth, 1)
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
