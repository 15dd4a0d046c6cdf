// Пакет model — доменные модели Resource Coordinator.
// Allocation — единая запись о выделенном ресурсе участника, используется
// и как in-memory представление, и как формат *.alloc.json на диске.
package model

import (
	"fmt"
	"time"
)

// ResourceKind — вид ресурса, который участник предоставляет сети.
type ResourceKind string

const (
	// KindStorage — дисковое пространство (GB)
	KindStorage ResourceKind = "storage"
	// KindCompute — вычислительные ядра
	KindCompute ResourceKind = "compute"
	// KindBandwidth — пропускная способность сети (Mbps, месячный лимит в GB)
	KindBandwidth ResourceKind = "bandwidth"
)

// AllKinds — все виды ресурсов в фиксированном порядке.
var AllKinds = []ResourceKind{KindStorage, KindCompute, KindBandwidth}

// BytesPerGB — количество байт в одном GB для storage и bandwidth.
const BytesPerGB int64 = 1 << 30

// Valid проверяет, что вид ресурса входит в перечисление.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindStorage, KindCompute, KindBandwidth:
		return true
	default:
		return false
	}
}

// ParseResourceKind преобразует строку в ResourceKind.
func ParseResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("недопустимый вид ресурса: %q, допустимые: storage, compute, bandwidth", s)
	}
	return k, nil
}

// GeoPoint — географические координаты участника.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Allocation — выделенный участником ресурс одного вида.
//
// Total и Used хранятся в базовых единицах:
//   - storage: байты
//   - compute: ядра
//   - bandwidth: байты за текущий календарный месяц (Total — месячный лимит)
//
// Инвариант: Used <= Total (кроме bandwidth с Unlimited = true).
type Allocation struct {
	// ParticipantID — идентификатор участника (от identity resolver)
	ParticipantID string `json:"participant_id"`

	// Kind — вид ресурса
	Kind ResourceKind `json:"kind"`

	// Total — выделенная ёмкость в базовых единицах
	Total int64 `json:"total"`

	// Used — используемая ёмкость в базовых единицах
	Used int64 `json:"used"`

	// Unlimited — без месячного лимита (только bandwidth)
	Unlimited bool `json:"unlimited,omitempty"`

	// RegisteredAt — время регистрации (UTC)
	RegisteredAt time.Time `json:"registered_at"`

	// LastVerifiedAt — время последней проверки (UTC)
	LastVerifiedAt time.Time `json:"last_verified_at"`

	// UptimeTarget — обязательство по uptime в процентах (опционально).
	// nil — обязательство не заявлено, штраф не применяется.
	UptimeTarget *float64 `json:"uptime_target,omitempty"`

	// StoragePath — путь хранения реплик (только storage)
	StoragePath string `json:"storage_path,omitempty"`

	// BenchmarkScore — итерации хэширования в миллисекунду (только compute)
	BenchmarkScore float64 `json:"benchmark_score,omitempty"`

	// UploadMbps, DownloadMbps — измеренные скорости (только bandwidth)
	UploadMbps   float64 `json:"upload_mbps,omitempty"`
	DownloadMbps float64 `json:"download_mbps,omitempty"`

	// Location — координаты (только bandwidth, опционально)
	Location *GeoPoint `json:"location,omitempty"`

	// Endpoint — сетевой адрес host:port для latency-проб (опционально)
	Endpoint string `json:"endpoint,omitempty"`

	// UsagePeriod — месяц, к которому относится Used (только bandwidth, "2006-01")
	UsagePeriod string `json:"usage_period,omitempty"`
}

// Available возвращает свободную ёмкость в базовых единицах.
// Для unlimited bandwidth возвращает -1.
func (a *Allocation) Available() int64 {
	if a.Unlimited {
		return -1
	}
	avail := a.Total - a.Used
	if avail < 0 {
		return 0
	}
	return avail
}

// HasRoom проверяет, поместится ли amount в свободную ёмкость.
func (a *Allocation) HasRoom(amount int64) bool {
	if a.Unlimited {
		return true
	}
	return a.Used+amount <= a.Total
}

// Utilization возвращает загрузку в процентах (0..100).
func (a *Allocation) Utilization() float64 {
	if a.Unlimited || a.Total <= 0 {
		return 0
	}
	return float64(a.Used) / float64(a.Total) * 100
}

// Validate проверяет инвариант used <= total.
func (a *Allocation) Validate() error {
	if a.Used < 0 {
		return fmt.Errorf("отрицательное использование: %d", a.Used)
	}
	if !a.Unlimited && a.Used > a.Total {
		return fmt.Errorf("использование %d превышает выделенную ёмкость %d", a.Used, a.Total)
	}
	return nil
}

// ToGB переводит байты в GB.
func ToGB(bytes int64) float64 {
	return float64(bytes) / float64(BytesPerGB)
}

// FromGB переводит GB в байты.
func FromGB(gb float64) int64 {
	return int64(gb * float64(BytesPerGB))
}
