// bandwidth.go — учёт трафика, месячный лимит, задержки и география участников.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/kv"
)

// earthRadiusKm — средний радиус Земли для формулы гаверсинуса.
const earthRadiusKm = 6371.0

// BandwidthRegistration — параметры регистрации bandwidth-выделения.
type BandwidthRegistration struct {
	ParticipantID string
	// MonthlyCapGB — месячный лимит (игнорируется при Unlimited)
	MonthlyCapGB float64
	Unlimited    bool
	Location     *model.GeoPoint
	Endpoint     string
	UptimeTarget *float64
}

// TransferRequest — параметры учёта передачи.
type TransferRequest struct {
	ParticipantID string
	Direction     model.Direction
	Bytes         int64
	Duration      time.Duration
	Purpose       model.TransferPurpose
}

// TransferStats — агрегаты передач участника за период.
type TransferStats struct {
	ParticipantID     string  `json:"participant_id"`
	Transfers         int     `json:"transfers"`
	UploadBytes       int64   `json:"upload_bytes"`
	DownloadBytes     int64   `json:"download_bytes"`
	AvgThroughputMbps float64 `json:"avg_throughput_mbps"`
}

// NearbyParticipant — участник и расстояние до точки поиска.
type NearbyParticipant struct {
	ParticipantID string         `json:"participant_id"`
	Location      model.GeoPoint `json:"location"`
	DistanceKm    float64        `json:"distance_km"`
}

// BandwidthService — bandwidth-выделения участников и учёт трафика.
type BandwidthService struct {
	ledger         *allocation.Ledger
	speed          probe.SpeedProbe
	pinger         probe.Pinger
	records        *kv.Store
	nodeID         string
	probeTimeout   time.Duration
	latencySamples int
	rates          reward.Rates
	now            func() time.Time
	logger         *slog.Logger
}

// NewBandwidthService создаёт сервис учёта трафика.
// nodeID — идентификатор координатора, источник latency-проб.
func NewBandwidthService(
	ledger *allocation.Ledger,
	speed probe.SpeedProbe,
	pinger probe.Pinger,
	records *kv.Store,
	nodeID string,
	probeTimeout time.Duration,
	latencySamples int,
	rates reward.Rates,
	logger *slog.Logger,
) *BandwidthService {
	if latencySamples <= 0 {
		latencySamples = 20
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &BandwidthService{
		ledger:         ledger,
		speed:          speed,
		pinger:         pinger,
		records:        records,
		nodeID:         nodeID,
		probeTimeout:   probeTimeout,
		latencySamples: latencySamples,
		rates:          rates,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.With(slog.String("component", "bandwidth_service")),
	}
}

// RegisterAllocation выполняет начальную speed-пробу и регистрирует выделение.
func (s *BandwidthService) RegisterAllocation(ctx context.Context, req BandwidthRegistration) (*Registration, error) {
	if !req.Unlimited && req.MonthlyCapGB <= 0 {
		return nil, model.NewError(model.KindValidation,
			"месячный лимит должен быть положительным или unlimited: %v GB", req.MonthlyCapGB)
	}
	if req.Location != nil {
		if err := validateLocation(*req.Location); err != nil {
			return nil, err
		}
	}

	speed, err := s.measure(ctx, probe.Target{ParticipantID: req.ParticipantID, Endpoint: req.Endpoint})
	if err != nil {
		operationsTotal.WithLabelValues("bandwidth_register", "error").Inc()
		return nil, fmt.Errorf("ошибка speed-пробы участника %s: %w", req.ParticipantID, err)
	}

	a := model.Allocation{
		ParticipantID: req.ParticipantID,
		Kind:          model.KindBandwidth,
		Unlimited:     req.Unlimited,
		UploadMbps:    speed.UploadMbps,
		DownloadMbps:  speed.DownloadMbps,
		Location:      req.Location,
		Endpoint:      req.Endpoint,
		UptimeTarget:  req.UptimeTarget,
		UsagePeriod:   model.MonthKey(s.now()),
	}
	if !req.Unlimited {
		a.Total = model.FromGB(req.MonthlyCapGB)
	}

	registered, err := s.ledger.Register(a)
	operationsTotal.WithLabelValues("bandwidth_register", resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bandwidth-выделение зарегистрировано",
		slog.String("participant_id", registered.ParticipantID),
		slog.Bool("unlimited", registered.Unlimited),
		slog.Float64("upload_mbps", registered.UploadMbps),
		slog.Float64("download_mbps", registered.DownloadMbps),
	)

	return &Registration{
		Allocation:             registered,
		EstimatedMonthlyReward: reward.EstimateMonthly(registered, s.rates),
	}, nil
}

func validateLocation(p model.GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return model.NewError(model.KindValidation, "недопустимые координаты: %v, %v", p.Lat, p.Lon)
	}
	return nil
}

func (s *BandwidthService) measure(ctx context.Context, target probe.Target) (probe.Speed, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.speed.MeasureSpeed(ctx, target)
}

// ReleaseAllocation удаляет bandwidth-выделение и latency-выборки участника.
// Записи о передачах сохраняются.
func (s *BandwidthService) ReleaseAllocation(participantID string) error {
	if err := s.ledger.Remove(participantID, model.KindBandwidth); err != nil {
		return err
	}
	return s.records.DeletePrefix(kv.ParticipantPrefix(kv.PrefixLatency, participantID))
}

// RecordTransfer учитывает передачу данных.
// Передача, превышающая месячный лимит, отклоняется с MonthlyCapExceeded
// и не меняет учтённое использование.
func (s *BandwidthService) RecordTransfer(req TransferRequest) (*model.TransferRecord, error) {
	rec, err := s.recordTransfer(req)
	operationsTotal.WithLabelValues("record_transfer", resultLabel(err)).Inc()
	return rec, err
}

func (s *BandwidthService) recordTransfer(req TransferRequest) (*model.TransferRecord, error) {
	if _, err := model.ParseDirection(string(req.Direction)); err != nil {
		return nil, model.NewError(model.KindValidation, "%s", err.Error())
	}
	purpose, err := model.ParseTransferPurpose(string(req.Purpose))
	if err != nil {
		return nil, model.NewError(model.KindValidation, "%s", err.Error())
	}
	if req.Bytes < 0 || req.Duration < 0 {
		return nil, model.NewError(model.KindValidation, "объём и длительность не могут быть отрицательными")
	}

	now := s.now()
	month := model.MonthKey(now)

	_, err = s.ledger.Update(req.ParticipantID, model.KindBandwidth, func(a *model.Allocation) error {
		if a.UsagePeriod != month {
			a.Used = 0
			a.UsagePeriod = month
		}
		if !a.HasRoom(req.Bytes) {
			return &model.Error{
				Kind:        model.KindMonthlyCapExceeded,
				Resource:    model.KindBandwidth,
				Participant: req.ParticipantID,
				Message: fmt.Sprintf("передача %d байт превышает месячный лимит участника %s: использовано %d из %d",
					req.Bytes, req.ParticipantID, a.Used, a.Total),
			}
		}
		a.Used += req.Bytes
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec := &model.TransferRecord{
		ID:             uuid.New().String(),
		ParticipantID:  req.ParticipantID,
		Direction:      req.Direction,
		Bytes:          req.Bytes,
		Duration:       req.Duration,
		ThroughputMbps: model.Throughput(req.Bytes, req.Duration),
		Purpose:        purpose,
		RecordedAt:     now,
	}

	if err := s.records.PutJSON(kv.TimeKey(kv.PrefixTransfer, rec.ParticipantID, now, rec.ID), rec); err != nil {
		s.revertUsage(req.ParticipantID, month, req.Bytes)
		return nil, fmt.Errorf("не удалось сохранить запись о передаче: %w", err)
	}

	transferBytesTotal.WithLabelValues(string(rec.Direction), string(rec.Purpose)).Add(float64(rec.Bytes))
	return rec, nil
}

// revertUsage откатывает учёт, если запись о передаче не сохранилась.
func (s *BandwidthService) revertUsage(participantID, month string, bytes int64) {
	_, err := s.ledger.Update(participantID, model.KindBandwidth, func(a *model.Allocation) error {
		if a.UsagePeriod == month {
			a.Used = max(0, a.Used-bytes)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Не удалось откатить учёт трафика",
			slog.String("participant_id", participantID),
			slog.String("error", err.Error()),
		)
	}
}

// MonthlyUsage возвращает учтённый трафик участника за календарный месяц ("2006-01").
func (s *BandwidthService) MonthlyUsage(participantID, month string) (int64, error) {
	from, err := time.Parse("2006-01", month)
	if err != nil {
		return 0, model.NewError(model.KindValidation, "недопустимый месяц %q, ожидается YYYY-MM", month)
	}
	stats, err := s.TransferStats(participantID, model.Period{From: from, To: from.AddDate(0, 1, 0)})
	if err != nil {
		return 0, err
	}
	return stats.UploadBytes + stats.DownloadBytes, nil
}

// TransferStats агрегирует передачи участника за период.
func (s *BandwidthService) TransferStats(participantID string, period model.Period) (*TransferStats, error) {
	stats := &TransferStats{ParticipantID: participantID}
	var throughput float64

	err := s.records.IterateRange(kv.PrefixTransfer, participantID, period.From, period.To, func(_, value []byte) error {
		rec, err := kv.DecodeJSON[model.TransferRecord](value)
		if err != nil {
			return err
		}
		stats.Transfers++
		throughput += rec.ThroughputMbps
		switch rec.Direction {
		case model.DirectionUpload:
			stats.UploadBytes += rec.Bytes
		case model.DirectionDownload:
			stats.DownloadBytes += rec.Bytes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stats.Transfers > 0 {
		stats.AvgThroughputMbps = throughput / float64(stats.Transfers)
	}
	return stats, nil
}

// MeasureLatency пингует участника to и сохраняет выборку задержки.
func (s *BandwidthService) MeasureLatency(ctx context.Context, from, to string) (time.Duration, error) {
	a, err := s.ledger.Get(to, model.KindBandwidth)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	latency, err := s.pinger.Ping(ctx, probe.Target{ParticipantID: to, Endpoint: a.Endpoint})
	if err != nil {
		return 0, fmt.Errorf("участник %s недоступен: %w", to, err)
	}

	sample := model.LatencySample{From: from, To: to, Latency: latency, RecordedAt: s.now()}
	if err := s.RecordLatencySample(sample); err != nil {
		return 0, err
	}
	return latency, nil
}

// RecordLatencySample сохраняет выборку задержки до участника sample.To.
func (s *BandwidthService) RecordLatencySample(sample model.LatencySample) error {
	key := kv.TimeKey(kv.PrefixLatency, sample.To, sample.RecordedAt, sample.From)
	if err := s.records.PutJSON(key, sample); err != nil {
		return fmt.Errorf("не удалось сохранить выборку задержки: %w", err)
	}
	return nil
}

// AverageLatency возвращает среднюю задержку по последним latencySamples выборкам.
// ok == false, если выборок нет.
func (s *BandwidthService) AverageLatency(participantID string) (avg time.Duration, ok bool, err error) {
	var sum time.Duration
	n := 0
	err = s.records.IteratePrefixReverse(kv.ParticipantPrefix(kv.PrefixLatency, participantID), func(_, value []byte) error {
		sample, err := kv.DecodeJSON[model.LatencySample](value)
		if err != nil {
			return err
		}
		sum += sample.Latency
		n++
		if n >= s.latencySamples {
			return kv.ErrStop
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / time.Duration(n), true, nil
}

// FindNearest возвращает count ближайших к point участников с известными координатами.
func (s *BandwidthService) FindNearest(point model.GeoPoint, count int) ([]NearbyParticipant, error) {
	if err := validateLocation(point); err != nil {
		return nil, err
	}
	if count <= 0 {
		return []NearbyParticipant{}, nil
	}

	var result []NearbyParticipant
	for _, a := range s.ledger.List(model.KindBandwidth) {
		if a.Location == nil {
			continue
		}
		result = append(result, NearbyParticipant{
			ParticipantID: a.ParticipantID,
			Location:      *a.Location,
			DistanceKm:    Haversine(point, *a.Location),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DistanceKm < result[j].DistanceKm
	})
	if len(result) > count {
		result = result[:count]
	}
	if result == nil {
		result = []NearbyParticipant{}
	}
	return result, nil
}

// Haversine — расстояние по большому кругу между точками в километрах.
func Haversine(a, b model.GeoPoint) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Reprobe повторяет speed-пробу для всех участников и обновляет скорости.
// Возвращает количество обновлённых выделений.
func (s *BandwidthService) Reprobe(ctx context.Context) (int, error) {
	updated := 0
	for _, a := range s.ledger.List(model.KindBandwidth) {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		speed, err := s.measure(ctx, probe.Target{ParticipantID: a.ParticipantID, Endpoint: a.Endpoint})
		if err != nil {
			s.logger.Warn("Повторная speed-проба не удалась",
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
			continue
		}

		now := s.now()
		_, err = s.ledger.Update(a.ParticipantID, model.KindBandwidth, func(cur *model.Allocation) error {
			cur.UploadMbps = speed.UploadMbps
			cur.DownloadMbps = speed.DownloadMbps
			cur.LastVerifiedAt = now
			return nil
		})
		if err != nil {
			s.logger.Warn("Не удалось обновить скорости",
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++
	}

	s.logger.Info("Повторная speed-проба завершена", slog.Int("updated", updated))
	return updated, nil
}

// PruneRecords удаляет записи о передачах, задержках и загрузке ядер старше cutoff.
func (s *BandwidthService) PruneRecords(cutoff time.Time) error {
	for _, p := range s.ledger.Participants() {
		for _, prefix := range []string{kv.PrefixTransfer, kv.PrefixLatency, kv.PrefixUsage} {
			start := kv.TimeKey(prefix, p, time.Unix(0, 0), "")
			end := kv.TimeKey(prefix, p, cutoff, "")
			if err := s.records.DeleteRange(start, end); err != nil {
				return err
			}
		}
	}
	return nil
}

// CalculateReward — средняя скорость × ставка × месяцы, не зависит от трафика.
func (s *BandwidthService) CalculateReward(participantID string, period model.Period) (float64, error) {
	a, err := s.ledger.Get(participantID, model.KindBandwidth)
	if err != nil {
		return 0, err
	}
	return reward.BandwidthReward(a.UploadMbps, a.DownloadMbps, s.rates.BandwidthPerMbpsMonth, period.Months()), nil
}

// NodeID возвращает идентификатор координатора.
func (s *BandwidthService) NodeID() string {
	return s.nodeID
}
