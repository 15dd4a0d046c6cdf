// Пакет allocation — реестр выделенных ресурсов участников.
//
// Ledger — единственное место, где изменяется счётчик Used.
// Каждая запись защищена собственным мьютексом: проверка ёмкости
// и инкремент (Reserve) выполняются атомарно для пары участник/вид ресурса.
// Конкурентные операции над разными участниками не блокируют друг друга.
//
// При заданной директории каждая запись сохраняется в
// {participant}-{hash}.{kind}.alloc.json и восстанавливается через Load.
package allocation

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/record"
)

var (
	// capacityUnits — суммарная выделенная ёмкость по виду ресурса (базовые единицы).
	capacityUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rc_allocation_capacity_units",
			Help: "Суммарная выделенная ёмкость по виду ресурса в базовых единицах",
		},
		[]string{"kind"},
	)

	// usedUnits — суммарная используемая ёмкость по виду ресурса.
	usedUnits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rc_allocation_used_units",
			Help: "Суммарная используемая ёмкость по виду ресурса в базовых единицах",
		},
		[]string{"kind"},
	)

	// reservationsTotal — количество попыток резервирования по результату.
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_allocation_reservations_total",
			Help: "Количество попыток резервирования ёмкости",
		},
		[]string{"kind", "result"},
	)
)

// key — ключ записи реестра.
type key struct {
	participant string
	kind        model.ResourceKind
}

// entry — запись реестра с собственным мьютексом.
type entry struct {
	mu      sync.Mutex
	alloc   model.Allocation
	removed bool
}

// Ledger — потокобезопасный реестр выделений.
type Ledger struct {
	mu      sync.RWMutex
	entries map[key]*entry
	// dir — директория персистентности ("" — только в памяти)
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// New создаёт реестр. dir — директория для *.alloc.json ("" — без персистентности).
func New(dir string, logger *slog.Logger) *Ledger {
	return &Ledger{
		entries: make(map[key]*entry),
		dir:     dir,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "allocation_ledger")),
	}
}

// Load восстанавливает реестр из *.alloc.json файлов директории.
// Записи с нарушенным инвариантом пропускаются с предупреждением.
func (l *Ledger) Load() error {
	if l.dir == "" {
		return nil
	}

	allocs, skipped, err := record.Scan[model.Allocation](l.dir, record.AllocationSuffix)
	if err != nil {
		return fmt.Errorf("ошибка загрузки выделений: %w", err)
	}
	for _, path := range skipped {
		l.logger.Warn("Пропущен невалидный файл выделения", slog.String("path", path))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	for _, a := range allocs {
		if !a.Kind.Valid() {
			l.logger.Warn("Пропущено выделение с неизвестным видом ресурса",
				slog.String("participant_id", a.ParticipantID),
				slog.String("kind", string(a.Kind)),
			)
			continue
		}
		if err := a.Validate(); err != nil {
			l.logger.Warn("Пропущено выделение с нарушенным инвариантом",
				slog.String("participant_id", a.ParticipantID),
				slog.String("kind", string(a.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		k := key{a.ParticipantID, a.Kind}
		if old, ok := l.entries[k]; ok {
			l.trackRemoved(&old.alloc)
		}
		l.entries[k] = &entry{alloc: *a}
		l.trackAdded(a)
		loaded++
	}

	l.logger.Info("Реестр выделений загружен",
		slog.Int("allocations", loaded),
		slog.String("dir", l.dir),
	)
	return nil
}

// Register добавляет новое выделение. Used сбрасывается в 0,
// RegisteredAt и LastVerifiedAt устанавливаются в текущее время.
// Возвращает ErrAllocationExists, если выделение уже существует.
func (l *Ledger) Register(a model.Allocation) (*model.Allocation, error) {
	if !a.Kind.Valid() {
		return nil, model.NewError(model.KindValidation, "недопустимый вид ресурса: %q", a.Kind)
	}
	if a.ParticipantID == "" {
		return nil, model.NewError(model.KindValidation, "participant_id обязателен")
	}
	if a.Total < 0 {
		return nil, model.NewError(model.KindValidation, "отрицательная ёмкость: %d", a.Total)
	}

	now := l.now()
	a.Used = 0
	a.RegisteredAt = now
	a.LastVerifiedAt = now

	k := key{a.ParticipantID, a.Kind}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[k]; ok {
		return nil, &model.Error{
			Kind:        model.KindAllocationExists,
			Resource:    a.Kind,
			Participant: a.ParticipantID,
			Message:     fmt.Sprintf("выделение %s для участника %s уже существует", a.Kind, a.ParticipantID),
		}
	}

	if err := l.persist(&a); err != nil {
		return nil, err
	}

	l.entries[k] = &entry{alloc: a}
	l.trackAdded(&a)

	l.logger.Info("Выделение зарегистрировано",
		slog.String("participant_id", a.ParticipantID),
		slog.String("kind", string(a.Kind)),
		slog.Int64("total", a.Total),
	)

	c := a
	return &c, nil
}

// Remove удаляет выделение участника.
func (l *Ledger) Remove(participantID string, kind model.ResourceKind) error {
	return l.remove(participantID, kind, false)
}

// RemoveIdle удаляет выделение, только если Used == 0.
// Иначе возвращает ALLOCATION_IN_USE. Проверка и удаление выполняются
// под мьютексом записи, поэтому параллельный Reserve либо успевает
// до проверки, либо получает ALLOCATION_NOT_FOUND.
func (l *Ledger) RemoveIdle(participantID string, kind model.ResourceKind) error {
	return l.remove(participantID, kind, true)
}

func (l *Ledger) remove(participantID string, kind model.ResourceKind, idleOnly bool) error {
	k := key{participantID, kind}

	l.mu.Lock()
	e, ok := l.entries[k]
	if !ok {
		l.mu.Unlock()
		return model.AllocationNotFound(kind, participantID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if idleOnly && e.alloc.Used > 0 {
		l.mu.Unlock()
		return &model.Error{
			Kind:        model.KindAllocationInUse,
			Resource:    kind,
			Participant: participantID,
			Message:     fmt.Sprintf("выделение %s участника %s используется: used=%d", kind, participantID, e.alloc.Used),
		}
	}
	delete(l.entries, k)
	l.mu.Unlock()

	e.removed = true
	l.trackRemoved(&e.alloc)

	if l.dir != "" {
		path := filepath.Join(l.dir, record.AllocationFileName(participantID, string(kind)))
		if err := record.Delete(path); err != nil {
			return err
		}
	}

	l.logger.Info("Выделение удалено",
		slog.String("participant_id", participantID),
		slog.String("kind", string(kind)),
	)
	return nil
}

// Get возвращает копию выделения.
func (l *Ledger) Get(participantID string, kind model.ResourceKind) (*model.Allocation, error) {
	e, err := l.lookup(participantID, kind)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.alloc
	return &c, nil
}

// List возвращает копии всех выделений вида kind, отсортированные по участнику.
func (l *Ledger) List(kind model.ResourceKind) []*model.Allocation {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for k, e := range l.entries {
		if k.kind == kind {
			entries = append(entries, e)
		}
	}
	l.mu.RUnlock()

	result := make([]*model.Allocation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		c := e.alloc
		e.mu.Unlock()
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ParticipantID < result[j].ParticipantID
	})
	return result
}

// Participants возвращает отсортированный список участников,
// у которых есть хотя бы одно выделение.
func (l *Ledger) Participants() []string {
	l.mu.RLock()
	seen := make(map[string]struct{}, len(l.entries))
	for k := range l.entries {
		seen[k.participant] = struct{}{}
	}
	l.mu.RUnlock()

	result := make([]string, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Reserve атомарно проверяет свободную ёмкость и увеличивает Used на amount.
// Возвращает InsufficientCapacity, если amount не помещается.
func (l *Ledger) Reserve(participantID string, kind model.ResourceKind, amount int64) error {
	if amount < 0 {
		return model.NewError(model.KindValidation, "отрицательный объём резервирования: %d", amount)
	}

	_, err := l.Update(participantID, kind, func(a *model.Allocation) error {
		if !a.HasRoom(amount) {
			return model.InsufficientCapacity(kind, participantID, amount, a.Available())
		}
		a.Used += amount
		return nil
	})

	result := "ok"
	if err != nil {
		result = "rejected"
	}
	reservationsTotal.WithLabelValues(string(kind), result).Inc()

	return err
}

// Release уменьшает Used на amount. Used не опускается ниже нуля.
func (l *Ledger) Release(participantID string, kind model.ResourceKind, amount int64) error {
	if amount < 0 {
		return model.NewError(model.KindValidation, "отрицательный объём освобождения: %d", amount)
	}

	_, err := l.Update(participantID, kind, func(a *model.Allocation) error {
		if amount > a.Used {
			l.logger.Warn("Освобождение превышает использование, Used обнулён",
				slog.String("participant_id", participantID),
				slog.String("kind", string(kind)),
				slog.Int64("used", a.Used),
				slog.Int64("amount", amount),
			)
			a.Used = 0
			return nil
		}
		a.Used -= amount
		return nil
	})
	return err
}

// Update применяет fn к копии выделения под мьютексом записи.
// Изменения фиксируются только если fn вернула nil и инвариант
// used <= total не нарушен. ParticipantID и Kind изменить нельзя.
func (l *Ledger) Update(participantID string, kind model.ResourceKind, fn func(a *model.Allocation) error) (*model.Allocation, error) {
	e, err := l.lookup(participantID, kind)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, model.AllocationNotFound(kind, participantID)
	}

	draft := e.alloc
	if err := fn(&draft); err != nil {
		return nil, err
	}
	draft.ParticipantID = participantID
	draft.Kind = kind

	if err := draft.Validate(); err != nil {
		return nil, &model.Error{
			Kind:        model.KindInsufficientCapacity,
			Resource:    kind,
			Participant: participantID,
			Message:     "изменение отклонено",
			Err:         err,
		}
	}

	if err := l.persist(&draft); err != nil {
		return nil, err
	}

	l.trackRemoved(&e.alloc)
	e.alloc = draft
	l.trackAdded(&e.alloc)

	c := draft
	return &c, nil
}

// Touch обновляет LastVerifiedAt.
func (l *Ledger) Touch(participantID string, kind model.ResourceKind) error {
	now := l.now()
	_, err := l.Update(participantID, kind, func(a *model.Allocation) error {
		a.LastVerifiedAt = now
		return nil
	})
	return err
}

// lookup находит запись по ключу.
func (l *Ledger) lookup(participantID string, kind model.ResourceKind) (*entry, error) {
	l.mu.RLock()
	e, ok := l.entries[key{participantID, kind}]
	l.mu.RUnlock()
	if !ok {
		return nil, model.AllocationNotFound(kind, participantID)
	}
	return e, nil
}

// persist сохраняет выделение на диск (если задана директория).
func (l *Ledger) persist(a *model.Allocation) error {
	if l.dir == "" {
		return nil
	}
	path := filepath.Join(l.dir, record.AllocationFileName(a.ParticipantID, string(a.Kind)))
	if err := record.Write(path, a); err != nil {
		return fmt.Errorf("не удалось сохранить выделение %s/%s: %w", a.ParticipantID, a.Kind, err)
	}
	return nil
}

func (l *Ledger) trackAdded(a *model.Allocation) {
	capacityUnits.WithLabelValues(string(a.Kind)).Add(float64(a.Total))
	usedUnits.WithLabelValues(string(a.Kind)).Add(float64(a.Used))
}

func (l *Ledger) trackRemoved(a *model.Allocation) {
	capacityUnits.WithLabelValues(string(a.Kind)).Sub(float64(a.Total))
	usedUnits.WithLabelValues(string(a.Kind)).Sub(float64(a.Used))
}
