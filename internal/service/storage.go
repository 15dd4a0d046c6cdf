// Пакет service — бизнес-логика Resource Coordinator.
// storage.go — сервис реплицированного хранения объектов.
//
// storeObject публикует объект только после записи всех replicaCount реплик.
// Ёмкость кандидатов резервируется в реестре выделений до записи байт;
// при любой неудаче все записанные реплики удаляются, резервы снимаются.
// Каждая запись защищена WAL-транзакцией: прерванная операция
// откатывается при следующем старте (RecoverPending).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/health"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/catalog"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/filestore"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/wal"
)

// Eligibility — пригодность участника для операции (реализует health.Tracker).
type Eligibility interface {
	CanPerform(participantID string, op health.Operation) bool
}

// allEligible — все участники пригодны.
type allEligible struct{}

func (allEligible) CanPerform(string, health.Operation) bool { return true }

// Registration — результат регистрации выделения.
type Registration struct {
	Allocation             *model.Allocation `json:"allocation"`
	EstimatedMonthlyReward float64           `json:"estimated_monthly_reward"`
}

// StorageRegistration — параметры регистрации storage-выделения.
type StorageRegistration struct {
	ParticipantID string
	CapacityGB    float64
	StoragePath   string
	Endpoint      string
	UptimeTarget  *float64
}

// StoreRequest — параметры сохранения объекта.
type StoreRequest struct {
	Name      string
	Data      []byte
	Owner     string
	ExpiresAt *time.Time
}

// DeleteResult — результат удаления объекта.
type DeleteResult struct {
	ObjectID string `json:"object_id"`
	// Failed — участники, с которых не удалось удалить реплику
	Failed []string `json:"failed,omitempty"`
}

// VerifyReport — результат проверки реплик участника.
type VerifyReport struct {
	ParticipantID string    `json:"participant_id"`
	Checked       int       `json:"checked"`
	Missing       int       `json:"missing"`
	Corrupted     int       `json:"corrupted"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// StorageService — реплицированное хранение объектов на участниках.
type StorageService struct {
	ledger       *allocation.Ledger
	catalog      *catalog.Catalog
	wal          *wal.WAL
	transport    Transport
	breakers     *breakers
	eligibility  Eligibility
	replicaCount int
	rates        reward.Rates
	now          func() time.Time
	logger       *slog.Logger
}

// NewStorageService создаёт сервис хранения.
// eligibility == nil — все участники пригодны для размещения реплик.
func NewStorageService(
	ledger *allocation.Ledger,
	cat *catalog.Catalog,
	w *wal.WAL,
	transport Transport,
	eligibility Eligibility,
	replicaCount int,
	rates reward.Rates,
	logger *slog.Logger,
) *StorageService {
	if eligibility == nil {
		eligibility = allEligible{}
	}
	if replicaCount <= 0 {
		replicaCount = 3
	}
	return &StorageService{
		ledger:       ledger,
		catalog:      cat,
		wal:          w,
		transport:    transport,
		breakers:     newBreakers(5, 30*time.Second),
		eligibility:  eligibility,
		replicaCount: replicaCount,
		rates:        rates,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "storage_service")),
	}
}

// ReplicaCount возвращает требуемое количество реплик.
func (s *StorageService) ReplicaCount() int {
	return s.replicaCount
}

// RegisterAllocation проверяет путь пробной записью и регистрирует выделение с used = 0.
func (s *StorageService) RegisterAllocation(ctx context.Context, req StorageRegistration) (*Registration, error) {
	if req.CapacityGB <= 0 {
		return nil, model.NewError(model.KindValidation, "ёмкость должна быть положительной: %v GB", req.CapacityGB)
	}

	if err := s.checkPath(ctx, req.ParticipantID, req.StoragePath); err != nil {
		operationsTotal.WithLabelValues("storage_register", "error").Inc()
		return nil, &model.Error{
			Kind:        model.KindPathUnwritable,
			Resource:    model.KindStorage,
			Participant: req.ParticipantID,
			Message:     fmt.Sprintf("путь %q недоступен для записи", req.StoragePath),
			Err:         err,
		}
	}

	a, err := s.ledger.Register(model.Allocation{
		ParticipantID: req.ParticipantID,
		Kind:          model.KindStorage,
		Total:         model.FromGB(req.CapacityGB),
		StoragePath:   req.StoragePath,
		Endpoint:      req.Endpoint,
		UptimeTarget:  req.UptimeTarget,
	})
	operationsTotal.WithLabelValues("storage_register", resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	return &Registration{
		Allocation:             a,
		EstimatedMonthlyReward: reward.EstimateMonthly(a, s.rates),
	}, nil
}

// checkPath — пробная запись, чтение и удаление через транспорт участника.
func (s *StorageService) checkPath(ctx context.Context, participantID, path string) error {
	store, err := s.transport.Store(participantID, path)
	if err != nil {
		return err
	}

	probeID := ".probe-" + uuid.New().String()
	payload := []byte(probeID)

	sum, err := store.WriteReplica(ctx, probeID, payload)
	if err != nil {
		return err
	}
	got, readErr := store.ReadReplica(ctx, probeID)
	if err := store.DeleteReplica(ctx, probeID); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	if sum != filestore.Checksum(payload) || string(got) != string(payload) {
		return errors.New("пробные данные искажены")
	}
	return nil
}

// ReleaseAllocation удаляет storage-выделение участника.
// Участник, хранящий реплики или резерв незавершённой записи, не может быть удалён.
func (s *StorageService) ReleaseAllocation(participantID string) error {
	if held := s.catalog.ByHolder(participantID); len(held) > 0 {
		return &model.Error{
			Kind:        model.KindAllocationInUse,
			Resource:    model.KindStorage,
			Participant: participantID,
			Message:     fmt.Sprintf("участник %s хранит %d реплик", participantID, len(held)),
		}
	}
	if err := s.ledger.RemoveIdle(participantID, model.KindStorage); err != nil {
		return err
	}
	s.breakers.forget(participantID)
	return nil
}

// StoreObject сохраняет объект на replicaCount участниках.
// Объект становится видимым только после записи всех реплик.
func (s *StorageService) StoreObject(ctx context.Context, req StoreRequest) (*model.StoredObject, error) {
	obj, err := s.storeObject(ctx, req)
	operationsTotal.WithLabelValues("store_object", resultLabel(err)).Inc()
	return obj, err
}

func (s *StorageService) storeObject(ctx context.Context, req StoreRequest) (*model.StoredObject, error) {
	if req.Name == "" {
		return nil, model.NewError(model.KindValidation, "имя объекта обязательно")
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, model.NewError(model.KindValidation, "срок хранения уже истёк")
	}

	size := int64(len(req.Data))
	obj := &model.StoredObject{
		ID:          uuid.New().String(),
		Name:        req.Name,
		ContentHash: filestore.Checksum(req.Data),
		Size:        size,
		Owner:       req.Owner,
		CreatedAt:   now,
		ExpiresAt:   req.ExpiresAt,
	}

	chosen := s.reserveCandidates(size)
	if len(chosen) < s.replicaCount {
		s.releaseAll(chosen, size)
		return nil, s.shortfall(obj, len(chosen), "недостаточно участников со свободной ёмкостью")
	}

	holders := make([]string, len(chosen))
	for i, a := range chosen {
		holders[i] = a.ParticipantID
	}

	tx, err := s.wal.StartTransaction(wal.OpObjectStore, obj.ID, size, holders)
	if err != nil {
		s.releaseAll(chosen, size)
		return nil, fmt.Errorf("не удалось начать WAL-транзакцию: %w", err)
	}

	written, failures := s.writeReplicas(ctx, obj, req.Data, chosen)
	if len(failures) > 0 {
		s.rollbackStore(obj.ID, written, chosen, size, tx.TransactionID)
		return nil, s.shortfall(obj, len(chosen)-len(failures), errors.Join(failures...).Error())
	}

	obj.Replicas = holders
	if err := s.catalog.Publish(obj); err != nil {
		s.rollbackStore(obj.ID, written, chosen, size, tx.TransactionID)
		return nil, fmt.Errorf("не удалось опубликовать объект: %w", err)
	}

	if err := s.wal.Commit(tx.TransactionID); err != nil {
		s.logger.Error("Не удалось закоммитить WAL-транзакцию",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	storedBytesTotal.Add(float64(size * int64(len(holders))))
	s.logger.Info("Объект сохранён",
		slog.String("object_id", obj.ID),
		slog.String("name", obj.Name),
		slog.Int64("size", size),
		slog.Any("replicas", holders),
	)

	return obj.Clone(), nil
}

// reserveCandidates выбирает и резервирует до replicaCount участников.
// Порядок выбора: больше свободной ёмкости — раньше, при равенстве — по идентификатору.
// Участники с открытым breaker или непригодные для размещения пропускаются.
func (s *StorageService) reserveCandidates(size int64) []*model.Allocation {
	var candidates []*model.Allocation
	for _, a := range s.ledger.List(model.KindStorage) {
		if !a.HasRoom(size) {
			continue
		}
		if s.breakers.isOpen(a.ParticipantID) || !s.eligibility.CanPerform(a.ParticipantID, health.OpReplicate) {
			continue
		}
		candidates = append(candidates, a)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Available() > candidates[j].Available()
	})

	chosen := make([]*model.Allocation, 0, s.replicaCount)
	for _, a := range candidates {
		if len(chosen) == s.replicaCount {
			break
		}
		// Между выбором и резервированием ёмкость могла измениться
		if err := s.ledger.Reserve(a.ParticipantID, model.KindStorage, size); err != nil {
			continue
		}
		chosen = append(chosen, a)
	}
	return chosen
}

// writeReplicas записывает реплики параллельно и ждёт завершения всех записей.
// Возвращает участников с успешной записью и ошибки остальных.
func (s *StorageService) writeReplicas(
	ctx context.Context,
	obj *model.StoredObject,
	data []byte,
	chosen []*model.Allocation,
) ([]*model.Allocation, []error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		written  []*model.Allocation
		failures []error
	)

	for _, a := range chosen {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.writeReplica(ctx, a, obj, data)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				replicaFailuresTotal.WithLabelValues("write", "transport").Inc()
				failures = append(failures, fmt.Errorf("%s: %w", a.ParticipantID, err))
				s.logger.Warn("Ошибка записи реплики",
					slog.String("object_id", obj.ID),
					slog.String("participant_id", a.ParticipantID),
					slog.String("error", err.Error()),
				)
				return
			}
			written = append(written, a)
		}()
	}
	wg.Wait()

	return written, failures
}

func (s *StorageService) writeReplica(ctx context.Context, a *model.Allocation, obj *model.StoredObject, data []byte) error {
	store, err := s.replicaStore(a)
	if err != nil {
		return err
	}
	sum, err := store.WriteReplica(ctx, obj.ID, data)
	if err != nil {
		return err
	}
	if sum != obj.ContentHash {
		_ = store.DeleteReplica(ctx, obj.ID)
		return fmt.Errorf("checksum записанной реплики %s не совпадает с %s", sum, obj.ContentHash)
	}
	return nil
}

// rollbackStore удаляет записанные реплики, снимает резервы и откатывает WAL.
func (s *StorageService) rollbackStore(objectID string, written, chosen []*model.Allocation, size int64, txID string) {
	ctx := context.Background()
	for _, a := range written {
		store, err := s.replicaStore(a)
		if err == nil {
			err = store.DeleteReplica(ctx, objectID)
		}
		if err != nil {
			replicaFailuresTotal.WithLabelValues("rollback", "transport").Inc()
			s.logger.Error("Не удалось удалить реплику при откате",
				slog.String("object_id", objectID),
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.releaseAll(chosen, size)

	if err := s.wal.Rollback(txID); err != nil {
		s.logger.Error("Не удалось откатить WAL-транзакцию",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *StorageService) releaseAll(allocs []*model.Allocation, size int64) {
	for _, a := range allocs {
		if err := s.ledger.Release(a.ParticipantID, model.KindStorage, size); err != nil {
			s.logger.Error("Не удалось снять резерв",
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *StorageService) shortfall(obj *model.StoredObject, got int, reason string) error {
	s.logger.Warn("Недостаточно реплик, объект не сохранён",
		slog.String("name", obj.Name),
		slog.Int64("size", obj.Size),
		slog.Int("required", s.replicaCount),
		slog.Int("written", got),
		slog.String("reason", reason),
	)
	return &model.Error{
		Kind:     model.KindReplicationShortfall,
		Resource: model.KindStorage,
		Message: fmt.Sprintf("записано %d реплик из %d требуемых: %s",
			got, s.replicaCount, reason),
	}
}

// RetrieveObject читает объект с первой реплики, прошедшей проверку хэша.
// Повреждённые и недоступные реплики пропускаются.
func (s *StorageService) RetrieveObject(ctx context.Context, objectID string) ([]byte, *model.StoredObject, error) {
	data, obj, err := s.retrieveObject(ctx, objectID)
	operationsTotal.WithLabelValues("retrieve_object", resultLabel(err)).Inc()
	return data, obj, err
}

func (s *StorageService) retrieveObject(ctx context.Context, objectID string) ([]byte, *model.StoredObject, error) {
	obj := s.catalog.Get(objectID)
	if obj == nil {
		return nil, nil, &model.Error{
			Kind:    model.KindObjectNotFound,
			Message: fmt.Sprintf("объект %s не найден", objectID),
		}
	}

	for _, holder := range obj.Replicas {
		data, err := s.readReplica(ctx, holder, obj.ID)
		if err != nil {
			replicaFailuresTotal.WithLabelValues("read", "transport").Inc()
			s.logger.Warn("Реплика недоступна",
				slog.String("object_id", obj.ID),
				slog.String("participant_id", holder),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sum := filestore.Checksum(data); sum != obj.ContentHash {
			replicaFailuresTotal.WithLabelValues("read", "checksum").Inc()
			s.logger.Warn("Реплика повреждена: checksum не совпадает",
				slog.String("object_id", obj.ID),
				slog.String("participant_id", holder),
				slog.String("expected", obj.ContentHash),
				slog.String("actual", sum),
			)
			continue
		}
		return data, obj, nil
	}

	return nil, obj, &model.Error{
		Kind:     model.KindObjectUnavailable,
		Resource: model.KindStorage,
		Message:  fmt.Sprintf("нет целой реплики объекта %s", objectID),
	}
}

func (s *StorageService) readReplica(ctx context.Context, participantID, objectID string) ([]byte, error) {
	a, err := s.ledger.Get(participantID, model.KindStorage)
	if err != nil {
		return nil, err
	}
	store, err := s.replicaStore(a)
	if err != nil {
		return nil, err
	}
	return store.ReadReplica(ctx, objectID)
}

// DeleteObject удаляет реплики со всех участников и запись каталога.
// Ошибки удаления отдельных реплик возвращаются в DeleteResult.Failed
// и не блокируют удаление из каталога. Used уменьшается у всех держателей.
// При параллельном удалении одного объекта успешен только один вызов,
// остальные получают OBJECT_NOT_FOUND.
func (s *StorageService) DeleteObject(ctx context.Context, objectID string) (*DeleteResult, error) {
	res, err := s.deleteObject(ctx, objectID)
	operationsTotal.WithLabelValues("delete_object", resultLabel(err)).Inc()
	return res, err
}

func (s *StorageService) deleteObject(ctx context.Context, objectID string) (*DeleteResult, error) {
	obj := s.catalog.Get(objectID)
	if obj == nil {
		return nil, objectNotFound(objectID)
	}

	tx, err := s.wal.StartTransaction(wal.OpObjectDelete, obj.ID, obj.Size, obj.Replicas)
	if err != nil {
		return nil, fmt.Errorf("не удалось начать WAL-транзакцию: %w", err)
	}

	// Удаление из каталога — захват объекта: реплики удаляет и used
	// уменьшает только тот вызов, который убрал запись.
	removed, err := s.catalog.Remove(obj.ID)
	if !removed {
		_ = s.wal.Rollback(tx.TransactionID)
		return nil, objectNotFound(objectID)
	}
	commit := true
	if err != nil {
		// Файл записи остался: транзакция не коммитится, восстановление
		// при старте удалит запись повторно.
		commit = false
		s.logger.Error("Не удалось удалить запись каталога",
			slog.String("object_id", obj.ID),
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	result := &DeleteResult{ObjectID: obj.ID}
	for _, holder := range obj.Replicas {
		if err := s.deleteReplica(ctx, holder, obj.ID); err != nil {
			replicaFailuresTotal.WithLabelValues("delete", "transport").Inc()
			result.Failed = append(result.Failed, holder)
			s.logger.Warn("Не удалось удалить реплику",
				slog.String("object_id", obj.ID),
				slog.String("participant_id", holder),
				slog.String("error", err.Error()),
			)
		}
		if err := s.ledger.Release(holder, model.KindStorage, obj.Size); err != nil &&
			!errors.Is(err, model.ErrAllocationNotFound) {
			s.logger.Error("Не удалось уменьшить used",
				slog.String("participant_id", holder),
				slog.String("error", err.Error()),
			)
		}
	}

	if commit {
		if err := s.wal.Commit(tx.TransactionID); err != nil {
			s.logger.Error("Не удалось закоммитить WAL-транзакцию",
				slog.String("tx_id", tx.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Объект удалён",
		slog.String("object_id", obj.ID),
		slog.Int("failed_replicas", len(result.Failed)),
	)
	return result, nil
}

func objectNotFound(objectID string) error {
	return &model.Error{
		Kind:    model.KindObjectNotFound,
		Message: fmt.Sprintf("объект %s не найден", objectID),
	}
}

func (s *StorageService) deleteReplica(ctx context.Context, participantID, objectID string) error {
	a, err := s.ledger.Get(participantID, model.KindStorage)
	if err != nil {
		return err
	}
	store, err := s.replicaStore(a)
	if err != nil {
		return err
	}
	return store.DeleteReplica(ctx, objectID)
}

// CleanupExpired удаляет объекты с истёкшим сроком хранения.
// Возвращает количество удалённых объектов.
func (s *StorageService) CleanupExpired(ctx context.Context) (int, error) {
	removed := 0
	for _, obj := range s.catalog.Expired(s.now()) {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, err := s.DeleteObject(ctx, obj.ID); err != nil {
			s.logger.Warn("Не удалось удалить истёкший объект",
				slog.String("object_id", obj.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Очистка истёкших объектов завершена", slog.Int("removed", removed))
	}
	return removed, nil
}

// VerifyAllocation перечитывает все реплики участника и сверяет хэши.
func (s *StorageService) VerifyAllocation(ctx context.Context, participantID string) (*VerifyReport, error) {
	a, err := s.ledger.Get(participantID, model.KindStorage)
	if err != nil {
		return nil, err
	}
	store, err := s.replicaStore(a)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{ParticipantID: participantID}
	for _, obj := range s.catalog.ByHolder(participantID) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Checked++

		data, err := store.ReadReplica(ctx, obj.ID)
		if err != nil {
			report.Missing++
			continue
		}
		if filestore.Checksum(data) != obj.ContentHash {
			report.Corrupted++
		}
	}

	if err := s.ledger.Touch(participantID, model.KindStorage); err != nil {
		return nil, err
	}
	report.VerifiedAt = s.now()

	if report.Missing > 0 || report.Corrupted > 0 {
		s.logger.Warn("Проверка реплик выявила проблемы",
			slog.String("participant_id", participantID),
			slog.Int("checked", report.Checked),
			slog.Int("missing", report.Missing),
			slog.Int("corrupted", report.Corrupted),
		)
	}
	return report, nil
}

// CalculateReward — вознаграждение за используемые GB за период.
func (s *StorageService) CalculateReward(participantID string, period model.Period) (float64, error) {
	a, err := s.ledger.Get(participantID, model.KindStorage)
	if err != nil {
		return 0, err
	}
	return reward.StorageReward(a.Used, s.rates.StoragePerGBMonth, period.Months()), nil
}

// GetObject возвращает метаданные объекта.
func (s *StorageService) GetObject(objectID string) (*model.StoredObject, error) {
	obj := s.catalog.Get(objectID)
	if obj == nil {
		return nil, &model.Error{
			Kind:    model.KindObjectNotFound,
			Message: fmt.Sprintf("объект %s не найден", objectID),
		}
	}
	return obj, nil
}

// ListObjects возвращает страницу объектов каталога и общее количество.
func (s *StorageService) ListObjects(limit, offset int) ([]*model.StoredObject, int) {
	return s.catalog.List(limit, offset)
}

// replicaStore возвращает ReplicaStore участника под защитой breaker.
func (s *StorageService) replicaStore(a *model.Allocation) (ReplicaStore, error) {
	store, err := s.transport.Store(a.ParticipantID, a.StoragePath)
	if err != nil {
		return nil, err
	}
	return &guardedStore{inner: store, cb: s.breakers.get(a.ParticipantID)}, nil
}

// CatalogStats возвращает количество объектов каталога и их суммарный размер.
func (s *StorageService) CatalogStats() (int, int64) {
	return s.catalog.Count(), s.catalog.TotalSize()
}
