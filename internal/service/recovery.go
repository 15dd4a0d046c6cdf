// recovery.go — восстановление после прерванных операций хранения.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/wal"
)

// RecoveryResult — результат восстановления при старте.
type RecoveryResult struct {
	// Committed — незавершённые операции, доведённые до конца
	Committed int
	// RolledBack — незавершённые операции, отменённые с удалением реплик
	RolledBack int
	// Errors — количество транзакций, которые не удалось обработать
	Errors int
}

// RecoverPending обрабатывает pending-транзакции WAL после рестарта
// и пересчитывает used storage-выделений по каталогу.
//
// object_store: объект в каталоге — коммит, иначе реплики кандидатов удаляются.
// object_delete: удаление доводится до конца.
func (s *StorageService) RecoverPending(ctx context.Context) (*RecoveryResult, error) {
	pending, err := s.wal.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать WAL: %w", err)
	}

	result := &RecoveryResult{}
	for _, e := range pending {
		var txErr error
		switch e.Operation {
		case wal.OpObjectStore:
			if s.catalog.Get(e.ObjectID) != nil {
				txErr = s.wal.Commit(e.TransactionID)
				if txErr == nil {
					result.Committed++
				}
				break
			}
			s.deleteFromHolders(ctx, e.ObjectID, e.Candidates)
			txErr = s.wal.Rollback(e.TransactionID)
			if txErr == nil {
				result.RolledBack++
			}
		case wal.OpObjectDelete:
			s.deleteFromHolders(ctx, e.ObjectID, e.Candidates)
			if _, txErr = s.catalog.Remove(e.ObjectID); txErr == nil {
				txErr = s.wal.Commit(e.TransactionID)
			}
			if txErr == nil {
				result.Committed++
			}
		default:
			txErr = fmt.Errorf("неизвестная операция %q", e.Operation)
		}

		if txErr != nil {
			result.Errors++
			s.logger.Error("Не удалось восстановить транзакцию",
				slog.String("tx_id", e.TransactionID),
				slog.String("operation", string(e.Operation)),
				slog.String("error", txErr.Error()),
			)
		}
	}

	if err := s.RebuildUsage(); err != nil {
		return result, err
	}

	if len(pending) > 0 {
		s.logger.Info("Восстановление WAL завершено",
			slog.Int("pending", len(pending)),
			slog.Int("committed", result.Committed),
			slog.Int("rolled_back", result.RolledBack),
			slog.Int("errors", result.Errors),
		)
	}
	return result, nil
}

// deleteFromHolders удаляет реплику объекта у перечисленных участников.
// Ошибки логируются, оставшиеся реплики удалит reconcile.
func (s *StorageService) deleteFromHolders(ctx context.Context, objectID string, holders []string) {
	for _, holder := range holders {
		if err := s.deleteReplica(ctx, holder, objectID); err != nil {
			s.logger.Warn("Не удалось удалить реплику при восстановлении",
				slog.String("object_id", objectID),
				slog.String("participant_id", holder),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RebuildUsage устанавливает used каждого storage-выделения
// равным суммарному размеру объектов каталога, реплики которых оно хранит.
func (s *StorageService) RebuildUsage() error {
	for _, a := range s.ledger.List(model.KindStorage) {
		var used int64
		for _, obj := range s.catalog.ByHolder(a.ParticipantID) {
			used += obj.Size
		}
		if used == a.Used {
			continue
		}

		_, err := s.ledger.Update(a.ParticipantID, model.KindStorage, func(cur *model.Allocation) error {
			cur.Used = used
			return nil
		})
		if err != nil {
			return fmt.Errorf("не удалось пересчитать used участника %s: %w", a.ParticipantID, err)
		}

		s.logger.Info("Used пересчитан по каталогу",
			slog.String("participant_id", a.ParticipantID),
			slog.Int64("previous", a.Used),
			slog.Int64("used", used),
		)
	}
	return nil
}
