// Пакет wal — файловый Write-Ahead Log для операций с реплицированными объектами.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в RC_WAL_DIR.
// Запись содержит список участников-кандидатов, чтобы после сбоя
// можно было удалить частично записанные реплики.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpObjectStore — запись реплик и публикация объекта
	OpObjectStore OperationType = "object_store"
	// OpObjectDelete — удаление реплик и записи каталога
	OpObjectDelete OperationType = "object_delete"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// ObjectID — идентификатор объекта
	ObjectID string `json:"object_id"`

	// Size — размер объекта в байтах (зарезервирован у каждого кандидата)
	Size int64 `json:"size"`

	// Candidates — участники, на которых выполняется запись или удаление
	Candidates []string `json:"candidates"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC), nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
