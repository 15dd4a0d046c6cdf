package model

import (
	"slices"
	"time"
)

// StoredObject — объект, реплицированный на нескольких участниках.
// Соответствует содержимому *.obj.json.
// Объект попадает в каталог только после записи всех реплик.
type StoredObject struct {
	// ID — уникальный идентификатор объекта (UUID v4)
	ID string `json:"id"`

	// Name — имя объекта, переданное при сохранении
	Name string `json:"name"`

	// ContentHash — SHA-256 хэш полного содержимого
	ContentHash string `json:"content_hash"`

	// Size — размер содержимого в байтах
	Size int64 `json:"size"`

	// Owner — владелец объекта
	Owner string `json:"owner"`

	// CreatedAt — время публикации объекта (UTC)
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt — время истечения (nil — бессрочно)
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Replicas — участники, хранящие реплику, в порядке выбора
	Replicas []string `json:"replicas"`
}

// IsExpired проверяет, истёк ли срок хранения объекта.
func (o *StoredObject) IsExpired(now time.Time) bool {
	if o.ExpiresAt == nil {
		return false
	}
	return now.After(*o.ExpiresAt)
}

// HasReplica проверяет, хранит ли участник реплику объекта.
func (o *StoredObject) HasReplica(participantID string) bool {
	return slices.Contains(o.Replicas, participantID)
}

// Clone возвращает глубокую копию объекта.
func (o *StoredObject) Clone() *StoredObject {
	c := *o
	c.Replicas = slices.Clone(o.Replicas)
	if o.ExpiresAt != nil {
		exp := *o.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
