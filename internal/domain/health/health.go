// Пакет health — конечный автомат состояния участников.
//
// Состояния: healthy, degraded, offline. Состояние пересчитывается
// на каждом тике мониторинга функцией Evaluate и фиксируется в Tracker.
// Переходы допустимы между любыми состояниями, каждый переход
// записывается в историю участника.
//
// Потокобезопасен через sync.RWMutex.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status — состояние участника.
type Status string

const (
	// StatusHealthy — участник доступен, показатели в норме
	StatusHealthy Status = "healthy"
	// StatusDegraded — низкий uptime или переполненное хранилище
	StatusDegraded Status = "degraded"
	// StatusOffline — нет записей о доступности в окне offline
	StatusOffline Status = "offline"
)

// Operation — операция, которую координатор поручает участнику.
type Operation string

const (
	// OpReplicate — размещение новых реплик
	OpReplicate Operation = "replicate"
	// OpSchedule — назначение вычислительных задач
	OpSchedule Operation = "schedule"
)

// allowedOperations — матрица допустимых операций для каждого состояния.
var allowedOperations = map[Status]map[Operation]bool{
	StatusHealthy:  {OpReplicate: true, OpSchedule: true},
	StatusDegraded: {OpSchedule: true},
	StatusOffline:  {},
}

// maxHistory — максимальное количество переходов в истории участника.
const maxHistory = 100

// Transition — запись о смене состояния участника.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type participantState struct {
	current Status
	since   time.Time
	reason  string
	history []Transition
}

// Snapshot — текущее состояние участника.
type Snapshot struct {
	ParticipantID string    `json:"participant_id"`
	Status        Status    `json:"status"`
	Since         time.Time `json:"since"`
	Reason        string    `json:"reason"`
}

// Tracker — состояния всех участников.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*participantState
}

// NewTracker создаёт пустой трекер.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*participantState)}
}

// Set фиксирует состояние участника. Возвращает предыдущее состояние
// и признак смены. Для нового участника предыдущее состояние пустое.
func (t *Tracker) Set(participantID string, to Status, reason string, now time.Time) (Status, bool, error) {
	if !isValidStatus(to) {
		return "", false, fmt.Errorf("недопустимое состояние участника: %q", to)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[participantID]
	if !ok {
		t.states[participantID] = &participantState{
			current: to,
			since:   now,
			reason:  reason,
			history: []Transition{{To: to, Reason: reason, Timestamp: now}},
		}
		return "", true, nil
	}

	from := st.current
	st.reason = reason
	if from == to {
		return from, false, nil
	}

	st.current = to
	st.since = now
	st.history = append(st.history, Transition{From: from, To: to, Reason: reason, Timestamp: now})
	if len(st.history) > maxHistory {
		st.history = st.history[len(st.history)-maxHistory:]
	}
	return from, true, nil
}

// Get возвращает состояние участника. ok=false — участник ещё не оценивался.
func (t *Tracker) Get(participantID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[participantID]
	if !ok {
		return Snapshot{ParticipantID: participantID}, false
	}
	return Snapshot{
		ParticipantID: participantID,
		Status:        st.current,
		Since:         st.since,
		Reason:        st.reason,
	}, true
}

// All возвращает состояния всех участников, отсортированные по идентификатору.
func (t *Tracker) All() []Snapshot {
	t.mu.RLock()
	result := make([]Snapshot, 0, len(t.states))
	for id, st := range t.states {
		result = append(result, Snapshot{ParticipantID: id, Status: st.current, Since: st.since, Reason: st.reason})
	}
	t.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ParticipantID < result[j].ParticipantID })
	return result
}

// Counts возвращает количество участников в каждом состоянии.
func (t *Tracker) Counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := map[Status]int{StatusHealthy: 0, StatusDegraded: 0, StatusOffline: 0}
	for _, st := range t.states {
		counts[st.current]++
	}
	return counts
}

// CanPerform проверяет, можно ли поручить участнику операцию.
// Участник, ещё не прошедший оценку, считается пригодным.
func (t *Tracker) CanPerform(participantID string, op Operation) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[participantID]
	if !ok {
		return true
	}
	return allowedOperations[st.current][op]
}

// History возвращает историю переходов участника (копия).
func (t *Tracker) History(participantID string) []Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[participantID]
	if !ok {
		return nil
	}
	result := make([]Transition, len(st.history))
	copy(result, st.history)
	return result
}

// Forget удаляет участника из трекера.
func (t *Tracker) Forget(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, participantID)
}

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !isValidStatus(st) {
		return "", fmt.Errorf("недопустимое состояние: %q, допустимые: healthy, degraded, offline", s)
	}
	return st, nil
}

func isValidStatus(s Status) bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusOffline:
		return true
	default:
		return false
	}
}
