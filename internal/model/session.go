package model

import "time"

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled" // Запланирована
	SessionStatusCancelled SessionStatus = "cancelled" // Отменена
	SessionStatusCompleted SessionStatus = "completed" // Завершена
)

type ServiceType string

const (
	ServiceTypeOneOnOne ServiceType = "one_on_one" // Индивидуальное занятие
	ServiceTypeGroup    ServiceType = "group"      // Групповое занятие
	ServiceTypeCourse   ServiceType = "course"     // Курс
)

// Session представляет запланированный блок времени с ограничением по местам
type Session struct {
	ID          int64         `json:"id"`
	TeacherID   int64         `json:"teacher_id"`
	TeacherTier int           `json:"teacher_tier"` // Уровень учителя (0 = базовый)
	ServiceType ServiceType   `json:"service_type"`
	StartAt     time.Time     `json:"start_at"` // UTC, полуоткрытый интервал [start, end)
	EndAt       time.Time     `json:"end_at"`
	CapacityMax int           `json:"capacity_max"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IsScheduled проверяет что сессия ещё актуальна
func (s *Session) IsScheduled() bool {
	return s.Status == SessionStatusScheduled
}

// Duration возвращает длительность сессии
func (s *Session) Duration() time.Duration {
	return s.EndAt.Sub(s.StartAt)
}

// Overlaps проверяет пересечение с интервалом [start, end)
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.StartAt.Before(end) && s.EndAt.After(start)
}

type ParticipantKind string

const (
	ParticipantTeacher ParticipantKind = "teacher"
	ParticipantStudent ParticipantKind = "student"
)

// Participant сторона расписания, для которой проверяются пересечения
type Participant struct {
	Kind ParticipantKind `json:"kind"`
	ID   int64           `json:"id"`
}

// NewSessionSpec данные для создания сессии вместе с бронированием
type NewSessionSpec struct {
	TeacherID   int64       `json:"teacher_id"`
	TeacherTier int         `json:"teacher_tier"`
	ServiceType ServiceType `json:"service_type"`
	StartAt     time.Time   `json:"start_at"`
	EndAt       time.Time   `json:"end_at"`
	CapacityMax int         `json:"capacity_max"`
}
