package model

import "time"

type BookingStatus string

const (
	BookingStatusInvited   BookingStatus = "invited"   // Приглашён учителем
	BookingStatusPending   BookingStatus = "pending"   // Ожидает оплаты
	BookingStatusConfirmed BookingStatus = "confirmed" // Подтверждено
	BookingStatusCancelled BookingStatus = "cancelled" // Отменено
	BookingStatusNoShow    BookingStatus = "no_show"   // Студент не пришёл
	BookingStatusForfeit   BookingStatus = "forfeit"   // Кредит удержан
)

type Booking struct {
	ID              int64         `json:"id"`
	SessionID       int64         `json:"session_id"`
	StudentID       int64         `json:"student_id"`
	Status          BookingStatus `json:"status"`
	PackageUseID    *int64        `json:"package_use_id"` // nil для прямой оплаты
	CreditsCost     *int          `json:"credits_cost"`
	RescheduleCount int           `json:"reschedule_count"`
	CancelledAt     *time.Time    `json:"cancelled_at"`
	CancelReason    string        `json:"cancel_reason"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// Дополнительные поля для удобства (не из БД)
	Session *Session `json:"session,omitempty"`
}

// IsActive проверяет что бронирование занимает место в сессии
func (b *Booking) IsActive() bool {
	switch b.Status {
	case BookingStatusConfirmed, BookingStatusInvited, BookingStatusPending:
		return true
	}
	return false
}

// IsCreditPaid проверяет что бронирование оплачено кредитами пакета
func (b *Booking) IsCreditPaid() bool {
	return b.PackageUseID != nil
}
