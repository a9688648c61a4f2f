package model

import "time"

// Причины отказа в изменении бронирования (machine-readable)
const (
	DenyReasonCancellationDisabled = "cancellation-disabled"
	DenyReasonPastDeadline         = "past-deadline"
	DenyReasonRescheduleDisabled   = "reschedule-disabled"
	DenyReasonRescheduleLimit      = "reschedule-limit-reached"
)

// CancellationPolicy представляет версию правил отмены/переноса.
// Активна ровно одна версия; новая версия деактивирует предыдущие.
type CancellationPolicy struct {
	ID                       int64     `json:"id"`
	AllowCancellation        bool      `json:"allow_cancellation"`
	CancellationDeadlineHrs  int       `json:"cancellation_deadline_hours"`
	AllowReschedule          bool      `json:"allow_reschedule"`
	RescheduleDeadlineHrs    int       `json:"reschedule_deadline_hours"`
	MaxReschedulesPerBooking int       `json:"max_reschedules_per_booking"`
	RefundCreditsOnCancel    bool      `json:"refund_credits_on_cancel"`
	IsActive                 bool      `json:"is_active"`
	CreatedAt                time.Time `json:"created_at"`
}

// PolicyDecision результат проверки правил. Чистые данные, без побочных эффектов.
type PolicyDecision struct {
	Allowed        bool   `json:"allowed"`
	RefundEligible bool   `json:"refund_eligible"`
	Reason         string `json:"reason,omitempty"` // заполнен только при отказе
}

// EvaluateCancel решает разрешена ли отмена бронирования на момент now.
// Дедлайн считается от начала сессии, не от времени создания бронирования.
func (p *CancellationPolicy) EvaluateCancel(session *Session, now time.Time) PolicyDecision {
	if !p.AllowCancellation {
		return PolicyDecision{Reason: DenyReasonCancellationDisabled}
	}

	deadline := session.StartAt.Add(-time.Duration(p.CancellationDeadlineHrs) * time.Hour)
	if now.After(deadline) {
		return PolicyDecision{Reason: DenyReasonPastDeadline}
	}

	return PolicyDecision{Allowed: true, RefundEligible: p.RefundCreditsOnCancel}
}

// EvaluateReschedule решает разрешён ли перенос бронирования на момент now
func (p *CancellationPolicy) EvaluateReschedule(session *Session, booking *Booking, now time.Time) PolicyDecision {
	if !p.AllowReschedule {
		return PolicyDecision{Reason: DenyReasonRescheduleDisabled}
	}

	deadline := session.StartAt.Add(-time.Duration(p.RescheduleDeadlineHrs) * time.Hour)
	if now.After(deadline) {
		return PolicyDecision{Reason: DenyReasonPastDeadline}
	}

	if booking.RescheduleCount >= p.MaxReschedulesPerBooking {
		return PolicyDecision{Reason: DenyReasonRescheduleLimit}
	}

	return PolicyDecision{Allowed: true, RefundEligible: p.RefundCreditsOnCancel}
}

// PolicyConfig данные для создания новой активной версии правил
type PolicyConfig struct {
	AllowCancellation        bool `json:"allow_cancellation"`
	CancellationDeadlineHrs  int  `json:"cancellation_deadline_hours"`
	AllowReschedule          bool `json:"allow_reschedule"`
	RescheduleDeadlineHrs    int  `json:"reschedule_deadline_hours"`
	MaxReschedulesPerBooking int  `json:"max_reschedules_per_booking"`
	RefundCreditsOnCancel    bool `json:"refund_credits_on_cancel"`
}
