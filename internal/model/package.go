package model

import (
	"time"

	"github.com/google/uuid"
)

// StudentPackage представляет купленный студентом пакет занятий
type StudentPackage struct {
	ID               int64      `json:"id"`
	StudentID        int64      `json:"student_id"`
	SourcePaymentRef uuid.UUID  `json:"source_payment_ref"` // идентификатор платежа во внешнем шлюзе
	PurchasedAt      time.Time  `json:"purchased_at"`
	ExpiresAt        *time.Time `json:"expires_at"` // nil = бессрочный
	CreatedAt        time.Time  `json:"created_at"`

	// Дополнительные поля для удобства (не из БД)
	Allowances []*PackageAllowance `json:"allowances,omitempty"`
}

// IsExpired проверяет истёк ли пакет на момент now
func (p *StudentPackage) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// PackageAllowance представляет квоту внутри пакета.
// Неизменяема после создания: остаток считается по журналу package_uses.
type PackageAllowance struct {
	ID          int64       `json:"id"`
	PackageID   int64       `json:"package_id"`
	ServiceType ServiceType `json:"service_type"`
	TeacherTier int         `json:"teacher_tier"` // 0 = любой уровень учителя
	UnitMinutes int         `json:"unit_minutes"` // длительность одного кредита в минутах
	Credits     int         `json:"credits"`      // всего выдано кредитов
}

// CoversTier проверяет подходит ли квота под уровень учителя сессии.
// Квота с ограничением по уровню не тратится на сессии другого уровня.
func (a *PackageAllowance) CoversTier(tier int) bool {
	return a.TeacherTier == 0 || a.TeacherTier == tier
}

// AllowanceSpec данные для создания квоты при начислении пакета
type AllowanceSpec struct {
	ServiceType ServiceType `json:"service_type"`
	TeacherTier int         `json:"teacher_tier"`
	UnitMinutes int         `json:"unit_minutes"`
	Credits     int         `json:"credits"`
}

// PackageUse представляет запись журнала списаний.
// Журнал append-only: возврат помечает запись voided, строки не удаляются
// и отрицательные суммы не записываются.
type PackageUse struct {
	ID          int64      `json:"id"`
	PackageID   int64      `json:"package_id"`
	AllowanceID int64      `json:"allowance_id"`
	BookingID   *int64     `json:"booking_id"` // nil после аннулирования бронирования
	CreditsUsed int        `json:"credits_used"`
	Voided      bool       `json:"voided"`
	VoidedAt    *time.Time `json:"voided_at"`
	ActorID     *int64     `json:"actor_id"`
	Note        string     `json:"note"`
	CreatedAt   time.Time  `json:"created_at"`
}
