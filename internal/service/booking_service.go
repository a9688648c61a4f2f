package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/clock"
	"github.com/davecook88/thrive-booking/internal/events"
	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// sessionStore достаточная часть SessionRepository
type sessionStore interface {
	Create(ctx context.Context, spec model.NewSessionSpec) (*model.Session, error)
	GetByID(ctx context.Context, id int64) (*model.Session, error)
	GetForUpdate(ctx context.Context, id int64) (*model.Session, error)
}

// bookingStore достаточная часть BookingRepository
type bookingStore interface {
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	CountActiveBySession(ctx context.Context, sessionID int64) (int, error)
	MarkCancelled(ctx context.Context, id int64, reason string, at time.Time) error
	SetPackageUse(ctx context.Context, id, useID int64, creditsCost int) error
	Reschedule(ctx context.Context, id, newSessionID int64) error
	UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error
}

// availabilityChecker проверка пересечений расписания (см. AvailabilityService)
type availabilityChecker interface {
	CheckTeacher(ctx context.Context, teacherID int64, start, end time.Time, excludeSessionID, excludeBookingID int64) error
	CheckStudent(ctx context.Context, studentID int64, start, end time.Time, excludeSessionID, excludeBookingID int64) error
}

// entitlementLedger операции журнала кредитов (см. LedgerService)
type entitlementLedger interface {
	SelectAllowance(ctx context.Context, studentID, packageID int64, serviceType model.ServiceType, teacherTier int, duration time.Duration) (*model.PackageAllowance, int, error)
	AllowanceByID(ctx context.Context, id int64) (*model.PackageAllowance, error)
	PackageByID(ctx context.Context, id int64) (*model.StudentPackage, error)
	UseByID(ctx context.Context, id int64) (*model.PackageUse, error)
	Consume(ctx context.Context, packageID, allowanceID int64, bookingID *int64, credits int, actorID *int64) (*model.PackageUse, error)
	Refund(ctx context.Context, useID int64, actorID *int64) error
}

// activePolicySource источник действующих правил отмены
type activePolicySource interface {
	Active(ctx context.Context) (*model.CancellationPolicy, error)
}

// seatPromoter продвижение очереди после освобождения места (см. WaitlistService)
type seatPromoter interface {
	PromoteNext(ctx context.Context, sessionID int64) (*PromotionResult, error)
}

// BookingService транзакционная точка входа подсистемы: создание,
// отмена и перенос бронирований. Композирует проверку занятости,
// журнал кредитов, правила отмены и продвижение очереди.
type BookingService struct {
	db           TxRunner
	sessions     sessionStore
	bookings     bookingStore
	availability availabilityChecker
	ledger       entitlementLedger
	policies     activePolicySource
	promoter     seatPromoter
	bus          events.Publisher
	clock        clock.Clock
	logger       *zap.Logger
}

func NewBookingService(
	db TxRunner,
	sessions sessionStore,
	bookings bookingStore,
	availability availabilityChecker,
	ledger entitlementLedger,
	policies activePolicySource,
	bus events.Publisher,
	clk clock.Clock,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		db:           db,
		sessions:     sessions,
		bookings:     bookings,
		availability: availability,
		ledger:       ledger,
		policies:     policies,
		bus:          bus,
		clock:        clk,
		logger:       logger,
	}
}

// SetPromoter подключает менеджер очереди. Вызывается после конструктора:
// сервисы ссылаются друг на друга (отмена продвигает очередь, продвижение
// создаёт бронирование).
func (s *BookingService) SetPromoter(p seatPromoter) {
	s.promoter = p
}

type CreateBookingInput struct {
	StudentID  int64                 `json:"student_id"`
	SessionID  int64                 `json:"session_id"`  // существующая сессия, либо
	NewSession *model.NewSessionSpec `json:"new_session"` // создание сессии вместе с бронированием

	// Оплата кредитами пакета. Взаимоисключающа с прямой оплатой:
	// бронирование по прямой оплате журнал не трогает и остаётся pending
	// до подтверждения платежа.
	UseCredits  bool  `json:"use_credits"`
	PackageID   int64 `json:"package_id"`   // 0 = любой пакет студента
	AllowanceID int64 `json:"allowance_id"` // 0 = автоматический выбор квоты
}

// CreateBooking создаёт бронирование. Проверка занятости, свободных мест
// и списание кредитов выполняются в одной транзакции: при любой ошибке
// частичное состояние не остаётся. Deadlock и serialization failure
// перезапускают транзакцию целиком.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if (in.SessionID == 0) == (in.NewSession == nil) {
		return nil, fmt.Errorf("create booking: exactly one of session id or new session spec is required")
	}
	if in.AllowanceID != 0 && in.PackageID == 0 {
		return nil, fmt.Errorf("create booking: allowance requires an explicit package")
	}

	var booking *model.Booking
	err := s.withRetry(ctx, func(ctx context.Context) error {
		booking = nil
		return s.db.WithTx(ctx, func(txCtx context.Context) error {
			b, err := s.createBookingTx(txCtx, in)
			if err != nil {
				return err
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("session_id", booking.SessionID),
		zap.Int64("student_id", booking.StudentID),
		zap.String("status", string(booking.Status)),
		zap.Bool("credit_paid", booking.IsCreditPaid()),
	)

	// Внутри чужой транзакции (продвижение из очереди) событие не публикуем:
	// коммит ещё не случился, и публикует его владелец транзакции
	if booking.Status == model.BookingStatusConfirmed && !s.db.InTx(ctx) {
		s.bus.Publish(events.Event{
			Kind:      events.KindBookingConfirmed,
			At:        s.clock.Now(),
			SessionID: booking.SessionID,
			StudentID: booking.StudentID,
			BookingID: booking.ID,
		})
	}

	return booking, nil
}

func (s *BookingService) createBookingTx(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	now := s.clock.Now()

	// Существующую сессию блокируем: проверка мест и вставка бронирования
	// должны сериализоваться между конкурентными запросами. Новая сессия
	// до коммита никому не видна, блокировка не нужна.
	var session *model.Session
	if in.NewSession != nil {
		if !in.NewSession.EndAt.After(in.NewSession.StartAt) {
			return nil, model.ErrInvalidInterval
		}
		if in.NewSession.CapacityMax < 1 {
			return nil, fmt.Errorf("create booking: capacity must be at least 1")
		}
		created, err := s.sessions.Create(ctx, *in.NewSession)
		if err != nil {
			return nil, err
		}
		session = created
	} else {
		found, err := s.sessions.GetForUpdate(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, model.ErrNotFound
		}
		session = found
	}

	if !session.IsScheduled() || !session.StartAt.After(now) {
		return nil, model.ErrSessionNotBookable
	}

	// Бронирования самой сессии конфликтом не считаются: для них есть
	// проверка мест и уникальный индекс на (сессия, студент)
	if err := s.availability.CheckTeacher(ctx, session.TeacherID, session.StartAt, session.EndAt, session.ID, 0); err != nil {
		return nil, err
	}
	// Курсы — долгоживущие контейнеры, занятость студента не блокируют
	if session.ServiceType != model.ServiceTypeCourse {
		if err := s.availability.CheckStudent(ctx, in.StudentID, session.StartAt, session.EndAt, session.ID, 0); err != nil {
			return nil, err
		}
	}

	taken, err := s.bookings.CountActiveBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if taken >= session.CapacityMax {
		return nil, model.ErrSessionFull
	}

	status := model.BookingStatusConfirmed
	if !in.UseCredits {
		// Прямая оплата: бронирование ждёт подтверждения платёжного шлюза
		status = model.BookingStatusPending
	}

	booking := &model.Booking{
		SessionID: session.ID,
		StudentID: in.StudentID,
		Status:    status,
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, err
	}

	if in.UseCredits {
		allowance, cost, err := s.resolveAllowance(ctx, in, session)
		if err != nil {
			return nil, err
		}

		use, err := s.ledger.Consume(ctx, allowance.PackageID, allowance.ID, &booking.ID, cost, &in.StudentID)
		if err != nil {
			return nil, err
		}

		if err := s.bookings.SetPackageUse(ctx, booking.ID, use.ID, cost); err != nil {
			return nil, err
		}
		booking.PackageUseID = &use.ID
		booking.CreditsCost = &cost
	}

	booking.Session = session
	return booking, nil
}

// resolveAllowance находит квоту под сессию: явно указанную проверяет
// на принадлежность и совместимость, иначе выбирает по ранжированию.
func (s *BookingService) resolveAllowance(ctx context.Context, in CreateBookingInput, session *model.Session) (*model.PackageAllowance, int, error) {
	if in.PackageID != 0 {
		pkg, err := s.ledger.PackageByID(ctx, in.PackageID)
		if err != nil {
			return nil, 0, err
		}
		if pkg == nil {
			return nil, 0, model.ErrNotFound
		}
		if pkg.StudentID != in.StudentID {
			return nil, 0, model.ErrOwnership
		}
	}

	if in.AllowanceID != 0 {
		allowance, err := s.ledger.AllowanceByID(ctx, in.AllowanceID)
		if err != nil {
			return nil, 0, err
		}
		if allowance == nil || allowance.PackageID != in.PackageID {
			return nil, 0, model.ErrNotFound
		}
		if allowance.ServiceType != session.ServiceType || !allowance.CoversTier(session.TeacherTier) {
			return nil, 0, model.ErrAllowanceMismatch
		}
		return allowance, CreditCost(allowance, session.Duration()), nil
	}

	return s.ledger.SelectAllowance(ctx, in.StudentID, in.PackageID, session.ServiceType, session.TeacherTier, session.Duration())
}

// CancellationResult итог отмены бронирования
type CancellationResult struct {
	Booking      *model.Booking `json:"booking"`
	RefundIssued bool           `json:"refund_issued"`
	Promoted     *model.Booking `json:"promoted,omitempty"`        // бронирование продвинутого из очереди
	PromotionErr string         `json:"promotion_error,omitempty"` // причина если продвижение не удалось
}

// CancelBooking отменяет бронирование студента. Отмена и возврат кредитов
// коммитятся вместе: возврат не может быть записан без пометки об отмене.
// Продвижение очереди выполняется после коммита в собственной транзакции —
// его сбой уже совершённую отмену не откатывает.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, studentID int64, reason string) (*CancellationResult, error) {
	result := &CancellationResult{}

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		booking, err := s.bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return model.ErrNotFound
		}
		if booking.StudentID != studentID {
			return model.ErrOwnership
		}
		if !booking.IsActive() {
			return model.ErrBookingNotActive
		}

		session, err := s.sessions.GetByID(txCtx, booking.SessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return model.ErrNotFound
		}

		policy, err := s.policies.Active(txCtx)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		decision := policy.EvaluateCancel(session, now)
		if !decision.Allowed {
			return &model.PolicyDeniedError{Reason: decision.Reason}
		}

		if err := s.bookings.MarkCancelled(txCtx, bookingID, reason, now); err != nil {
			return err
		}

		if decision.RefundEligible && booking.IsCreditPaid() {
			if err := s.ledger.Refund(txCtx, *booking.PackageUseID, &studentID); err != nil {
				return err
			}
			result.RefundIssued = true
		}

		booking.Status = model.BookingStatusCancelled
		booking.CancelledAt = &now
		booking.CancelReason = reason
		booking.Session = session
		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", bookingID),
		zap.Int64("student_id", studentID),
		zap.Bool("refund_issued", result.RefundIssued),
	)

	s.bus.Publish(events.Event{
		Kind:      events.KindBookingCancelled,
		At:        s.clock.Now(),
		SessionID: result.Booking.SessionID,
		StudentID: studentID,
		BookingID: bookingID,
	})

	// Место освободилось — пробуем продвинуть очередь. Неудача продвижения
	// (нет кредитов, конфликт расписания) возвращается вызывающей стороне
	// для уведомления и не каскадирует на следующие записи очереди.
	if s.promoter != nil {
		promotion, err := s.promoter.PromoteNext(ctx, result.Booking.SessionID)
		switch {
		case err == nil:
			result.Promoted = promotion.Booking
			s.bus.Publish(events.Event{
				Kind:      events.KindWaitlistPromoted,
				At:        s.clock.Now(),
				SessionID: result.Booking.SessionID,
				StudentID: promotion.Booking.StudentID,
				BookingID: promotion.Booking.ID,
				EntryID:   promotion.Entry.ID,
			})
		case errors.Is(err, model.ErrNothingToPromote):
			// Очередь пуста — нечего продвигать
		default:
			result.PromotionErr = err.Error()
			s.logger.Warn("Waitlist promotion failed",
				zap.Int64("session_id", result.Booking.SessionID),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// ModifyOptions что студент может сделать с бронированием прямо сейчас
type ModifyOptions struct {
	CanCancel        bool   `json:"can_cancel"`
	CancelReason     string `json:"cancel_reason,omitempty"` // причина запрета
	CanReschedule    bool   `json:"can_reschedule"`
	RescheduleReason string `json:"reschedule_reason,omitempty"`
}

// CanModifyBooking отвечает можно ли отменить/перенести бронирование.
// Только чтение, состояние не меняется.
func (s *BookingService) CanModifyBooking(ctx context.Context, bookingID, studentID int64) (*ModifyOptions, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, model.ErrNotFound
	}
	if booking.StudentID != studentID {
		return nil, model.ErrOwnership
	}

	session, err := s.sessions.GetByID(ctx, booking.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.ErrNotFound
	}

	policy, err := s.policies.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cancel := policy.EvaluateCancel(session, now)
	reschedule := policy.EvaluateReschedule(session, booking, now)

	return &ModifyOptions{
		CanCancel:        cancel.Allowed,
		CancelReason:     cancel.Reason,
		CanReschedule:    reschedule.Allowed,
		RescheduleReason: reschedule.Reason,
	}, nil
}

// RescheduleBooking переносит бронирование на другую сессию того же типа.
// Оплатившая запись журнала следует за бронированием, поэтому квота
// должна покрывать уровень учителя новой сессии.
func (s *BookingService) RescheduleBooking(ctx context.Context, bookingID, studentID, newSessionID int64) (*model.Booking, error) {
	var booking *model.Booking

	err := s.withRetry(ctx, func(ctx context.Context) error {
		booking = nil
		return s.db.WithTx(ctx, func(txCtx context.Context) error {
			b, err := s.rescheduleTx(txCtx, bookingID, studentID, newSessionID)
			if err != nil {
				return err
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking rescheduled",
		zap.Int64("booking_id", bookingID),
		zap.Int64("new_session_id", newSessionID),
	)

	s.bus.Publish(events.Event{
		Kind:      events.KindBookingMoved,
		At:        s.clock.Now(),
		SessionID: newSessionID,
		StudentID: studentID,
		BookingID: bookingID,
	})

	return booking, nil
}

func (s *BookingService) rescheduleTx(ctx context.Context, bookingID, studentID, newSessionID int64) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, model.ErrNotFound
	}
	if booking.StudentID != studentID {
		return nil, model.ErrOwnership
	}
	if !booking.IsActive() {
		return nil, model.ErrBookingNotActive
	}

	oldSession, err := s.sessions.GetByID(ctx, booking.SessionID)
	if err != nil {
		return nil, err
	}
	if oldSession == nil {
		return nil, model.ErrNotFound
	}

	policy, err := s.policies.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	decision := policy.EvaluateReschedule(oldSession, booking, now)
	if !decision.Allowed {
		return nil, &model.PolicyDeniedError{Reason: decision.Reason}
	}

	newSession, err := s.sessions.GetForUpdate(ctx, newSessionID)
	if err != nil {
		return nil, err
	}
	if newSession == nil {
		return nil, model.ErrNotFound
	}
	if !newSession.IsScheduled() || !newSession.StartAt.After(now) {
		return nil, model.ErrSessionNotBookable
	}
	if newSession.ServiceType != oldSession.ServiceType {
		return nil, model.ErrAllowanceMismatch
	}

	if booking.IsCreditPaid() {
		use, err := s.ledger.UseByID(ctx, *booking.PackageUseID)
		if err != nil {
			return nil, err
		}
		if use == nil {
			return nil, model.ErrNotFound
		}
		allowance, err := s.ledger.AllowanceByID(ctx, use.AllowanceID)
		if err != nil {
			return nil, err
		}
		if allowance == nil || !allowance.CoversTier(newSession.TeacherTier) {
			return nil, model.ErrAllowanceMismatch
		}
	}

	if err := s.availability.CheckTeacher(ctx, newSession.TeacherID, newSession.StartAt, newSession.EndAt, newSession.ID, bookingID); err != nil {
		return nil, err
	}
	if newSession.ServiceType != model.ServiceTypeCourse {
		if err := s.availability.CheckStudent(ctx, studentID, newSession.StartAt, newSession.EndAt, newSession.ID, bookingID); err != nil {
			return nil, err
		}
	}

	taken, err := s.bookings.CountActiveBySession(ctx, newSession.ID)
	if err != nil {
		return nil, err
	}
	if taken >= newSession.CapacityMax {
		return nil, model.ErrSessionFull
	}

	if err := s.bookings.Reschedule(ctx, bookingID, newSessionID); err != nil {
		return nil, err
	}

	booking.SessionID = newSessionID
	booking.RescheduleCount++
	booking.Session = newSession
	return booking, nil
}

// MarkNoShow помечает что студент не пришёл. Кредит не возвращается.
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID int64) error {
	return s.markOutcome(ctx, bookingID, model.BookingStatusNoShow)
}

// MarkForfeit удерживает кредит за нарушение правил
func (s *BookingService) MarkForfeit(ctx context.Context, bookingID int64) error {
	return s.markOutcome(ctx, bookingID, model.BookingStatusForfeit)
}

func (s *BookingService) markOutcome(ctx context.Context, bookingID int64, status model.BookingStatus) error {
	return s.db.WithTx(ctx, func(txCtx context.Context) error {
		booking, err := s.bookings.GetByID(txCtx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return model.ErrNotFound
		}
		if booking.Status != model.BookingStatusConfirmed {
			return model.ErrBookingNotActive
		}
		return s.bookings.UpdateStatus(txCtx, bookingID, status)
	})
}

// withRetry перезапускает транзакцию при deadlock/serialization failure
func (s *BookingService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && base.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
