package service

import (
	"context"
	"time"

	"github.com/davecook88/thrive-booking/internal/clock"
	"github.com/davecook88/thrive-booking/internal/events"
	"github.com/davecook88/thrive-booking/internal/model"
	"go.uber.org/zap"
)

// waitlistStore достаточная часть WaitlistRepository
type waitlistStore interface {
	Create(ctx context.Context, sessionID, studentID int64) (*model.WaitlistEntry, error)
	GetByID(ctx context.Context, id int64) (*model.WaitlistEntry, error)
	GetNextEligible(ctx context.Context, sessionID int64, now time.Time) (*model.WaitlistEntry, error)
	GetBySession(ctx context.Context, sessionID int64) ([]*model.WaitlistEntry, error)
	Delete(ctx context.Context, id int64) error
	Renumber(ctx context.Context, sessionID int64) error
	SetNotified(ctx context.Context, id int64, notifiedAt, expiresAt time.Time) error
}

// sessionLocker блокировка строки сессии для операций с её очередью
type sessionLocker interface {
	GetForUpdate(ctx context.Context, id int64) (*model.Session, error)
}

// activeBookingFinder проверка что студент уже записан на сессию
type activeBookingFinder interface {
	GetActiveBySessionAndStudent(ctx context.Context, sessionID, studentID int64) (*model.Booking, error)
}

// bookingCreator внутренний путь оркестратора для продвижения из очереди
type bookingCreator interface {
	CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error)
}

// WaitlistService FIFO-очередь на места в заполненных сессиях.
// Продвижение повторяет путь создания бронирования целиком: со времени
// постановки в очередь могли измениться и расписание, и остаток кредитов.
type WaitlistService struct {
	db       TxRunner
	store    waitlistStore
	sessions sessionLocker
	bookings activeBookingFinder
	creator  bookingCreator
	bus      events.Publisher
	clock    clock.Clock
	logger   *zap.Logger
}

func NewWaitlistService(
	db TxRunner,
	store waitlistStore,
	sessions sessionLocker,
	bookings activeBookingFinder,
	creator bookingCreator,
	bus events.Publisher,
	clk clock.Clock,
	logger *zap.Logger,
) *WaitlistService {
	return &WaitlistService{
		db:       db,
		store:    store,
		sessions: sessions,
		bookings: bookings,
		creator:  creator,
		bus:      bus,
		clock:    clk,
		logger:   logger,
	}
}

// Join ставит студента в хвост очереди сессии.
// Позиция выдаётся под блокировкой строки сессии: конкурентные Join
// не получат одинаковый номер.
func (s *WaitlistService) Join(ctx context.Context, sessionID, studentID int64) (*model.WaitlistEntry, error) {
	var entry *model.WaitlistEntry

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.GetForUpdate(txCtx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return model.ErrNotFound
		}
		if !session.IsScheduled() || !session.StartAt.After(s.clock.Now()) {
			return model.ErrSessionNotBookable
		}

		existing, err := s.bookings.GetActiveBySessionAndStudent(txCtx, sessionID, studentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.ErrAlreadyBooked
		}

		created, err := s.store.Create(txCtx, sessionID, studentID)
		if err != nil {
			return err
		}

		entry = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Student joined waitlist",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("session_id", sessionID),
		zap.Int64("student_id", studentID),
		zap.Int("position", entry.Position),
	)

	return entry, nil
}

// Leave убирает студента из очереди. После добровольного выхода очередь
// перенумеровывается плотно (1..n), чтобы позиции оставались наглядными.
func (s *WaitlistService) Leave(ctx context.Context, entryID, studentID int64) error {
	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		entry, err := s.store.GetByID(txCtx, entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return model.ErrNotFound
		}
		if entry.StudentID != studentID {
			return model.ErrOwnership
		}

		if _, err := s.sessions.GetForUpdate(txCtx, entry.SessionID); err != nil {
			return err
		}

		if err := s.store.Delete(txCtx, entryID); err != nil {
			return err
		}

		return s.store.Renumber(txCtx, entry.SessionID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Student left waitlist",
		zap.Int64("entry_id", entryID),
		zap.Int64("student_id", studentID),
	)

	return nil
}

// Notify помечает что студенту предложено освободившееся место.
// По истечении срока запись перестаёт продвигаться, но остаётся
// в очереди на своей позиции до явного выхода.
func (s *WaitlistService) Notify(ctx context.Context, entryID int64, expiresIn time.Duration) error {
	var entry *model.WaitlistEntry

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		found, err := s.store.GetByID(txCtx, entryID)
		if err != nil {
			return err
		}
		if found == nil {
			return model.ErrNotFound
		}
		entry = found

		now := s.clock.Now()
		return s.store.SetNotified(txCtx, entryID, now, now.Add(expiresIn))
	})
	if err != nil {
		return err
	}

	s.bus.Publish(events.Event{
		Kind:      events.KindWaitlistOffered,
		At:        s.clock.Now(),
		SessionID: entry.SessionID,
		StudentID: entry.StudentID,
		EntryID:   entryID,
	})

	return nil
}

// Entries возвращает очередь сессии в порядке позиций
func (s *WaitlistService) Entries(ctx context.Context, sessionID int64) ([]*model.WaitlistEntry, error) {
	return s.store.GetBySession(ctx, sessionID)
}

// PromotionResult итог продвижения записи очереди
type PromotionResult struct {
	Entry   *model.WaitlistEntry `json:"entry"`
	Booking *model.Booking       `json:"booking"`
}

// PromoteNext продвигает первую подходящую запись очереди в свободное
// место сессии. Вся попытка — одна транзакция: неудавшееся бронирование
// откатывается вместе с удалением записи, и запись остаётся на месте.
// Неудача НЕ каскадирует на следующую запись в том же вызове — её
// поднимет следующий цикл, а вызывающая сторона получает причину.
func (s *WaitlistService) PromoteNext(ctx context.Context, sessionID int64) (*PromotionResult, error) {
	result, err := s.promote(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Waitlist entry promoted",
		zap.Int64("entry_id", result.Entry.ID),
		zap.Int64("session_id", sessionID),
		zap.Int64("booking_id", result.Booking.ID),
	)

	return result, nil
}

// PromoteEntry продвигает конкретную запись очереди (административный путь),
// при необходимости с явным указанием пакета для списания.
func (s *WaitlistService) PromoteEntry(ctx context.Context, entryID, packageID int64) (*PromotionResult, error) {
	result, err := s.promote(ctx, 0, entryID, packageID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Waitlist entry promoted by admin",
		zap.Int64("entry_id", entryID),
		zap.Int64("booking_id", result.Booking.ID),
	)

	return result, nil
}

func (s *WaitlistService) promote(ctx context.Context, sessionID, entryID, packageID int64) (*PromotionResult, error) {
	var result *PromotionResult

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		var entry *model.WaitlistEntry
		var err error

		if entryID != 0 {
			entry, err = s.store.GetByID(txCtx, entryID)
			if err != nil {
				return err
			}
			if entry == nil {
				return model.ErrNotFound
			}
		} else {
			if _, err := s.sessions.GetForUpdate(txCtx, sessionID); err != nil {
				return err
			}
			entry, err = s.store.GetNextEligible(txCtx, sessionID, s.clock.Now())
			if err != nil {
				return err
			}
			if entry == nil {
				return model.ErrNothingToPromote
			}
		}

		// Повторяем полный путь бронирования: занятость, места и кредиты
		// перепроверяются на текущий момент. Вложенный вызов переиспользует
		// эту транзакцию, так что откат убирает все следы неудачи.
		booking, err := s.creator.CreateBooking(txCtx, CreateBookingInput{
			StudentID:  entry.StudentID,
			SessionID:  entry.SessionID,
			UseCredits: true,
			PackageID:  packageID,
		})
		if err != nil {
			return err
		}

		// Запись уходит из очереди; оставшиеся позиции не трогаем —
		// пропуски допустимы, позиция задаёт только порядок
		if err := s.store.Delete(txCtx, entry.ID); err != nil {
			return err
		}

		result = &PromotionResult{Entry: entry, Booking: booking}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Бронирование создавалось внутри нашей транзакции, поэтому его событие
	// публикуем здесь — после коммита
	if result.Booking.Status == model.BookingStatusConfirmed {
		s.bus.Publish(events.Event{
			Kind:      events.KindBookingConfirmed,
			At:        s.clock.Now(),
			SessionID: result.Booking.SessionID,
			StudentID: result.Booking.StudentID,
			BookingID: result.Booking.ID,
		})
	}

	return result, nil
}
