package service

import (
	"context"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
	"go.uber.org/zap"
)

// overlapFinder достаточная часть BookingRepository для проверки пересечений
type overlapFinder interface {
	HasOverlapping(ctx context.Context, participant model.Participant, start, end time.Time, excludeSessionID, excludeBookingID int64) (bool, error)
}

// AvailabilityService проверяет занятость участника в интервале времени.
// Только чтение: вызывается внутри транзакции бронирования и видит её снимок.
type AvailabilityService struct {
	bookings overlapFinder
	logger   *zap.Logger
}

func NewAvailabilityService(bookings overlapFinder, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{bookings: bookings, logger: logger}
}

// CheckTeacher проверяет что у учителя нет пересекающихся занятий.
// excludeSessionID исключает целевую сессию (её бронирования — не конфликт),
// excludeBookingID — бронирование, которое сейчас переносится (0 = ничего).
func (s *AvailabilityService) CheckTeacher(ctx context.Context, teacherID int64, start, end time.Time, excludeSessionID, excludeBookingID int64) error {
	return s.check(ctx, model.Participant{Kind: model.ParticipantTeacher, ID: teacherID}, start, end, excludeSessionID, excludeBookingID)
}

// CheckStudent проверяет что у студента нет пересекающихся занятий
func (s *AvailabilityService) CheckStudent(ctx context.Context, studentID int64, start, end time.Time, excludeSessionID, excludeBookingID int64) error {
	return s.check(ctx, model.Participant{Kind: model.ParticipantStudent, ID: studentID}, start, end, excludeSessionID, excludeBookingID)
}

func (s *AvailabilityService) check(ctx context.Context, p model.Participant, start, end time.Time, excludeSessionID, excludeBookingID int64) error {
	// Пустой или вывернутый интервал — ошибка входных данных, не "нет конфликта"
	if !end.After(start) {
		return model.ErrInvalidInterval
	}

	conflict, err := s.bookings.HasOverlapping(ctx, p, start, end, excludeSessionID, excludeBookingID)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}

	if conflict {
		s.logger.Debug("Schedule conflict detected",
			zap.String("participant_kind", string(p.Kind)),
			zap.Int64("participant_id", p.ID),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		return model.ErrScheduleConflict
	}

	return nil
}
