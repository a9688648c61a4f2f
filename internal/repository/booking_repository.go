package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
)

type BookingRepository struct {
	db *base.DB
}

func NewBookingRepository(db *base.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, session_id, student_id, status, package_use_id, credits_cost, reschedule_count, cancelled_at, cancel_reason, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.SessionID,
		&b.StudentID,
		&b.Status,
		&b.PackageUseID,
		&b.CreditsCost,
		&b.RescheduleCount,
		&b.CancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create создаёт новое бронирование. Частичный уникальный индекс на
// (session_id, student_id) для неотменённых строк превращает повторную
// запись в ErrAlreadyBooked.
func (r *BookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (session_id, student_id, status, package_use_id, credits_cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, reschedule_count, created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx, query,
		booking.SessionID,
		booking.StudentID,
		booking.Status,
		booking.PackageUseID,
		booking.CreditsCost,
	).Scan(&booking.ID, &booking.RescheduleCount, &booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return model.ErrAlreadyBooked
		}
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return booking, nil
}

// CountActiveBySession считает занятые места сессии.
// Вызывается под блокировкой строки сессии (см. SessionRepository.GetForUpdate).
func (r *BookingRepository) CountActiveBySession(ctx context.Context, sessionID int64) (int, error) {
	query := `
		SELECT count(*)
		FROM bookings
		WHERE session_id = $1 AND status IN ('confirmed', 'invited', 'pending')
	`

	var count int
	if err := r.db.Conn(ctx).QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active bookings: %w", err)
	}

	return count, nil
}

// HasOverlapping проверяет есть ли у участника активное бронирование,
// чья сессия пересекается с интервалом [start, end).
// Полуоткрытый тест: existing.start < end AND existing.end > start.
// excludeSessionID исключает целевую сессию: её собственные бронирования
// не считаются конфликтом при записи в неё же (групповые сессии).
func (r *BookingRepository) HasOverlapping(ctx context.Context, participant model.Participant, start, end time.Time, excludeSessionID, excludeBookingID int64) (bool, error) {
	column := "b.student_id"
	if participant.Kind == model.ParticipantTeacher {
		column = "s.teacher_id"
	}

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM bookings b
			JOIN sessions s ON s.id = b.session_id
			WHERE ` + column + ` = $1
			  AND b.status IN ('confirmed', 'invited', 'pending')
			  AND s.status = 'scheduled'
			  AND s.start_at < $3
			  AND s.end_at > $2
			  AND s.id <> $4
			  AND b.id <> $5
		)
	`

	var exists bool
	if err := r.db.Conn(ctx).QueryRow(ctx, query, participant.ID, start, end, excludeSessionID, excludeBookingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check overlapping bookings: %w", err)
	}

	return exists, nil
}

// GetActiveBySessionAndStudent получает активное бронирование пары (сессия, студент)
func (r *BookingRepository) GetActiveBySessionAndStudent(ctx context.Context, sessionID, studentID int64) (*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE session_id = $1 AND student_id = $2 AND status IN ('confirmed', 'invited', 'pending')
		LIMIT 1
	`

	booking, err := scanBooking(r.db.Conn(ctx).QueryRow(ctx, query, sessionID, studentID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by session and student: %w", err)
	}

	return booking, nil
}

// GetByStudentAndRange получает бронирования студента с сессиями в интервале [from, to)
func (r *BookingRepository) GetByStudentAndRange(ctx context.Context, studentID int64, from, to time.Time) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `, ` + prefixedSessionColumns("s") + `
		FROM bookings b
		JOIN sessions s ON s.id = b.session_id
		WHERE b.student_id = $1 AND s.start_at < $3 AND s.end_at > $2
		ORDER BY s.start_at
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get bookings by student: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		var b model.Booking
		var s model.Session
		err := rows.Scan(
			&b.ID, &b.SessionID, &b.StudentID, &b.Status, &b.PackageUseID,
			&b.CreditsCost, &b.RescheduleCount, &b.CancelledAt, &b.CancelReason,
			&b.CreatedAt, &b.UpdatedAt,
			&s.ID, &s.TeacherID, &s.TeacherTier, &s.ServiceType, &s.StartAt,
			&s.EndAt, &s.CapacityMax, &s.Status, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.Session = &s
		bookings = append(bookings, &b)
	}

	return bookings, rows.Err()
}

// MarkCancelled помечает бронирование отменённым. Строка не удаляется:
// история отмен сохраняется для аудита.
func (r *BookingRepository) MarkCancelled(ctx context.Context, id int64, reason string, at time.Time) error {
	query := `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = $1, cancel_reason = $2, updated_at = now()
		WHERE id = $3
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, at, reason, id)
	if err != nil {
		return fmt.Errorf("mark booking cancelled: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

// UpdateStatus обновляет статус бронирования
func (r *BookingRepository) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	query := `UPDATE bookings SET status = $1, updated_at = now() WHERE id = $2`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

// SetPackageUse привязывает бронирование к оплатившей его записи журнала
func (r *BookingRepository) SetPackageUse(ctx context.Context, id, useID int64, creditsCost int) error {
	query := `
		UPDATE bookings
		SET package_use_id = $1, credits_cost = $2, updated_at = now()
		WHERE id = $3
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, useID, creditsCost, id)
	if err != nil {
		return fmt.Errorf("set booking package use: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

// Reschedule переносит бронирование на другую сессию и увеличивает счётчик переносов
func (r *BookingRepository) Reschedule(ctx context.Context, id, newSessionID int64) error {
	query := `
		UPDATE bookings
		SET session_id = $1, reschedule_count = reschedule_count + 1, updated_at = now()
		WHERE id = $2
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, newSessionID, id)
	if err != nil {
		if base.IsUniqueViolation(err) {
			return model.ErrAlreadyBooked
		}
		return fmt.Errorf("reschedule booking: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

func prefixedSessionColumns(alias string) string {
	return alias + `.id, ` + alias + `.teacher_id, ` + alias + `.teacher_tier, ` +
		alias + `.service_type, ` + alias + `.start_at, ` + alias + `.end_at, ` +
		alias + `.capacity_max, ` + alias + `.status, ` + alias + `.created_at, ` + alias + `.updated_at`
}
