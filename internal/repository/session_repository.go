package repository

import (
	"context"
	"fmt"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
)

type SessionRepository struct {
	db *base.DB
}

func NewSessionRepository(db *base.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, teacher_id, teacher_tier, service_type, start_at, end_at, capacity_max, status, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.TeacherID,
		&s.TeacherTier,
		&s.ServiceType,
		&s.StartAt,
		&s.EndAt,
		&s.CapacityMax,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create создаёт новую сессию
func (r *SessionRepository) Create(ctx context.Context, spec model.NewSessionSpec) (*model.Session, error) {
	query := `
		INSERT INTO sessions (teacher_id, teacher_tier, service_type, start_at, end_at, capacity_max, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'scheduled')
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.Conn(ctx).QueryRow(
		ctx, query,
		spec.TeacherID,
		spec.TeacherTier,
		spec.ServiceType,
		spec.StartAt,
		spec.EndAt,
		spec.CapacityMax,
	))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return session, nil
}

// GetByID получает сессию по ID
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}

	return session, nil
}

// GetForUpdate получает сессию с блокировкой строки.
// Проверка свободных мест и вставка бронирования выполняются
// под этой блокировкой, чтобы закрыть гонку двух записей.
func (r *SessionRepository) GetForUpdate(ctx context.Context, id int64) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`

	session, err := scanSession(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session for update: %w", err)
	}

	return session, nil
}
