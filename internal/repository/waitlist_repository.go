package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
)

type WaitlistRepository struct {
	db *base.DB
}

func NewWaitlistRepository(db *base.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

const waitlistColumns = `id, session_id, student_id, position, notified_at, notification_expires_at, created_at`

func scanWaitlistEntry(row interface{ Scan(...any) error }) (*model.WaitlistEntry, error) {
	var w model.WaitlistEntry
	err := row.Scan(
		&w.ID,
		&w.SessionID,
		&w.StudentID,
		&w.Position,
		&w.NotifiedAt,
		&w.NotificationExpiresAt,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create добавляет запись в хвост очереди. Позиция вычисляется в самой
// вставке, вызывать под блокировкой строки сессии. Дубликат пары
// (session, student) превращается в ErrAlreadyQueued.
func (r *WaitlistRepository) Create(ctx context.Context, sessionID, studentID int64) (*model.WaitlistEntry, error) {
	query := `
		INSERT INTO waitlist_entries (session_id, student_id, position)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM waitlist_entries WHERE session_id = $1)
		)
		RETURNING ` + waitlistColumns

	entry, err := scanWaitlistEntry(r.db.Conn(ctx).QueryRow(ctx, query, sessionID, studentID))
	if err != nil {
		if base.IsUniqueViolation(err) {
			return nil, model.ErrAlreadyQueued
		}
		return nil, fmt.Errorf("create waitlist entry: %w", err)
	}

	return entry, nil
}

// GetByID получает запись очереди по ID
func (r *WaitlistRepository) GetByID(ctx context.Context, id int64) (*model.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE id = $1`

	entry, err := scanWaitlistEntry(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get waitlist entry by id: %w", err)
	}

	return entry, nil
}

// GetNextEligible получает запись с наименьшей позицией, чьё предложение
// места не истекло. Записи с истёкшим предложением остаются в очереди,
// но пропускаются до следующего цикла.
func (r *WaitlistRepository) GetNextEligible(ctx context.Context, sessionID int64, now time.Time) (*model.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE session_id = $1
		  AND (notification_expires_at IS NULL OR notification_expires_at > $2)
		ORDER BY position
		LIMIT 1
		FOR UPDATE
	`

	entry, err := scanWaitlistEntry(r.db.Conn(ctx).QueryRow(ctx, query, sessionID, now))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get next eligible waitlist entry: %w", err)
	}

	return entry, nil
}

// GetBySession получает очередь сессии в порядке позиций
func (r *WaitlistRepository) GetBySession(ctx context.Context, sessionID int64) ([]*model.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE session_id = $1
		ORDER BY position
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get waitlist by session: %w", err)
	}
	defer rows.Close()

	var entries []*model.WaitlistEntry
	for rows.Next() {
		entry, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Delete удаляет запись из очереди
func (r *WaitlistRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM waitlist_entries WHERE id = $1`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

// Renumber плотно перенумеровывает очередь сессии (1..n без пропусков).
// Выполняется после добровольного выхода из очереди.
func (r *WaitlistRepository) Renumber(ctx context.Context, sessionID int64) error {
	query := `
		UPDATE waitlist_entries w
		SET position = ranked.new_position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY position) AS new_position
			FROM waitlist_entries
			WHERE session_id = $1
		) ranked
		WHERE w.id = ranked.id AND w.position <> ranked.new_position
	`

	if _, err := r.db.Conn(ctx).Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("renumber waitlist: %w", err)
	}

	return nil
}

// SetNotified проставляет время уведомления и срок действия предложения
func (r *WaitlistRepository) SetNotified(ctx context.Context, id int64, notifiedAt, expiresAt time.Time) error {
	query := `
		UPDATE waitlist_entries
		SET notified_at = $1, notification_expires_at = $2
		WHERE id = $3
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, notifiedAt, expiresAt, id)
	if err != nil {
		return fmt.Errorf("set waitlist entry notified: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}
