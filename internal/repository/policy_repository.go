package repository

import (
	"context"
	"fmt"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
)

type PolicyRepository struct {
	db *base.DB
}

func NewPolicyRepository(db *base.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `id, allow_cancellation, cancellation_deadline_hours, allow_reschedule, reschedule_deadline_hours, max_reschedules_per_booking, refund_credits_on_cancel, is_active, created_at`

func scanPolicy(row interface{ Scan(...any) error }) (*model.CancellationPolicy, error) {
	var p model.CancellationPolicy
	err := row.Scan(
		&p.ID,
		&p.AllowCancellation,
		&p.CancellationDeadlineHrs,
		&p.AllowReschedule,
		&p.RescheduleDeadlineHrs,
		&p.MaxReschedulesPerBooking,
		&p.RefundCreditsOnCancel,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActive получает действующую версию правил
func (r *PolicyRepository) GetActive(ctx context.Context) (*model.CancellationPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM cancellation_policies WHERE is_active LIMIT 1`

	policy, err := scanPolicy(r.db.Conn(ctx).QueryRow(ctx, query))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active policy: %w", err)
	}

	return policy, nil
}

// DeactivateAll снимает флаг активности со всех версий правил
func (r *PolicyRepository) DeactivateAll(ctx context.Context) error {
	query := `UPDATE cancellation_policies SET is_active = false WHERE is_active`

	if _, err := r.db.Conn(ctx).Exec(ctx, query); err != nil {
		return fmt.Errorf("deactivate policies: %w", err)
	}

	return nil
}

// CreateActive добавляет новую активную версию правил.
// Старые строки не изменяются и не удаляются: история версий сохраняется.
func (r *PolicyRepository) CreateActive(ctx context.Context, cfg model.PolicyConfig) (*model.CancellationPolicy, error) {
	query := `
		INSERT INTO cancellation_policies (
			allow_cancellation, cancellation_deadline_hours,
			allow_reschedule, reschedule_deadline_hours,
			max_reschedules_per_booking, refund_credits_on_cancel, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING ` + policyColumns

	policy, err := scanPolicy(r.db.Conn(ctx).QueryRow(
		ctx, query,
		cfg.AllowCancellation,
		cfg.CancellationDeadlineHrs,
		cfg.AllowReschedule,
		cfg.RescheduleDeadlineHrs,
		cfg.MaxReschedulesPerBooking,
		cfg.RefundCreditsOnCancel,
	))
	if err != nil {
		return nil, fmt.Errorf("create active policy: %w", err)
	}

	return policy, nil
}
