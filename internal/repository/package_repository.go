package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
	"github.com/google/uuid"
)

type PackageRepository struct {
	db *base.DB
}

func NewPackageRepository(db *base.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

// CreatePackage создаёт пакет студента. Уникальный индекс на
// source_payment_ref превращает повторное событие оплаты в IsUniqueViolation,
// обработку дубликата берёт на себя сервис.
func (r *PackageRepository) CreatePackage(ctx context.Context, pkg *model.StudentPackage) error {
	query := `
		INSERT INTO student_packages (student_id, source_payment_ref, purchased_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx, query,
		pkg.StudentID,
		pkg.SourcePaymentRef,
		pkg.PurchasedAt,
		pkg.ExpiresAt,
	).Scan(&pkg.ID, &pkg.CreatedAt)

	if err != nil {
		return fmt.Errorf("create package: %w", err)
	}

	return nil
}

// CreateAllowance создаёт квоту внутри пакета
func (r *PackageRepository) CreateAllowance(ctx context.Context, allowance *model.PackageAllowance) error {
	query := `
		INSERT INTO package_allowances (package_id, service_type, teacher_tier, unit_minutes, credits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx, query,
		allowance.PackageID,
		allowance.ServiceType,
		allowance.TeacherTier,
		allowance.UnitMinutes,
		allowance.Credits,
	).Scan(&allowance.ID)

	if err != nil {
		return fmt.Errorf("create allowance: %w", err)
	}

	return nil
}

// GetPackageByPaymentRef получает пакет по ссылке на платёж (с квотами)
func (r *PackageRepository) GetPackageByPaymentRef(ctx context.Context, ref uuid.UUID) (*model.StudentPackage, error) {
	query := `
		SELECT id, student_id, source_payment_ref, purchased_at, expires_at, created_at
		FROM student_packages
		WHERE source_payment_ref = $1
	`

	var pkg model.StudentPackage
	err := r.db.Conn(ctx).QueryRow(ctx, query, ref).Scan(
		&pkg.ID,
		&pkg.StudentID,
		&pkg.SourcePaymentRef,
		&pkg.PurchasedAt,
		&pkg.ExpiresAt,
		&pkg.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package by payment ref: %w", err)
	}

	allowances, err := r.GetAllowancesByPackage(ctx, pkg.ID)
	if err != nil {
		return nil, err
	}
	pkg.Allowances = allowances

	return &pkg, nil
}

// GetPackageByID получает пакет по ID
func (r *PackageRepository) GetPackageByID(ctx context.Context, id int64) (*model.StudentPackage, error) {
	query := `
		SELECT id, student_id, source_payment_ref, purchased_at, expires_at, created_at
		FROM student_packages
		WHERE id = $1
	`

	var pkg model.StudentPackage
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&pkg.ID,
		&pkg.StudentID,
		&pkg.SourcePaymentRef,
		&pkg.PurchasedAt,
		&pkg.ExpiresAt,
		&pkg.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package by id: %w", err)
	}

	return &pkg, nil
}

// GetAllowancesByPackage получает все квоты пакета
func (r *PackageRepository) GetAllowancesByPackage(ctx context.Context, packageID int64) ([]*model.PackageAllowance, error) {
	query := `
		SELECT id, package_id, service_type, teacher_tier, unit_minutes, credits
		FROM package_allowances
		WHERE package_id = $1
		ORDER BY id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("get allowances by package: %w", err)
	}
	defer rows.Close()

	var allowances []*model.PackageAllowance
	for rows.Next() {
		var a model.PackageAllowance
		err := rows.Scan(&a.ID, &a.PackageID, &a.ServiceType, &a.TeacherTier, &a.UnitMinutes, &a.Credits)
		if err != nil {
			return nil, fmt.Errorf("scan allowance: %w", err)
		}
		allowances = append(allowances, &a)
	}

	return allowances, rows.Err()
}

// GetAllowanceByID получает квоту по ID без блокировки
func (r *PackageRepository) GetAllowanceByID(ctx context.Context, id int64) (*model.PackageAllowance, error) {
	query := `
		SELECT id, package_id, service_type, teacher_tier, unit_minutes, credits
		FROM package_allowances
		WHERE id = $1
	`

	var a model.PackageAllowance
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&a.ID, &a.PackageID, &a.ServiceType, &a.TeacherTier, &a.UnitMinutes, &a.Credits,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get allowance by id: %w", err)
	}

	return &a, nil
}

// GetAllowanceForUpdate получает квоту с блокировкой строки.
// Проверка остатка и вставка списания выполняются под этой блокировкой:
// два конкурентных списания не могут оба пройти по устаревшей сумме.
func (r *PackageRepository) GetAllowanceForUpdate(ctx context.Context, id int64) (*model.PackageAllowance, error) {
	query := `
		SELECT id, package_id, service_type, teacher_tier, unit_minutes, credits
		FROM package_allowances
		WHERE id = $1
		FOR UPDATE
	`

	var a model.PackageAllowance
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&a.ID, &a.PackageID, &a.ServiceType, &a.TeacherTier, &a.UnitMinutes, &a.Credits,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get allowance for update: %w", err)
	}

	return &a, nil
}

// SumUsedCredits считает списанные кредиты квоты по неаннулированным записям журнала
func (r *PackageRepository) SumUsedCredits(ctx context.Context, allowanceID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(credits_used), 0)
		FROM package_uses
		WHERE allowance_id = $1 AND NOT voided
	`

	var used int
	if err := r.db.Conn(ctx).QueryRow(ctx, query, allowanceID).Scan(&used); err != nil {
		return 0, fmt.Errorf("sum used credits: %w", err)
	}

	return used, nil
}

// CreateUse добавляет запись списания в журнал
func (r *PackageRepository) CreateUse(ctx context.Context, use *model.PackageUse) error {
	query := `
		INSERT INTO package_uses (package_id, allowance_id, booking_id, credits_used, actor_id, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.Conn(ctx).QueryRow(
		ctx, query,
		use.PackageID,
		use.AllowanceID,
		use.BookingID,
		use.CreditsUsed,
		use.ActorID,
		use.Note,
	).Scan(&use.ID, &use.CreatedAt)

	if err != nil {
		return fmt.Errorf("create package use: %w", err)
	}

	return nil
}

// GetUseByID получает запись журнала по ID
func (r *PackageRepository) GetUseByID(ctx context.Context, id int64) (*model.PackageUse, error) {
	query := `
		SELECT id, package_id, allowance_id, booking_id, credits_used, voided, voided_at, actor_id, note, created_at
		FROM package_uses
		WHERE id = $1
	`

	var u model.PackageUse
	err := r.db.Conn(ctx).QueryRow(ctx, query, id).Scan(
		&u.ID, &u.PackageID, &u.AllowanceID, &u.BookingID, &u.CreditsUsed,
		&u.Voided, &u.VoidedAt, &u.ActorID, &u.Note, &u.CreatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package use by id: %w", err)
	}

	return &u, nil
}

// VoidUse помечает запись списания аннулированной и отвязывает её от
// бронирования. Возвращает количество затронутых строк: 0 означает что
// запись уже была аннулирована раньше (повторный возврат — безопасный no-op).
func (r *PackageRepository) VoidUse(ctx context.Context, id int64, actorID *int64, at time.Time) (int64, error) {
	query := `
		UPDATE package_uses
		SET voided = true, voided_at = $1, actor_id = COALESCE($2, actor_id), booking_id = NULL
		WHERE id = $3 AND NOT voided
	`

	tag, err := r.db.Conn(ctx).Exec(ctx, query, at, actorID, id)
	if err != nil {
		return 0, fmt.Errorf("void package use: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetCandidateAllowances получает квоты студента, пригодные для списания:
// нужный тип услуги, неистёкший пакет, уровень учителя покрыт.
// Порядок выбора (точный уровень раньше tier-0) определяет сервис.
func (r *PackageRepository) GetCandidateAllowances(ctx context.Context, studentID int64, serviceType model.ServiceType, now time.Time) ([]*model.PackageAllowance, error) {
	query := `
		SELECT a.id, a.package_id, a.service_type, a.teacher_tier, a.unit_minutes, a.credits
		FROM package_allowances a
		JOIN student_packages p ON p.id = a.package_id
		WHERE p.student_id = $1
		  AND a.service_type = $2
		  AND (p.expires_at IS NULL OR p.expires_at > $3)
		ORDER BY p.purchased_at, a.id
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, studentID, serviceType, now)
	if err != nil {
		return nil, fmt.Errorf("get candidate allowances: %w", err)
	}
	defer rows.Close()

	var allowances []*model.PackageAllowance
	for rows.Next() {
		var a model.PackageAllowance
		err := rows.Scan(&a.ID, &a.PackageID, &a.ServiceType, &a.TeacherTier, &a.UnitMinutes, &a.Credits)
		if err != nil {
			return nil, fmt.Errorf("scan allowance: %w", err)
		}
		allowances = append(allowances, &a)
	}

	return allowances, rows.Err()
}
