package service

import (
	"context"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/clock"
	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/davecook88/thrive-booking/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TxRunner выполняет функцию внутри транзакции (см. base.DB.WithTx).
// InTx сообщает открыта ли уже транзакция: события наружу публикуются
// только после её коммита, и публикует их владелец транзакции.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InTx(ctx context.Context) bool
}

// ledgerStore достаточная часть PackageRepository для журнала списаний
type ledgerStore interface {
	CreatePackage(ctx context.Context, pkg *model.StudentPackage) error
	CreateAllowance(ctx context.Context, allowance *model.PackageAllowance) error
	GetPackageByID(ctx context.Context, id int64) (*model.StudentPackage, error)
	GetPackageByPaymentRef(ctx context.Context, ref uuid.UUID) (*model.StudentPackage, error)
	GetAllowanceByID(ctx context.Context, id int64) (*model.PackageAllowance, error)
	GetAllowanceForUpdate(ctx context.Context, id int64) (*model.PackageAllowance, error)
	GetCandidateAllowances(ctx context.Context, studentID int64, serviceType model.ServiceType, now time.Time) ([]*model.PackageAllowance, error)
	SumUsedCredits(ctx context.Context, allowanceID int64) (int, error)
	CreateUse(ctx context.Context, use *model.PackageUse) error
	GetUseByID(ctx context.Context, id int64) (*model.PackageUse, error)
	VoidUse(ctx context.Context, id int64, actorID *int64, at time.Time) (int64, error)
}

// LedgerService владеет инвариантом "остаток кредитов квоты".
// Остаток = allowance.credits − Σ(credits_used по неаннулированным записям).
// Сумма никогда не уходит в минус: проверка и вставка выполняются
// под блокировкой строки квоты внутри транзакции вызывающей стороны.
type LedgerService struct {
	db     TxRunner
	store  ledgerStore
	clock  clock.Clock
	logger *zap.Logger
}

func NewLedgerService(db TxRunner, store ledgerStore, clk clock.Clock, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		db:     db,
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// RemainingCredits возвращает остаток кредитов квоты
func (s *LedgerService) RemainingCredits(ctx context.Context, allowanceID int64) (int, error) {
	allowance, err := s.store.GetAllowanceByID(ctx, allowanceID)
	if err != nil {
		return 0, err
	}
	if allowance == nil {
		return 0, model.ErrNotFound
	}

	used, err := s.store.SumUsedCredits(ctx, allowanceID)
	if err != nil {
		return 0, err
	}

	return allowance.Credits - used, nil
}

// CreditCost считает стоимость сессии в кредитах квоты.
// Неполная единица округляется вверх, минимум один кредит.
func CreditCost(allowance *model.PackageAllowance, duration time.Duration) int {
	if allowance.UnitMinutes <= 0 {
		return 1
	}
	minutes := int(duration / time.Minute)
	cost := (minutes + allowance.UnitMinutes - 1) / allowance.UnitMinutes
	if cost < 1 {
		cost = 1
	}
	return cost
}

// AllowanceByID возвращает квоту по ID (nil если не найдена)
func (s *LedgerService) AllowanceByID(ctx context.Context, id int64) (*model.PackageAllowance, error) {
	return s.store.GetAllowanceByID(ctx, id)
}

// PackageByID возвращает пакет по ID (nil если не найден)
func (s *LedgerService) PackageByID(ctx context.Context, id int64) (*model.StudentPackage, error) {
	return s.store.GetPackageByID(ctx, id)
}

// UseByID возвращает запись журнала по ID (nil если не найдена)
func (s *LedgerService) UseByID(ctx context.Context, id int64) (*model.PackageUse, error) {
	return s.store.GetUseByID(ctx, id)
}

// SelectAllowance выбирает квоту студента под сессию по ранжированному списку:
// сначала квоты с точным совпадением уровня учителя, затем квоты tier-0.
// Квота с более высоким ограничением никогда не тратится на сессию ниже уровнем.
// packageID сужает выбор до одного пакета (0 = любой пакет студента).
func (s *LedgerService) SelectAllowance(ctx context.Context, studentID, packageID int64, serviceType model.ServiceType, teacherTier int, duration time.Duration) (*model.PackageAllowance, int, error) {
	candidates, err := s.store.GetCandidateAllowances(ctx, studentID, serviceType, s.clock.Now())
	if err != nil {
		return nil, 0, err
	}

	// Два прохода вместо сортировки: точное совпадение уровня раньше tier-0
	for _, exactOnly := range []bool{true, false} {
		for _, a := range candidates {
			if packageID != 0 && a.PackageID != packageID {
				continue
			}
			if exactOnly && a.TeacherTier != teacherTier {
				continue
			}
			if !exactOnly && a.TeacherTier != 0 {
				continue
			}
			if !a.CoversTier(teacherTier) {
				continue
			}

			cost := CreditCost(a, duration)
			remaining, err := s.RemainingCredits(ctx, a.ID)
			if err != nil {
				return nil, 0, err
			}
			if remaining >= cost {
				return a, cost, nil
			}
		}
		// Если точный уровень и tier-0 совпадают (tier 0), второй проход не нужен
		if teacherTier == 0 {
			break
		}
	}

	return nil, 0, model.ErrInsufficientCredits
}

// Consume атомарно списывает кредиты квоты под бронирование.
// Остаток перепроверяется под блокировкой строки квоты; при нехватке
// операция завершается без побочных эффектов.
func (s *LedgerService) Consume(ctx context.Context, packageID, allowanceID int64, bookingID *int64, credits int, actorID *int64) (*model.PackageUse, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("consume: credits must be positive, got %d", credits)
	}

	allowance, err := s.store.GetAllowanceForUpdate(ctx, allowanceID)
	if err != nil {
		return nil, err
	}
	if allowance == nil || allowance.PackageID != packageID {
		return nil, model.ErrNotFound
	}

	pkg, err := s.store.GetPackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, model.ErrNotFound
	}
	if pkg.IsExpired(s.clock.Now()) {
		return nil, model.ErrPackageExpired
	}

	used, err := s.store.SumUsedCredits(ctx, allowanceID)
	if err != nil {
		return nil, err
	}

	if allowance.Credits-used < credits {
		return nil, model.ErrInsufficientCredits
	}

	use := &model.PackageUse{
		PackageID:   packageID,
		AllowanceID: allowanceID,
		BookingID:   bookingID,
		CreditsUsed: credits,
		ActorID:     actorID,
	}

	if err := s.store.CreateUse(ctx, use); err != nil {
		return nil, err
	}

	s.logger.Info("Credits consumed",
		zap.Int64("use_id", use.ID),
		zap.Int64("allowance_id", allowanceID),
		zap.Int("credits", credits),
		zap.Int("remaining", allowance.Credits-used-credits),
	)

	return use, nil
}

// Refund аннулирует запись списания. Идемпотентна: повторный возврат
// той же записи — успешный no-op, повторы вызова безопасны.
func (s *LedgerService) Refund(ctx context.Context, useID int64, actorID *int64) error {
	affected, err := s.store.VoidUse(ctx, useID, actorID, s.clock.Now())
	if err != nil {
		return err
	}

	if affected == 0 {
		use, err := s.store.GetUseByID(ctx, useID)
		if err != nil {
			return err
		}
		if use == nil {
			return model.ErrNotFound
		}
		// Уже аннулирована — считаем успехом
		return nil
	}

	s.logger.Info("Credits refunded", zap.Int64("use_id", useID))
	return nil
}

// GrantPackage начисляет пакет по завершённому внешнему платежу.
// Единственная точка, где оплата превращается в кредиты. Идемпотентна
// по sourcePaymentRef: повторное событие оплаты возвращает уже
// созданный пакет и не начисляет кредиты второй раз.
func (s *LedgerService) GrantPackage(ctx context.Context, studentID int64, specs []model.AllowanceSpec, sourcePaymentRef uuid.UUID, expiresAt *time.Time) (*model.StudentPackage, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("grant package: at least one allowance is required")
	}
	for _, spec := range specs {
		if spec.Credits <= 0 {
			return nil, fmt.Errorf("grant package: credits must be positive, got %d", spec.Credits)
		}
	}

	existing, err := s.store.GetPackageByPaymentRef(ctx, sourcePaymentRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	pkg := &model.StudentPackage{
		StudentID:        studentID,
		SourcePaymentRef: sourcePaymentRef,
		PurchasedAt:      s.clock.Now(),
		ExpiresAt:        expiresAt,
	}

	err = s.db.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreatePackage(txCtx, pkg); err != nil {
			return err
		}

		for _, spec := range specs {
			allowance := &model.PackageAllowance{
				PackageID:   pkg.ID,
				ServiceType: spec.ServiceType,
				TeacherTier: spec.TeacherTier,
				UnitMinutes: spec.UnitMinutes,
				Credits:     spec.Credits,
			}
			if err := s.store.CreateAllowance(txCtx, allowance); err != nil {
				return err
			}
			pkg.Allowances = append(pkg.Allowances, allowance)
		}

		return nil
	})
	if err != nil {
		// Конкурентный дубликат того же платежа: отдаём уже созданный пакет
		if base.IsUniqueViolation(err) {
			return s.store.GetPackageByPaymentRef(ctx, sourcePaymentRef)
		}
		return nil, err
	}

	s.logger.Info("Package granted",
		zap.Int64("package_id", pkg.ID),
		zap.Int64("student_id", studentID),
		zap.String("source_payment_ref", sourcePaymentRef.String()),
		zap.Int("allowances", len(pkg.Allowances)),
	)

	return pkg, nil
}
