package service

import (
	"context"

	"github.com/davecook88/thrive-booking/internal/model"
	"go.uber.org/zap"
)

// policyStore достаточная часть PolicyRepository
type policyStore interface {
	GetActive(ctx context.Context) (*model.CancellationPolicy, error)
	DeactivateAll(ctx context.Context) error
	CreateActive(ctx context.Context, cfg model.PolicyConfig) (*model.CancellationPolicy, error)
}

// PolicyService управляет версиями правил отмены. Сами правила — чистые
// функции на модели (model.CancellationPolicy), здесь только хранение.
type PolicyService struct {
	db     TxRunner
	store  policyStore
	logger *zap.Logger
}

func NewPolicyService(db TxRunner, store policyStore, logger *zap.Logger) *PolicyService {
	return &PolicyService{db: db, store: store, logger: logger}
}

// Active возвращает действующую версию правил
func (s *PolicyService) Active(ctx context.Context) (*model.CancellationPolicy, error) {
	policy, err := s.store.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, model.ErrNotFound
	}
	return policy, nil
}

// SetActive добавляет новую активную версию правил и деактивирует
// предыдущие в одной транзакции. Старые версии остаются в истории,
// чтение никогда не застаёт состояние "ни одной активной".
func (s *PolicyService) SetActive(ctx context.Context, cfg model.PolicyConfig) (*model.CancellationPolicy, error) {
	var policy *model.CancellationPolicy

	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.DeactivateAll(txCtx); err != nil {
			return err
		}

		created, err := s.store.CreateActive(txCtx, cfg)
		if err != nil {
			return err
		}

		policy = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cancellation policy activated",
		zap.Int64("policy_id", policy.ID),
		zap.Bool("allow_cancellation", policy.AllowCancellation),
		zap.Int("deadline_hours", policy.CancellationDeadlineHrs),
		zap.Bool("refund_on_cancel", policy.RefundCreditsOnCancel),
	)

	return policy, nil
}
