package service

import (
	"context"
	"errors"
	"testing"

	"github.com/davecook88/thrive-booking/internal/model"
	"go.uber.org/zap"
)

func TestPolicyService(t *testing.T) {
	t.Parallel()

	t.Run("no active policy", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		svc := NewPolicyService(store, fakePolicies{store}, zap.NewNop())

		if _, err := svc.Active(context.Background()); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("new version supersedes previous", func(t *testing.T) {
		t.Parallel()
		store := newFakeStore()
		svc := NewPolicyService(store, fakePolicies{store}, zap.NewNop())

		first, err := svc.SetActive(context.Background(), model.PolicyConfig{
			AllowCancellation:       true,
			CancellationDeadlineHrs: 24,
			RefundCreditsOnCancel:   true,
		})
		if err != nil {
			t.Fatalf("first SetActive: %v", err)
		}

		second, err := svc.SetActive(context.Background(), model.PolicyConfig{
			AllowCancellation:       true,
			CancellationDeadlineHrs: 48,
		})
		if err != nil {
			t.Fatalf("second SetActive: %v", err)
		}

		active, err := svc.Active(context.Background())
		if err != nil {
			t.Fatalf("Active: %v", err)
		}
		if active.ID != second.ID || active.CancellationDeadlineHrs != 48 {
			t.Errorf("active = %+v, want version %d", active, second.ID)
		}

		// Старая версия остаётся в истории, но деактивирована
		if stored := store.policies[first.ID]; stored.IsActive {
			t.Error("previous version still active")
		}
		if len(store.policies) != 2 {
			t.Errorf("store has %d versions, want 2", len(store.policies))
		}
	})
}
