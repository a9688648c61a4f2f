package model

import (
	"testing"
	"time"
)

func TestSessionOverlaps(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	session := &Session{StartAt: base, EndAt: base.Add(time.Hour)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"identical interval", base, base.Add(time.Hour), true},
		{"contained inside", base.Add(15 * time.Minute), base.Add(30 * time.Minute), true},
		{"overlaps start", base.Add(-30 * time.Minute), base.Add(30 * time.Minute), true},
		{"overlaps end", base.Add(30 * time.Minute), base.Add(90 * time.Minute), true},
		// Полуоткрытые интервалы: касание границ пересечением не считается
		{"ends at session start", base.Add(-time.Hour), base, false},
		{"starts at session end", base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"fully before", base.Add(-3 * time.Hour), base.Add(-2 * time.Hour), false},
		{"fully after", base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := session.Overlaps(tt.start, tt.end); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestAllowanceCoversTier(t *testing.T) {
	t.Parallel()

	anyTier := &PackageAllowance{TeacherTier: 0}
	tierTwo := &PackageAllowance{TeacherTier: 2}

	if !anyTier.CoversTier(0) || !anyTier.CoversTier(3) {
		t.Error("tier-0 allowance must cover any teacher tier")
	}
	if !tierTwo.CoversTier(2) {
		t.Error("allowance must cover its own tier")
	}
	if tierTwo.CoversTier(1) || tierTwo.CoversTier(3) {
		t.Error("tier-bound allowance must not cover other tiers")
	}
}

func TestBookingIsActive(t *testing.T) {
	t.Parallel()

	active := []BookingStatus{BookingStatusConfirmed, BookingStatusInvited, BookingStatusPending}
	inactive := []BookingStatus{BookingStatusCancelled, BookingStatusNoShow, BookingStatusForfeit}

	for _, status := range active {
		if !(&Booking{Status: status}).IsActive() {
			t.Errorf("%s must be active", status)
		}
	}
	for _, status := range inactive {
		if (&Booking{Status: status}).IsActive() {
			t.Errorf("%s must not be active", status)
		}
	}
}

func TestPackageIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if (&StudentPackage{}).IsExpired(now) {
		t.Error("package without expiry must never expire")
	}
	if (&StudentPackage{ExpiresAt: &future}).IsExpired(now) {
		t.Error("package expiring in the future is not expired")
	}
	if !(&StudentPackage{ExpiresAt: &past}).IsExpired(now) {
		t.Error("package past its expiry must be expired")
	}
	if (&StudentPackage{ExpiresAt: &now}).IsExpired(now) {
		t.Error("package expiring exactly now is still usable")
	}
}

func TestWaitlistOfferExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&WaitlistEntry{}).IsOfferExpired(now) {
		t.Error("entry without an offer never expires")
	}
	if (&WaitlistEntry{NotificationExpiresAt: &future}).IsOfferExpired(now) {
		t.Error("pending offer is not expired")
	}
	if !(&WaitlistEntry{NotificationExpiresAt: &past}).IsOfferExpired(now) {
		t.Error("offer past its expiry must be expired")
	}
}
