package service

import (
	"time"

	"github.com/davecook88/thrive-booking/internal/clock"
	"github.com/davecook88/thrive-booking/internal/events"
	"github.com/davecook88/thrive-booking/internal/model"
	"go.uber.org/zap"
)

// testEnv собранный граф сервисов поверх fakeStore,
// повторяет проводку из cmd/server
type testEnv struct {
	store    *fakeStore
	bus      *events.Bus
	ledger   *LedgerService
	policies *PolicyService
	booking  *BookingService
	waitlist *WaitlistService
}

func newTestEnv(now time.Time) *testEnv {
	store := newFakeStore()
	logger := zap.NewNop()
	clk := clock.NewFixed(now)
	bus := events.NewBus(logger)

	availability := NewAvailabilityService(fakeBookings{store}, logger)
	ledger := NewLedgerService(store, fakeLedgerStore{store}, clk, logger)
	policies := NewPolicyService(store, fakePolicies{store}, logger)
	booking := NewBookingService(
		store, store, fakeBookings{store},
		availability, ledger, policies,
		bus, clk, logger,
	)
	waitlist := NewWaitlistService(
		store, fakeWaitlist{store}, store, fakeBookings{store},
		booking, bus, clk, logger,
	)
	booking.SetPromoter(waitlist)

	store.setActivePolicy(model.CancellationPolicy{
		AllowCancellation:        true,
		CancellationDeadlineHrs:  24,
		AllowReschedule:          true,
		RescheduleDeadlineHrs:    24,
		MaxReschedulesPerBooking: 2,
		RefundCreditsOnCancel:    true,
	})

	return &testEnv{
		store:    store,
		bus:      bus,
		ledger:   ledger,
		policies: policies,
		booking:  booking,
		waitlist: waitlist,
	}
}

func (e *testEnv) addSession(s model.Session) int64 {
	return e.store.addSession(s)
}

// addPackage создаёт пакет с одной квотой, возвращает ID пакета и квоты
func (e *testEnv) addPackage(studentID int64, serviceType model.ServiceType, teacherTier, unitMinutes, credits int) (int64, int64) {
	pkg := model.StudentPackage{StudentID: studentID}
	pkg.ID = e.store.id()
	e.store.packages[pkg.ID] = pkg

	allowance := model.PackageAllowance{
		PackageID:   pkg.ID,
		ServiceType: serviceType,
		TeacherTier: teacherTier,
		UnitMinutes: unitMinutes,
		Credits:     credits,
	}
	allowance.ID = e.store.id()
	e.store.allowances[allowance.ID] = allowance

	return pkg.ID, allowance.ID
}

func (e *testEnv) addBooking(b model.Booking) int64 {
	b.ID = e.store.id()
	if b.Status == "" {
		b.Status = model.BookingStatusConfirmed
	}
	e.store.bookings[b.ID] = b
	return b.ID
}

func (e *testEnv) addUse(u model.PackageUse) int64 {
	u.ID = e.store.id()
	e.store.uses[u.ID] = u
	return u.ID
}

func (e *testEnv) addWaitlistEntry(w model.WaitlistEntry) int64 {
	w.ID = e.store.id()
	e.store.waitlist[w.ID] = w
	return w.ID
}
