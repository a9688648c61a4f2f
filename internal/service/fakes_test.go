package service

import (
	"context"
	"sort"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeStore реализует все интерфейсы хранилища сервисов поверх карт в памяти.
// WithTx снимает снимок состояния и откатывает его при ошибке, воспроизводя
// транзакционную семантику настоящего хранилища.
type fakeStore struct {
	depth int
	snap  *storeState

	sessions   map[int64]model.Session
	bookings   map[int64]model.Booking
	packages   map[int64]model.StudentPackage
	allowances map[int64]model.PackageAllowance
	uses       map[int64]model.PackageUse
	policies   map[int64]model.CancellationPolicy
	waitlist   map[int64]model.WaitlistEntry
	nextID     int64
}

type storeState struct {
	sessions   map[int64]model.Session
	bookings   map[int64]model.Booking
	packages   map[int64]model.StudentPackage
	allowances map[int64]model.PackageAllowance
	uses       map[int64]model.PackageUse
	policies   map[int64]model.CancellationPolicy
	waitlist   map[int64]model.WaitlistEntry
	nextID     int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   map[int64]model.Session{},
		bookings:   map[int64]model.Booking{},
		packages:   map[int64]model.StudentPackage{},
		allowances: map[int64]model.PackageAllowance{},
		uses:       map[int64]model.PackageUse{},
		policies:   map[int64]model.CancellationPolicy{},
		waitlist:   map[int64]model.WaitlistEntry{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func copyMap[V any](src map[int64]V) map[int64]V {
	dst := make(map[int64]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (f *fakeStore) copyState() *storeState {
	return &storeState{
		sessions:   copyMap(f.sessions),
		bookings:   copyMap(f.bookings),
		packages:   copyMap(f.packages),
		allowances: copyMap(f.allowances),
		uses:       copyMap(f.uses),
		policies:   copyMap(f.policies),
		waitlist:   copyMap(f.waitlist),
		nextID:     f.nextID,
	}
}

func (f *fakeStore) restore(s *storeState) {
	f.sessions = s.sessions
	f.bookings = s.bookings
	f.packages = s.packages
	f.allowances = s.allowances
	f.uses = s.uses
	f.policies = s.policies
	f.waitlist = s.waitlist
	f.nextID = s.nextID
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.depth++
	if f.depth == 1 {
		f.snap = f.copyState()
	}

	err := fn(ctx)

	f.depth--
	if f.depth == 0 {
		if err != nil {
			f.restore(f.snap)
		}
		f.snap = nil
	}
	return err
}

func (f *fakeStore) InTx(ctx context.Context) bool {
	return f.depth > 0
}

// --- sessionStore / sessionLocker ---

func (f *fakeStore) Create(ctx context.Context, spec model.NewSessionSpec) (*model.Session, error) {
	s := model.Session{
		ID:          f.id(),
		TeacherID:   spec.TeacherID,
		TeacherTier: spec.TeacherTier,
		ServiceType: spec.ServiceType,
		StartAt:     spec.StartAt,
		EndAt:       spec.EndAt,
		CapacityMax: spec.CapacityMax,
		Status:      model.SessionStatusScheduled,
	}
	f.sessions[s.ID] = s
	return &s, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, id int64) (*model.Session, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeStore) addSession(s model.Session) int64 {
	s.ID = f.id()
	if s.Status == "" {
		s.Status = model.SessionStatusScheduled
	}
	f.sessions[s.ID] = s
	return s.ID
}

// --- bookingStore / overlapFinder / activeBookingFinder ---

type fakeBookings struct{ *fakeStore }

func (f fakeBookings) Create(ctx context.Context, booking *model.Booking) error {
	for _, b := range f.bookings {
		if b.SessionID == booking.SessionID && b.StudentID == booking.StudentID && b.Status != model.BookingStatusCancelled {
			return model.ErrAlreadyBooked
		}
	}
	booking.ID = f.id()
	f.bookings[booking.ID] = *booking
	return nil
}

func (f fakeBookings) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	if b, ok := f.bookings[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (f fakeBookings) CountActiveBySession(ctx context.Context, sessionID int64) (int, error) {
	count := 0
	for _, b := range f.bookings {
		if b.SessionID == sessionID && b.IsActive() {
			count++
		}
	}
	return count, nil
}

func (f fakeBookings) HasOverlapping(ctx context.Context, p model.Participant, start, end time.Time, excludeSessionID, excludeBookingID int64) (bool, error) {
	for _, b := range f.bookings {
		if !b.IsActive() || b.ID == excludeBookingID || b.SessionID == excludeSessionID {
			continue
		}
		s, ok := f.sessions[b.SessionID]
		if !ok || s.Status != model.SessionStatusScheduled {
			continue
		}
		switch p.Kind {
		case model.ParticipantTeacher:
			if s.TeacherID != p.ID {
				continue
			}
		case model.ParticipantStudent:
			if b.StudentID != p.ID {
				continue
			}
		}
		if s.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeBookings) GetActiveBySessionAndStudent(ctx context.Context, sessionID, studentID int64) (*model.Booking, error) {
	for _, b := range f.bookings {
		if b.SessionID == sessionID && b.StudentID == studentID && b.IsActive() {
			return &b, nil
		}
	}
	return nil, nil
}

func (f fakeBookings) MarkCancelled(ctx context.Context, id int64, reason string, at time.Time) error {
	b, ok := f.bookings[id]
	if !ok {
		return model.ErrNotFound
	}
	b.Status = model.BookingStatusCancelled
	b.CancelledAt = &at
	b.CancelReason = reason
	f.bookings[id] = b
	return nil
}

func (f fakeBookings) SetPackageUse(ctx context.Context, id, useID int64, creditsCost int) error {
	b, ok := f.bookings[id]
	if !ok {
		return model.ErrNotFound
	}
	b.PackageUseID = &useID
	b.CreditsCost = &creditsCost
	f.bookings[id] = b
	return nil
}

func (f fakeBookings) Reschedule(ctx context.Context, id, newSessionID int64) error {
	b, ok := f.bookings[id]
	if !ok {
		return model.ErrNotFound
	}
	b.SessionID = newSessionID
	b.RescheduleCount++
	f.bookings[id] = b
	return nil
}

func (f fakeBookings) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	b, ok := f.bookings[id]
	if !ok {
		return model.ErrNotFound
	}
	b.Status = status
	f.bookings[id] = b
	return nil
}

// --- ledgerStore ---

type fakeLedgerStore struct{ *fakeStore }

func (f fakeLedgerStore) CreatePackage(ctx context.Context, pkg *model.StudentPackage) error {
	for _, p := range f.packages {
		if p.SourcePaymentRef == pkg.SourcePaymentRef {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	pkg.ID = f.id()
	f.packages[pkg.ID] = *pkg
	return nil
}

func (f fakeLedgerStore) CreateAllowance(ctx context.Context, a *model.PackageAllowance) error {
	a.ID = f.id()
	f.allowances[a.ID] = *a
	return nil
}

func (f fakeLedgerStore) GetPackageByID(ctx context.Context, id int64) (*model.StudentPackage, error) {
	if p, ok := f.packages[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f fakeLedgerStore) GetPackageByPaymentRef(ctx context.Context, ref uuid.UUID) (*model.StudentPackage, error) {
	for _, p := range f.packages {
		if p.SourcePaymentRef == ref {
			pkg := p
			return &pkg, nil
		}
	}
	return nil, nil
}

func (f fakeLedgerStore) GetAllowanceByID(ctx context.Context, id int64) (*model.PackageAllowance, error) {
	if a, ok := f.allowances[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f fakeLedgerStore) GetAllowanceForUpdate(ctx context.Context, id int64) (*model.PackageAllowance, error) {
	return f.GetAllowanceByID(ctx, id)
}

func (f fakeLedgerStore) GetCandidateAllowances(ctx context.Context, studentID int64, serviceType model.ServiceType, now time.Time) ([]*model.PackageAllowance, error) {
	var out []*model.PackageAllowance
	for _, a := range f.allowances {
		pkg, ok := f.packages[a.PackageID]
		if !ok || pkg.StudentID != studentID || a.ServiceType != serviceType {
			continue
		}
		if pkg.ExpiresAt != nil && !pkg.ExpiresAt.After(now) {
			continue
		}
		allowance := a
		out = append(out, &allowance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeLedgerStore) SumUsedCredits(ctx context.Context, allowanceID int64) (int, error) {
	sum := 0
	for _, u := range f.uses {
		if u.AllowanceID == allowanceID && !u.Voided {
			sum += u.CreditsUsed
		}
	}
	return sum, nil
}

func (f fakeLedgerStore) CreateUse(ctx context.Context, use *model.PackageUse) error {
	use.ID = f.id()
	f.uses[use.ID] = *use
	return nil
}

func (f fakeLedgerStore) GetUseByID(ctx context.Context, id int64) (*model.PackageUse, error) {
	if u, ok := f.uses[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (f fakeLedgerStore) VoidUse(ctx context.Context, id int64, actorID *int64, at time.Time) (int64, error) {
	u, ok := f.uses[id]
	if !ok || u.Voided {
		return 0, nil
	}
	u.Voided = true
	u.VoidedAt = &at
	u.BookingID = nil
	f.uses[id] = u
	return 1, nil
}

// --- policyStore ---

type fakePolicies struct{ *fakeStore }

func (f fakePolicies) GetActive(ctx context.Context) (*model.CancellationPolicy, error) {
	for _, p := range f.policies {
		if p.IsActive {
			policy := p
			return &policy, nil
		}
	}
	return nil, nil
}

func (f fakePolicies) DeactivateAll(ctx context.Context) error {
	for id, p := range f.policies {
		p.IsActive = false
		f.policies[id] = p
	}
	return nil
}

func (f fakePolicies) CreateActive(ctx context.Context, cfg model.PolicyConfig) (*model.CancellationPolicy, error) {
	p := model.CancellationPolicy{
		ID:                       f.id(),
		AllowCancellation:        cfg.AllowCancellation,
		CancellationDeadlineHrs:  cfg.CancellationDeadlineHrs,
		AllowReschedule:          cfg.AllowReschedule,
		RescheduleDeadlineHrs:    cfg.RescheduleDeadlineHrs,
		MaxReschedulesPerBooking: cfg.MaxReschedulesPerBooking,
		RefundCreditsOnCancel:    cfg.RefundCreditsOnCancel,
		IsActive:                 true,
	}
	f.policies[p.ID] = p
	return &p, nil
}

func (f *fakeStore) setActivePolicy(p model.CancellationPolicy) {
	p.ID = f.id()
	p.IsActive = true
	f.policies[p.ID] = p
}

// --- waitlistStore ---

type fakeWaitlist struct{ *fakeStore }

func (f fakeWaitlist) Create(ctx context.Context, sessionID, studentID int64) (*model.WaitlistEntry, error) {
	maxPos := 0
	for _, w := range f.waitlist {
		if w.SessionID == sessionID {
			if w.StudentID == studentID {
				return nil, model.ErrAlreadyQueued
			}
			if w.Position > maxPos {
				maxPos = w.Position
			}
		}
	}
	entry := model.WaitlistEntry{
		ID:        f.id(),
		SessionID: sessionID,
		StudentID: studentID,
		Position:  maxPos + 1,
	}
	f.waitlist[entry.ID] = entry
	return &entry, nil
}

func (f fakeWaitlist) GetByID(ctx context.Context, id int64) (*model.WaitlistEntry, error) {
	if w, ok := f.waitlist[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (f fakeWaitlist) GetNextEligible(ctx context.Context, sessionID int64, now time.Time) (*model.WaitlistEntry, error) {
	var next *model.WaitlistEntry
	for _, w := range f.waitlist {
		if w.SessionID != sessionID || w.IsOfferExpired(now) {
			continue
		}
		entry := w
		if next == nil || entry.Position < next.Position {
			next = &entry
		}
	}
	return next, nil
}

func (f fakeWaitlist) GetBySession(ctx context.Context, sessionID int64) ([]*model.WaitlistEntry, error) {
	var out []*model.WaitlistEntry
	for _, w := range f.waitlist {
		if w.SessionID == sessionID {
			entry := w
			out = append(out, &entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f fakeWaitlist) Delete(ctx context.Context, id int64) error {
	if _, ok := f.waitlist[id]; !ok {
		return model.ErrNotFound
	}
	delete(f.waitlist, id)
	return nil
}

func (f fakeWaitlist) Renumber(ctx context.Context, sessionID int64) error {
	entries, _ := f.GetBySession(ctx, sessionID)
	for i, e := range entries {
		w := f.waitlist[e.ID]
		w.Position = i + 1
		f.waitlist[w.ID] = w
	}
	return nil
}

func (f fakeWaitlist) SetNotified(ctx context.Context, id int64, notifiedAt, expiresAt time.Time) error {
	w, ok := f.waitlist[id]
	if !ok {
		return model.ErrNotFound
	}
	w.NotifiedAt = &notifiedAt
	w.NotificationExpiresAt = &expiresAt
	f.waitlist[id] = w
	return nil
}
