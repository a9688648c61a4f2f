package notify

import (
	"bytes"
	"testing"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G'}

func weekBooking(weekStart time.Time, day, hour int, status model.BookingStatus) *model.Booking {
	start := weekStart.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
	return &model.Booking{
		Status: status,
		Session: &model.Session{
			StartAt: start,
			EndAt:   start.Add(time.Hour),
		},
	}
}

func TestRenderWeek(t *testing.T) {
	t.Parallel()

	weekStart := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) // понедельник

	bookings := []*model.Booking{
		weekBooking(weekStart, 0, 10, model.BookingStatusConfirmed),
		weekBooking(weekStart, 2, 15, model.BookingStatusPending),
		weekBooking(weekStart, 4, 18, model.BookingStatusCancelled),
		{Status: model.BookingStatusConfirmed}, // без сессии — пропускается
	}

	data, err := RenderWeek(weekStart, bookings)
	if err != nil {
		t.Fatalf("RenderWeek: %v", err)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		t.Error("output is not a PNG")
	}
}

func TestRenderWeekEmpty(t *testing.T) {
	t.Parallel()

	weekStart := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	data, err := RenderWeek(weekStart, nil)
	if err != nil {
		t.Fatalf("RenderWeek: %v", err)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		t.Error("output is not a PNG")
	}
}

func TestHourBounds(t *testing.T) {
	t.Parallel()

	weekStart := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := weekStart.AddDate(0, 0, 7)

	t.Run("defaults without bookings", func(t *testing.T) {
		t.Parallel()
		minHour, maxHour := hourBounds(weekStart, weekEnd, nil)
		if minHour != defaultMinHour || maxHour != defaultMaxHour {
			t.Errorf("bounds = %d..%d, want %d..%d", minHour, maxHour, defaultMinHour, defaultMaxHour)
		}
	})

	t.Run("expands to early session", func(t *testing.T) {
		t.Parallel()
		bookings := []*model.Booking{weekBooking(weekStart, 1, 6, model.BookingStatusConfirmed)}
		minHour, _ := hourBounds(weekStart, weekEnd, bookings)
		if minHour != 6 {
			t.Errorf("minHour = %d, want 6", minHour)
		}
	})

	t.Run("capped at end of day", func(t *testing.T) {
		t.Parallel()
		b := weekBooking(weekStart, 1, 22, model.BookingStatusConfirmed)
		b.Session.EndAt = b.Session.StartAt.Add(90 * time.Minute)
		_, maxHour := hourBounds(weekStart, weekEnd, []*model.Booking{b})
		if maxHour != 23 {
			t.Errorf("maxHour = %d, want 23", maxHour)
		}
	})
}

func TestMondayOf(t *testing.T) {
	t.Parallel()

	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 7; day++ {
		within := monday.AddDate(0, 0, day).Add(13 * time.Hour)
		if got := mondayOf(within); !got.Equal(monday) {
			t.Errorf("mondayOf(%v) = %v, want %v", within, got, monday)
		}
	}
}
