package notify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/davecook88/thrive-booking/internal/events"
	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// sender достаточная часть telegram-клиента (для подмены в тестах)
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

// weekReader бронирования студента для картинки расписания
type weekReader interface {
	GetByStudentAndRange(ctx context.Context, studentID int64, from, to time.Time) ([]*model.Booking, error)
}

// Notifier слушает шину событий и рассылает операционные уведомления
// в telegram. Работает строго вне транзакций журнала: события приходят
// уже после коммита.
type Notifier struct {
	bot       sender
	bookings  weekReader
	bus       *events.Bus
	adminChat int64
	logger    *zap.Logger
}

func NewNotifier(b sender, bookings weekReader, bus *events.Bus, adminChat int64, logger *zap.Logger) *Notifier {
	return &Notifier{
		bot:       b,
		bookings:  bookings,
		bus:       bus,
		adminChat: adminChat,
		logger:    logger,
	}
}

// Start запускает цикл обработки событий
func (n *Notifier) Start(ctx context.Context) {
	ch, unsubscribe := n.bus.Subscribe(64)

	go func() {
		defer unsubscribe()

		n.logger.Info("Notification listener started", zap.Int64("admin_chat", n.adminChat))

		for {
			select {
			case e, ok := <-ch:
				if !ok {
					n.logger.Info("Notification listener stopped")
					return
				}
				n.handle(ctx, e)
			case <-ctx.Done():
				n.logger.Info("Notification listener cancelled")
				return
			}
		}
	}()
}

func (n *Notifier) handle(ctx context.Context, e events.Event) {
	var text string

	switch e.Kind {
	case events.KindBookingConfirmed:
		text = fmt.Sprintf("✅ Booking #%d confirmed (session %d, student %d)", e.BookingID, e.SessionID, e.StudentID)
	case events.KindBookingCancelled:
		text = fmt.Sprintf("❌ Booking #%d cancelled (session %d, student %d)", e.BookingID, e.SessionID, e.StudentID)
	case events.KindBookingMoved:
		text = fmt.Sprintf("🔁 Booking #%d moved to session %d", e.BookingID, e.SessionID)
	case events.KindWaitlistOffered:
		text = fmt.Sprintf("📬 Waitlist entry #%d offered a seat (session %d, student %d)", e.EntryID, e.SessionID, e.StudentID)
	case events.KindWaitlistPromoted:
		text = fmt.Sprintf("🎟 Waitlist entry #%d promoted to booking #%d (session %d)", e.EntryID, e.BookingID, e.SessionID)
	default:
		return
	}

	if _, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.adminChat,
		Text:   text,
	}); err != nil {
		n.logger.Error("Failed to send notification", zap.Error(err), zap.String("kind", string(e.Kind)))
		return
	}

	// После подтверждения шлём в админ-чат картинку недели студента
	// с новым занятием
	if e.Kind == events.KindBookingConfirmed {
		n.sendWeekImage(ctx, e.StudentID)
	}
}

func (n *Notifier) sendWeekImage(ctx context.Context, studentID int64) {
	weekStart := mondayOf(time.Now().UTC())
	weekEnd := weekStart.AddDate(0, 0, 7)

	bookings, err := n.bookings.GetByStudentAndRange(ctx, studentID, weekStart, weekEnd)
	if err != nil {
		n.logger.Error("Failed to load bookings for week image", zap.Error(err))
		return
	}

	imageData, err := RenderWeek(weekStart, bookings)
	if err != nil {
		n.logger.Error("Failed to render week image", zap.Error(err))
		return
	}

	if _, err := n.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID: n.adminChat,
		Photo:  &models.InputFileUpload{Filename: "week.png", Data: bytes.NewReader(imageData)},
	}); err != nil {
		n.logger.Error("Failed to send week image", zap.Error(err))
	}
}

func mondayOf(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for day.Weekday() != time.Monday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
