package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindBookingConfirmed Kind = "booking_confirmed"
	KindBookingCancelled Kind = "booking_cancelled"
	KindBookingMoved     Kind = "booking_moved"
	KindWaitlistOffered  Kind = "waitlist_offered"
	KindWaitlistPromoted Kind = "waitlist_promoted"
)

// Event событие жизненного цикла бронирования. Публикуется после коммита
// транзакции: внешние эффекты (календарь, уведомления) никогда не
// выполняются внутри открытой транзакции журнала.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	SessionID int64     `json:"session_id"`
	StudentID int64     `json:"student_id"`
	BookingID int64     `json:"booking_id,omitempty"`
	EntryID   int64     `json:"entry_id,omitempty"` // запись очереди для waitlist-событий
}

// Publisher то, что нужно сервисам для публикации
type Publisher interface {
	Publish(e Event)
}

// Bus внутрипроцессная шина с буферизованными подписчиками
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe возвращает канал событий и функцию отписки
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}

	return ch, unsubscribe
}

// Publish рассылает событие подписчикам. Не блокируется: медленный
// подписчик теряет событие, а не тормозит обработку запроса.
func (b *Bus) Publish(e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("Event dropped, subscriber is slow",
				zap.String("kind", string(e.Kind)),
				zap.Int64("booking_id", e.BookingID),
			)
		}
	}
}

// Close закрывает шину и каналы подписчиков
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
