package model

import "time"

// WaitlistEntry представляет место студента в очереди на сессию.
// Позиции внутри сессии упорядочены; плотная перенумерация выполняется
// только при добровольном выходе, после продвижения пропуски допустимы.
type WaitlistEntry struct {
	ID                    int64      `json:"id"`
	SessionID             int64      `json:"session_id"`
	StudentID             int64      `json:"student_id"`
	Position              int        `json:"position"`
	NotifiedAt            *time.Time `json:"notified_at"`             // когда студенту предложено место
	NotificationExpiresAt *time.Time `json:"notification_expires_at"` // nil = предложение бессрочно
	CreatedAt             time.Time  `json:"created_at"`
}

// IsOfferExpired проверяет истекло ли предложение места.
// Запись с истёкшим предложением остаётся в очереди, но не продвигается.
func (w *WaitlistEntry) IsOfferExpired(now time.Time) bool {
	return w.NotificationExpiresAt != nil && now.After(*w.NotificationExpiresAt)
}
