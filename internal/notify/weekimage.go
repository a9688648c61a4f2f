package notify

import (
	"bytes"
	"image/color"
	"time"

	"github.com/davecook88/thrive-booking/internal/model"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Константы размеров и отступов
const (
	imageWidth      = 1400
	imageHeight     = 900
	headerHeight    = 100
	leftLabelsWidth = 80
	dayPaddingX     = 8
	minBlockHeight  = 10.0
	blockRadius     = 6.0
	totalDays       = 7
	defaultMinHour  = 8
	defaultMaxHour  = 22
)

// Цветовая схема
var (
	bgColor        = color.RGBA{245, 246, 248, 255}
	textColor      = color.RGBA{80, 85, 90, 220}
	hourLineColor  = color.NRGBA{150, 150, 150, 255}
	evenDayColor   = color.NRGBA{240, 240, 240, 255}
	oddDayColor    = color.NRGBA{220, 220, 220, 255}
	confirmedColor = color.RGBA{133, 193, 85, 220}
	pendingColor   = color.RGBA{255, 214, 102, 230}
	cancelledColor = color.RGBA{158, 158, 158, 200}
	blockTextColor = color.RGBA{20, 24, 28, 230}
)

// RenderWeek рисует недельное расписание бронирований студента в PNG.
// weekStart — понедельник 00:00, бронирования вне недели игнорируются.
func RenderWeek(weekStart time.Time, bookings []*model.Booking) ([]byte, error) {
	weekEnd := weekStart.AddDate(0, 0, totalDays)

	minHour, maxHour := hourBounds(weekStart, weekEnd, bookings)
	hours := maxHour - minHour + 1

	dc := gg.NewContext(imageWidth, imageHeight)
	dc.SetColor(bgColor)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	dayWidth := float64(imageWidth-leftLabelsWidth) / totalDays
	hourHeight := float64(imageHeight-headerHeight) / float64(hours)

	// Колонки дней и подписи
	for day := 0; day < totalDays; day++ {
		x := float64(leftLabelsWidth) + float64(day)*dayWidth

		if day%2 == 0 {
			dc.SetColor(evenDayColor)
		} else {
			dc.SetColor(oddDayColor)
		}
		dc.DrawRectangle(x, headerHeight, dayWidth, float64(imageHeight-headerHeight))
		dc.Fill()

		label := weekStart.AddDate(0, 0, day).Format("Mon 02.01")
		dc.SetColor(textColor)
		dc.DrawStringAnchored(label, x+dayWidth/2, headerHeight/2, 0.5, 0.5)
	}

	// Часовая сетка с подписями слева
	for h := 0; h <= hours; h++ {
		y := float64(headerHeight) + float64(h)*hourHeight
		dc.SetColor(hourLineColor)
		dc.SetLineWidth(0.5)
		dc.DrawLine(leftLabelsWidth, y, imageWidth, y)
		dc.Stroke()

		if h < hours {
			label := time.Date(0, 1, 1, minHour+h, 0, 0, 0, time.UTC).Format("15:04")
			dc.SetColor(textColor)
			dc.DrawStringAnchored(label, leftLabelsWidth/2, y+hourHeight/2, 0.5, 0.5)
		}
	}

	// Блоки бронирований
	for _, b := range bookings {
		if b.Session == nil {
			continue
		}
		s := b.Session
		if !s.StartAt.Before(weekEnd) || !s.EndAt.After(weekStart) {
			continue
		}

		day := int(s.StartAt.Sub(weekStart).Hours() / 24)
		if day < 0 || day >= totalDays {
			continue
		}

		startOfDay := weekStart.AddDate(0, 0, day)
		fromHour := s.StartAt.Sub(startOfDay).Hours() - float64(minHour)
		toHour := s.EndAt.Sub(startOfDay).Hours() - float64(minHour)

		x := float64(leftLabelsWidth) + float64(day)*dayWidth + dayPaddingX
		y := float64(headerHeight) + fromHour*hourHeight
		h := (toHour - fromHour) * hourHeight
		if h < minBlockHeight {
			h = minBlockHeight
		}

		dc.SetColor(statusColor(b.Status))
		dc.DrawRoundedRectangle(x, y, dayWidth-2*dayPaddingX, h, blockRadius)
		dc.Fill()

		caption := s.StartAt.Format("15:04") + "–" + s.EndAt.Format("15:04")
		dc.SetColor(blockTextColor)
		dc.DrawStringAnchored(caption, x+(dayWidth-2*dayPaddingX)/2, y+h/2, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statusColor(status model.BookingStatus) color.Color {
	switch status {
	case model.BookingStatusConfirmed, model.BookingStatusInvited:
		return confirmedColor
	case model.BookingStatusPending:
		return pendingColor
	default:
		return cancelledColor
	}
}

// hourBounds подбирает видимый диапазон часов под реальные занятия
func hourBounds(weekStart, weekEnd time.Time, bookings []*model.Booking) (int, int) {
	minHour, maxHour := defaultMinHour, defaultMaxHour

	for _, b := range bookings {
		if b.Session == nil {
			continue
		}
		s := b.Session
		if !s.StartAt.Before(weekEnd) || !s.EndAt.After(weekStart) {
			continue
		}
		if h := s.StartAt.Hour(); h < minHour {
			minHour = h
		}
		if h := s.EndAt.Hour(); h > maxHour {
			maxHour = h
		}
	}

	if maxHour > 23 {
		maxHour = 23
	}
	return minHour, maxHour
}
