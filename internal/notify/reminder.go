package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"staybook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ArrivalSource lists confirmed bookings starting on a given day.
type ArrivalSource interface {
	ListArrivals(ctx context.Context, day time.Time) ([]*models.Booking, error)
}

// Reminder sends a daily digest of tomorrow's check-ins to manager chats.
type Reminder struct {
	source  ArrivalSource
	sender  Sender
	chatIDs []int64
	hour    int
	minute  int
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewReminder parses reminderTime as "HH:MM"; an empty value means 09:00.
func NewReminder(source ArrivalSource, sender Sender, chatIDs []int64, reminderTime string, logger *zerolog.Logger) (*Reminder, error) {
	hour, minute := 9, 0
	if reminderTime != "" {
		t, err := time.Parse("15:04", reminderTime)
		if err != nil {
			return nil, fmt.Errorf("invalid reminder time %q: %w", reminderTime, err)
		}
		hour, minute = t.Hour(), t.Minute()
	}
	return &Reminder{
		source:  source,
		sender:  sender,
		chatIDs: chatIDs,
		hour:    hour,
		minute:  minute,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Start waits for the next reminder time, then fires every 24h until ctx is done.
func (r *Reminder) Start(ctx context.Context) {
	timer := time.NewTimer(timeUntilNext(r.now(), r.hour, r.minute))
	defer timer.Stop()

	r.logger.Info().Int("hour", r.hour).Int("minute", r.minute).Msg("Arrival reminders scheduled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if n, err := r.SendTomorrow(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reminder: send failed")
			} else {
				r.logger.Info().Int("arrivals", n).Msg("reminder: digest sent")
			}
			timer.Reset(24 * time.Hour)
		}
	}
}

// SendTomorrow posts the list of tomorrow's arrivals and returns how many
// bookings it covered. Nothing is sent when there are no arrivals.
func (r *Reminder) SendTomorrow(ctx context.Context) (int, error) {
	tomorrow := models.DateOnly(r.now().UTC()).AddDate(0, 0, 1)
	arrivals, err := r.source.ListArrivals(ctx, tomorrow)
	if err != nil {
		return 0, fmt.Errorf("list arrivals for %s: %w", tomorrow.Format(models.DateLayout), err)
	}
	if len(arrivals) == 0 {
		return 0, nil
	}

	text := FormatArrivals(tomorrow, arrivals)
	var firstErr error
	for _, chatID := range r.chatIDs {
		if _, err := r.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			r.logger.Error().Err(err).Int64("chat_id", chatID).Msg("reminder: send error")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return len(arrivals), firstErr
}

// FormatArrivals renders one line per booking under a dated heading.
func FormatArrivals(day time.Time, arrivals []*models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Arrivals on %s: %d\n", day.Format(models.DateLayout), len(arrivals))
	for _, b := range arrivals {
		fmt.Fprintf(&sb, "\n%s, property #%d, %d night(s)", b.BookingNumber, b.PropertyID, b.TotalDays)
		if b.GuestName != "" {
			fmt.Fprintf(&sb, "\nGuest: %s (%d)", b.GuestName, b.GuestCount)
		}
		if b.GuestPhone != "" {
			fmt.Fprintf(&sb, ", %s", b.GuestPhone)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func timeUntilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
