package notify

import (
	"context"
	"fmt"
	"strings"

	"staybook/internal/events"
	"staybook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts booking events to manager chats. Events are
// queued by the bus handler and sent from Start so publishers never wait on
// the Telegram API.
type TelegramNotifier struct {
	sender  Sender
	chatIDs []int64
	queue   chan *events.Event
	logger  *zerolog.Logger
}

func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

func NewTelegramNotifier(sender Sender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:  sender,
		chatIDs: chatIDs,
		queue:   make(chan *events.Event, models.WorkerQueueSize),
		logger:  logger,
	}
}

// Register subscribes the notifier to the events managers care about.
func (n *TelegramNotifier) Register(bus *events.EventBus) {
	for _, t := range []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingCancelled,
		events.EventBookingCheckedIn,
		events.EventBookingCheckedOut,
		events.EventPaymentUpdated,
	} {
		bus.Subscribe(t, n.enqueue)
	}
}

func (n *TelegramNotifier) enqueue(event *events.Event) error {
	select {
	case n.queue <- event:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropping %s", event.Type)
	}
}

// Start sends queued notifications until ctx is done.
func (n *TelegramNotifier) Start(ctx context.Context) {
	n.logger.Info().Int("chats", len(n.chatIDs)).Msg("Telegram notifier started")
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			if err := n.Handle(event); err != nil {
				n.logger.Warn().Err(err).Str("event_type", event.Type).Msg("Notification not delivered")
			}
		}
	}
}

// Handle formats an event and sends it to every chat. The first send error
// is returned after all chats were attempted.
func (n *TelegramNotifier) Handle(event *events.Event) error {
	payload, err := event.Decode()
	if err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	text := FormatEvent(event.Type, payload)

	var firstErr error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("event_type", event.Type).Msg("Failed to send telegram notification")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var titles = map[string]string{
	events.EventBookingCreated:    "New booking",
	events.EventBookingConfirmed:  "Booking confirmed",
	events.EventBookingCancelled:  "Booking cancelled",
	events.EventBookingCheckedIn:  "Guest checked in",
	events.EventBookingCheckedOut: "Guest checked out",
	events.EventPaymentUpdated:    "Payment updated",
}

// FormatEvent renders a plain-text notification.
func FormatEvent(eventType string, p events.BookingEventPayload) string {
	title, ok := titles[eventType]
	if !ok {
		title = eventType
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", title, p.BookingNumber)
	fmt.Fprintf(&sb, "Property #%d, %s - %s\n", p.PropertyID,
		p.StartDate.Format(models.DateLayout), p.EndDate.Format(models.DateLayout))
	if p.GuestName != "" {
		fmt.Fprintf(&sb, "Guest: %s\n", p.GuestName)
	}
	fmt.Fprintf(&sb, "Total: %s %s\n", formatAmount(p.TotalAmount), p.Currency)
	fmt.Fprintf(&sb, "Status: %s, payment: %s", p.Status, p.PaymentStatus)
	if p.Reason != "" {
		fmt.Fprintf(&sb, "\nReason: %s", p.Reason)
	}
	return sb.String()
}

func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
