package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"staybook/internal/events"
	"staybook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func samplePayload() events.BookingEventPayload {
	return events.NewBookingPayload(&models.Booking{
		ID:            1,
		BookingNumber: "BK-20240301-ABCDEF12",
		PropertyID:    5,
		GuestName:     "Ann Guest",
		StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		TotalAmount:   32550,
		Currency:      "EUR",
		Status:        models.StatusCancelled,
		PaymentStatus: models.PaymentPending,
	}, "guest", 7, "changed plans")
}

func TestFormatEvent(t *testing.T) {
	text := FormatEvent(events.EventBookingCancelled, samplePayload())

	assert.True(t, strings.HasPrefix(text, "Booking cancelled: BK-20240301-ABCDEF12"))
	assert.Contains(t, text, "Property #5, 2024-03-01 - 2024-03-04")
	assert.Contains(t, text, "Total: 325.50 EUR")
	assert.Contains(t, text, "Reason: changed plans")
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "-12.00", formatAmount(-1200))
}

func TestHandleSendsToEveryChat(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 10
	})).Return(errors.New("blocked")).Once()
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 20
	})).Return(nil).Once()

	logger := zerolog.Nop()
	n := NewTelegramNotifier(sender, []int64{10, 20}, &logger)

	bus := events.NewEventBus(nil)
	var captured *events.Event
	bus.Subscribe(events.EventBookingCancelled, func(e *events.Event) error {
		captured = e
		return nil
	})
	require.NoError(t, bus.PublishJSON(events.EventBookingCancelled, samplePayload()))
	require.NotNil(t, captured)

	err := n.Handle(captured)
	assert.EqualError(t, err, "blocked")
	sender.AssertExpectations(t)
}

func TestRegisterQueuesAndStartDelivers(t *testing.T) {
	sender := &mockSender{}
	delivered := make(chan struct{}, 1)
	sender.On("Send", mock.Anything).Return(nil).Run(func(mock.Arguments) { delivered <- struct{}{} })

	logger := zerolog.Nop()
	n := NewTelegramNotifier(sender, []int64{10}, &logger)
	bus := events.NewEventBus(nil)
	n.Register(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Start(ctx)

	require.NoError(t, bus.PublishJSON(events.EventBookingCreated, samplePayload()))
	require.NoError(t, bus.PublishJSON(events.EventBookingDeleted, samplePayload()))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("notification was not delivered")
	}
	time.Sleep(20 * time.Millisecond)
	sender.AssertNumberOfCalls(t, "Send", 1)
}
