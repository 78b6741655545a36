package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/properties/5/availability", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "partner-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("start"))
		_ = json.NewEncoder(w).Encode(Availability{
			PropertyID:  5,
			StartDate:   r.URL.Query().Get("start"),
			EndDate:     r.URL.Query().Get("end"),
			IsAvailable: true,
			Subtotal:    20000,
			PerDay: []Day{
				{Date: "2024-03-01", Status: models.DayAvailable, Price: 10000},
				{Date: "2024-03-02", Status: models.DayAvailable, Price: 10000},
			},
		})
	})
	mux.HandleFunc("/api/v1/bookings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing bearer token","code":"UNAUTHENTICATED"}`))
			return
		}
		var req BookingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Booking{
			ID:            11,
			PropertyID:    req.PropertyID,
			GuestName:     req.GuestName,
			StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:       time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
			Status:        models.StatusPending,
			PaymentStatus: models.PaymentPending,
		})
	})
	mux.HandleFunc("/api/v1/bookings/11/transition", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"cancellation window expired","code":"CANCELLATION_WINDOW_EXPIRED","retryable":false}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetAvailabilityCached(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := New(srv.URL+"/", "partner-key", "")
	c.UseRedisCache(rdb, time.Minute)
	ctx := context.Background()

	first, err := c.GetAvailability(ctx, 5, "2024-03-01", "2024-03-03")
	require.NoError(t, err)
	assert.True(t, first.IsAvailable)
	assert.Len(t, first.PerDay, 2)

	second, err := c.GetAvailability(ctx, 5, "2024-03-01", "2024-03-03")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	_, err = c.CreateBooking(ctx, "user-token", BookingRequest{
		PropertyID: 5, GuestName: "Ann", GuestCount: 1, StartDate: "2024-03-01", EndDate: "2024-03-03",
	})
	require.NoError(t, err)

	_, err = c.GetAvailability(ctx, 5, "2024-03-01", "2024-03-03")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestCreateBooking(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c := New(srv.URL, "partner-key", "")

	b, err := c.CreateBooking(context.Background(), "user-token", BookingRequest{
		PropertyID: 5, GuestName: "Ann", GuestCount: 1, StartDate: "2024-03-01", EndDate: "2024-03-03",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 11, b.ID)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, "Ann", b.GuestName)
}

func TestAPIErrors(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c := New(srv.URL, "partner-key", "")
	ctx := context.Background()

	_, err := c.CreateBooking(ctx, "", BookingRequest{PropertyID: 5})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", apiErr.Code)

	_, err = c.Transition(ctx, "user-token", 11, models.StatusCancelled, "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "CANCELLATION_WINDOW_EXPIRED", apiErr.Code)
	assert.False(t, apiErr.Retryable)

	_, err = c.GetBooking(ctx, "user-token", 99)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Not Found", apiErr.Message)
}
