package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"staybook/internal/models"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsService) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	return mux, newSheetsService(srv, "bookings_tid", "Bookings")
}

func testBooking(id int64) *models.Booking {
	return &models.Booking{
		ID:            id,
		BookingNumber: "BK-20240301-ABCDEF12",
		PropertyID:    5,
		GuestID:       7,
		GuestName:     "Ann Guest",
		GuestPhone:    "+100",
		StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		TotalDays:     3,
		TotalAmount:   30000,
		Currency:      "EUR",
		Status:        models.StatusConfirmed,
		PaymentStatus: models.PaymentSucceeded,
		CreatedAt:     time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 2, 21, 11, 0, 0, 0, time.UTC),
	}
}

func TestBookingRowValues(t *testing.T) {
	values := bookingRowValues(testBooking(123))

	expected := []interface{}{
		int64(123), "BK-20240301-ABCDEF12", int64(5), int64(7), "Ann Guest", "+100",
		"2024-03-01", "2024-03-04", 3, int64(30000), "EUR", "CONFIRMED", "SUCCEEDED",
		"2024-02-20 10:00:00", "2024-02-21 11:00:00",
	}
	if len(values) != len(expected) || len(values) != len(bookingHeaders) {
		t.Fatalf("expected %d values, got %d", len(expected), len(values))
	}
	for i, v := range values {
		if v != expected[i] {
			t.Errorf("at index %d: expected %v, got %v", i, expected[i], v)
		}
	}
}

func TestTestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	if err := s.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestWarmUpCache(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"123"}, {}, {"456"}},
		})
	})
	if err := s.WarmUpCache(context.Background()); err != nil {
		t.Fatalf("WarmUpCache failed: %v", err)
	}
	if row, ok := s.getCachedRow(123); !ok || row != 2 {
		t.Errorf("expected row 2 for ID 123, got %d", row)
	}
	if row, ok := s.getCachedRow(456); !ok || row != 4 {
		t.Errorf("expected row 4 for ID 456, got %d", row)
	}
}

func TestUpsertAppendsMissingRow(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	appended := false
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		appended = true
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Bookings!A10:O10"},
		})
	})

	if err := s.UpsertBooking(context.Background(), testBooking(789)); err != nil {
		t.Fatalf("UpsertBooking failed: %v", err)
	}
	if !appended {
		t.Fatalf("expected append call")
	}
	if row, _ := s.getCachedRow(789); row != 10 {
		t.Errorf("expected cached row 10, got %d", row)
	}
}

func TestUpsertUpdatesCachedRow(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow(123, 2)

	var body sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A2:O2", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	if err := s.UpsertBooking(context.Background(), testBooking(123)); err != nil {
		t.Fatalf("UpsertBooking failed: %v", err)
	}
	if len(body.Values) != 1 || body.Values[0][1] != "BK-20240301-ABCDEF12" {
		t.Errorf("unexpected row written: %+v", body.Values)
	}
}

func TestDeleteBookingRow(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow(456, 3)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A3:O3:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})

	if err := s.DeleteBookingRow(context.Background(), 456); err != nil {
		t.Fatalf("DeleteBookingRow failed: %v", err)
	}
	if _, ok := s.getCachedRow(456); ok {
		t.Errorf("expected cache entry to be removed")
	}
}

func TestDeleteMissingRowIsNoop(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}, {"1"}}})
	})
	if err := s.DeleteBookingRow(context.Background(), 999); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestReplaceBookingsSheet(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:O:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})
	var written sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &written)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	err := s.ReplaceBookingsSheet(context.Background(), []*models.Booking{testBooking(1), testBooking(2)})
	if err != nil {
		t.Fatalf("ReplaceBookingsSheet failed: %v", err)
	}
	if len(written.Values) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(written.Values))
	}
	if row, _ := s.getCachedRow(2); row != 3 {
		t.Errorf("expected row 3 for booking 2, got %d", row)
	}
}

func TestCacheOperations(t *testing.T) {
	s := newSheetsService(nil, "id", "")
	if s.sheetName != "Bookings" {
		t.Fatalf("expected default sheet name, got %q", s.sheetName)
	}

	s.setCachedRow(1, 10)
	if row, ok := s.getCachedRow(1); !ok || row != 10 {
		t.Errorf("expected row 10, got %d", row)
	}
	s.deleteCachedRow(1)
	if _, ok := s.getCachedRow(1); ok {
		t.Errorf("expected row to be deleted")
	}
	s.setCachedRow(2, 20)
	s.ClearCache()
	if _, ok := s.getCachedRow(2); ok {
		t.Errorf("expected cache to be cleared")
	}
}
