package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"staybook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrRowNotFound is returned when a booking has no row in the sheet.
var ErrRowNotFound = errors.New("booking row not found")

const (
	lastColumn     = "O"
	timestampShort = "2006-01-02 15:04:05"
)

var bookingHeaders = []interface{}{
	"ID", "Booking Number", "Property ID", "Guest ID", "Guest Name", "Guest Phone",
	"Check-in", "Check-out", "Nights", "Total", "Currency", "Status", "Payment", "Created At", "Updated At",
}

// SheetsService mirrors bookings into one spreadsheet tab. Column A holds the
// booking id; rowCache maps booking ids to 1-based row numbers.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsService(srv, spreadsheetID, sheetName), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsService {
	if sheetName == "" {
		sheetName = "Bookings"
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowCache:      make(map[int64]int),
	}
}

func (s *SheetsService) rangeOf(a1 string) string {
	return s.sheetName + "!" + a1
}

func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rangeOf("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache rebuilds the row index from column A.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rangeOf("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[int64]int)
	for i, row := range resp.Values {
		if id := cellID(row); id > 0 {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func cellID(row []interface{}) int64 {
	if len(row) == 0 {
		return 0
	}
	switch v := row[0].(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

var updatedRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// AppendBooking adds a row at the end of the sheet and caches its position.
func (s *SheetsService) AppendBooking(ctx context.Context, booking *models.Booking) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.rangeOf("A:A"), &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if m := updatedRowRe.FindStringSubmatch(resp.Updates.UpdatedRange); m != nil {
			if row, err := strconv.Atoi(m[1]); err == nil {
				s.setCachedRow(booking.ID, row)
			}
		}
	}
	return nil
}

// UpsertBooking rewrites the booking's row, appending it when missing.
func (s *SheetsService) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return errors.New("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return s.AppendBooking(ctx, booking)
		}
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rowRange(rowIdx), &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsService) rowRange(row int) string {
	return s.rangeOf(fmt.Sprintf("A%d:%s%d", row, lastColumn, row))
}

// DeleteBookingRow clears the booking's row. A missing row is not an error.
func (s *SheetsService) DeleteBookingRow(ctx context.Context, bookingID int64) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return nil
		}
		return err
	}

	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.rowRange(rowIdx), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCachedRow(bookingID)
	}
	return err
}

// FindBookingRow returns the 1-based row of bookingID.
func (s *SheetsService) FindBookingRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID == 0 {
		return 0, errors.New("booking id is required")
	}
	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rangeOf("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellID(row) == bookingID {
			s.setCachedRow(bookingID, i+1)
			return i + 1, nil
		}
	}
	return 0, ErrRowNotFound
}

// ReplaceBookingsSheet rewrites the whole tab with a header and one row per
// booking.
func (s *SheetsService) ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.rangeOf("A:"+lastColumn), &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to clear bookings sheet: %w", err)
	}

	values := [][]interface{}{bookingHeaders}
	for _, b := range bookings {
		values = append(values, bookingRowValues(b))
	}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rangeOf("A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update bookings sheet: %w", err)
	}

	cache := make(map[int64]int, len(bookings))
	for i, b := range bookings {
		cache[b.ID] = i + 2
	}
	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.BookingNumber,
		b.PropertyID,
		b.GuestID,
		b.GuestName,
		b.GuestPhone,
		b.StartDate.Format(models.DateLayout),
		b.EndDate.Format(models.DateLayout),
		b.TotalDays,
		b.TotalAmount,
		b.Currency,
		string(b.Status),
		string(b.PaymentStatus),
		b.CreatedAt.Format(timestampShort),
		b.UpdatedAt.Format(timestampShort),
	}
}

func (s *SheetsService) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCachedRow(id int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[int64]int)
}

// RefreshCachePeriodically rebuilds the row index until ctx is done.
func (s *SheetsService) RefreshCachePeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_ = s.WarmUpCache(refreshCtx)
			cancel()
		}
	}
}
