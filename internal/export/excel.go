package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"staybook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet  = "Bookings"
	occupancySheet = "Occupancy"
)

var bookingHeaders = []string{
	"Booking Number", "Guest", "Email", "Phone", "Guests", "Check-in", "Check-out",
	"Nights", "Total", "Currency", "Status", "Payment",
}

// Report is an xlsx workbook with a booking list and an occupancy grid for
// one property.
type Report struct {
	file     *excelize.File
	property *models.Property
	start    time.Time
	end      time.Time
}

// BuildReport renders bookings of property over [start, end).
func BuildReport(property *models.Property, bookings []*models.Booking, start, end time.Time) (*Report, error) {
	f := excelize.NewFile()
	r := &Report{file: f, property: property, start: models.DateOnly(start), end: models.DateOnly(end)}

	if err := f.SetSheetName("Sheet1", bookingsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	if _, err := f.NewSheet(occupancySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}

	if err := r.writeBookings(bookings); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.writeOccupancy(bookings); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Report) writeBookings(bookings []*models.Booking) error {
	f := r.file
	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	for i, h := range bookingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(bookingsSheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(bookingHeaders), 1)
	_ = f.SetCellStyle(bookingsSheet, "A1", last, headerStyle)

	for i, b := range bookings {
		row := []interface{}{
			b.BookingNumber, b.GuestName, b.GuestEmail, b.GuestPhone, b.GuestCount,
			b.StartDate.Format(models.DateLayout), b.EndDate.Format(models.DateLayout),
			b.TotalDays, float64(b.TotalAmount) / 100, b.Currency, string(b.Status), string(b.PaymentStatus),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(bookingsSheet, cell, &row); err != nil {
			return fmt.Errorf("error writing booking row: %w", err)
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "A", 24)
	_ = f.SetColWidth(bookingsSheet, "B", "D", 20)
	return nil
}

func (r *Report) writeOccupancy(bookings []*models.Booking) error {
	f := r.file
	days := models.EachDay(r.start, r.end)

	title := fmt.Sprintf("%s: %s - %s", r.property.Name, r.start.Format(models.DateLayout), r.end.Format(models.DateLayout))
	if err := f.SetCellValue(occupancySheet, "A1", title); err != nil {
		return err
	}
	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	_ = f.SetCellStyle(occupancySheet, "A1", "A1", titleStyle)

	booked, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	pending, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	byNight := make(map[string]*models.Booking)
	for _, b := range bookings {
		if !b.Status.IsOccupying() {
			continue
		}
		for _, n := range b.Nights() {
			byNight[n.Format(models.DateLayout)] = b
		}
	}

	_ = f.SetCellValue(occupancySheet, "A2", "Date")
	_ = f.SetCellValue(occupancySheet, "B2", "Booking")
	_ = f.SetCellValue(occupancySheet, "C2", "Guest")
	for i, d := range days {
		row := i + 3
		key := d.Format(models.DateLayout)
		_ = f.SetCellValue(occupancySheet, fmt.Sprintf("A%d", row), key)

		b, ok := byNight[key]
		if !ok {
			continue
		}
		_ = f.SetCellValue(occupancySheet, fmt.Sprintf("B%d", row), b.BookingNumber)
		_ = f.SetCellValue(occupancySheet, fmt.Sprintf("C%d", row), b.GuestName)
		style := booked
		if b.Status == models.StatusPending {
			style = pending
		}
		_ = f.SetCellStyle(occupancySheet, fmt.Sprintf("A%d", row), fmt.Sprintf("C%d", row), style)
	}
	_ = f.SetColWidth(occupancySheet, "A", "C", 22)
	return nil
}

// FileName is the suggested download name.
func (r *Report) FileName() string {
	return fmt.Sprintf("property_%d_%s_to_%s.xlsx", r.property.ID,
		r.start.Format(models.DateLayout), r.end.Format(models.DateLayout))
}

func (r *Report) WriteTo(w io.Writer) (int64, error) {
	return r.file.WriteTo(w)
}

// SaveAs writes the workbook into dir and returns its path.
func (r *Report) SaveAs(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	path := filepath.Join(dir, r.FileName())
	if err := r.file.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

func (r *Report) Close() error {
	return r.file.Close()
}
