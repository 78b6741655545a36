package google

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"

	"google.golang.org/api/sheets/v4"
)

const maxOccupancyDays = 100

var (
	colorBooked  = &sheets.Color{Red: 1.0, Green: 0.78, Blue: 0.81}
	colorPending = &sheets.Color{Red: 1.0, Green: 0.92, Blue: 0.61}
	colorFree    = &sheets.Color{Red: 1.0, Green: 1.0, Blue: 1.0}
	colorHeader  = &sheets.Color{Red: 0.86, Green: 0.92, Blue: 0.97}
)

// OccupancyCell is one property-night of the occupancy grid.
type OccupancyCell struct {
	Text  string
	Color *sheets.Color
}

// BuildOccupancyGrid lays out one row per property and one column per night
// of [start, end). Only occupying bookings are drawn.
func BuildOccupancyGrid(start, end time.Time, properties []*models.Property, bookings []*models.Booking) ([]time.Time, [][]OccupancyCell) {
	days := models.EachDay(start, end)
	if len(days) > maxOccupancyDays {
		days = days[:maxOccupancyDays]
	}
	col := make(map[string]int, len(days))
	for i, d := range days {
		col[d.Format(models.DateLayout)] = i
	}
	row := make(map[int64]int, len(properties))
	grid := make([][]OccupancyCell, len(properties))
	for i, p := range properties {
		row[p.ID] = i
		grid[i] = make([]OccupancyCell, len(days))
		for j := range grid[i] {
			grid[i][j] = OccupancyCell{Color: colorFree}
		}
	}

	for _, b := range bookings {
		r, ok := row[b.PropertyID]
		if !ok || !b.Status.IsOccupying() {
			continue
		}
		for _, night := range b.Nights() {
			c, ok := col[night.Format(models.DateLayout)]
			if !ok {
				continue
			}
			cell := &grid[r][c]
			if cell.Text != "" {
				cell.Text += "\n"
			}
			cell.Text += fmt.Sprintf("%s %s (%s)", b.BookingNumber, b.GuestName, b.Status)
			if b.Status == models.StatusPending && cell.Color != colorBooked {
				cell.Color = colorPending
			} else if b.Status != models.StatusPending {
				cell.Color = colorBooked
			}
		}
	}
	return days, grid
}

// UpdateOccupancySheet redraws the occupancy tab for [start, end).
func (s *SheetsService) UpdateOccupancySheet(ctx context.Context, title string, start, end time.Time, properties []*models.Property, bookings []*models.Booking) error {
	sheetID, err := s.GetSheetIDByName(ctx, title)
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, title+"!A:ZZ", &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet: %w", err)
	}

	days, grid := BuildOccupancyGrid(start, end, properties, bookings)

	data := [][]interface{}{
		{fmt.Sprintf("Period: %s - %s", start.Format(models.DateLayout), end.Format(models.DateLayout))},
		{},
	}
	header := []interface{}{"Property"}
	for _, d := range days {
		header = append(header, d.Format("02.01"))
	}
	data = append(data, header)

	requests := []*sheets.Request{
		repeatCell(sheetID, 2, 3, 1, int64(len(header)), &sheets.CellFormat{
			HorizontalAlignment: "CENTER",
			TextFormat:          &sheets.TextFormat{Bold: true},
			BackgroundColor:     colorHeader,
		}, "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)"),
	}

	for i, p := range properties {
		rowData := []interface{}{fmt.Sprintf("%s (#%d)", p.Name, p.ID)}
		for j, cell := range grid[i] {
			rowData = append(rowData, cell.Text)
			requests = append(requests, repeatCell(sheetID, int64(i+3), int64(i+4), int64(j+1), int64(j+2), &sheets.CellFormat{
				VerticalAlignment: "TOP",
				WrapStrategy:      "WRAP",
				BackgroundColor:   cell.Color,
			}, "userEnteredFormat(backgroundColor,verticalAlignment,wrapStrategy)"))
		}
		data = append(data, rowData)
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, title+"!A1", &sheets.ValueRange{Values: data}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to update occupancy sheet: %w", err)
	}

	requests = append(requests, columnWidth(sheetID, 0, 1, 220), columnWidth(sheetID, 1, int64(len(days)+1), 150))
	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to apply formatting: %w", err)
	}
	return nil
}

func repeatCell(sheetID, startRow, endRow, startCol, endCol int64, format *sheets.CellFormat, fields string) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    startRow,
				EndRowIndex:      endRow,
				StartColumnIndex: startCol,
				EndColumnIndex:   endCol,
			},
			Cell:   &sheets.CellData{UserEnteredFormat: format},
			Fields: fields,
		},
	}
}

func columnWidth(sheetID, startCol, endCol, pixels int64) *sheets.Request {
	return &sheets.Request{
		UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
			Range: &sheets.DimensionRange{
				SheetId:    sheetID,
				Dimension:  "COLUMNS",
				StartIndex: startCol,
				EndIndex:   endCol,
			},
			Properties: &sheets.DimensionProperties{PixelSize: pixels},
			Fields:     "pixelSize",
		},
	}
}

func (s *SheetsService) GetSheetIDByName(ctx context.Context, title string) (int64, error) {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == title {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", title)
}
