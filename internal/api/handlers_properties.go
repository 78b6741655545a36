package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"staybook/internal/domain"
	"staybook/internal/export"
	"staybook/internal/models"
	"staybook/internal/service"

	"github.com/go-chi/chi/v5"
)

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", chi.URLParam(r, "id"), domain.ErrInvalidInput)
	}
	return id, nil
}

func parseDay(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required: %w", field, domain.ErrInvalidRange)
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", field, domain.ErrInvalidRange)
	}
	return d, nil
}

func rangeQuery(r *http.Request) (time.Time, time.Time, error) {
	start, err := parseDay(r.URL.Query().Get("start"), "start")
	if err != nil {
		return start, start, err
	}
	end, err := parseDay(r.URL.Query().Get("end"), "end")
	return start, end, err
}

type propertyRequest struct {
	OwnerID            int64                     `json:"owner_id"`
	AgentID            int64                     `json:"agent_id"`
	Name               string                    `json:"name"`
	PriceType          models.PriceType          `json:"price_type"`
	Price              int64                     `json:"price"`
	CleaningFee        int64                     `json:"cleaning_fee"`
	ServiceFee         int64                     `json:"service_fee"`
	SecurityDeposit    int64                     `json:"security_deposit"`
	Currency           string                    `json:"currency"`
	MinStay            int                       `json:"min_stay"`
	MaxStay            int                       `json:"max_stay"`
	AvailableFrom      string                    `json:"available_from"`
	InstantBook        bool                      `json:"instant_book"`
	CancellationPolicy models.CancellationPolicy `json:"cancellation_policy"`
	IsActive           *bool                     `json:"is_active"`
}

func (req propertyRequest) toProperty() (*models.Property, error) {
	p := &models.Property{
		OwnerID:            req.OwnerID,
		AgentID:            req.AgentID,
		Name:               req.Name,
		PriceType:          req.PriceType,
		Price:              req.Price,
		CleaningFee:        req.CleaningFee,
		ServiceFee:         req.ServiceFee,
		SecurityDeposit:    req.SecurityDeposit,
		Currency:           req.Currency,
		MinStay:            req.MinStay,
		MaxStay:            req.MaxStay,
		InstantBook:        req.InstantBook,
		CancellationPolicy: req.CancellationPolicy,
		IsActive:           req.IsActive == nil || *req.IsActive,
	}
	if req.AvailableFrom != "" {
		from, err := models.ParseDate(req.AvailableFrom)
		if err != nil {
			return nil, fmt.Errorf("available_from must be YYYY-MM-DD: %w", domain.ErrInvalidInput)
		}
		p.AvailableFrom = &from
	}
	return p, nil
}

func (s *HTTPServer) handleListProperties(w http.ResponseWriter, r *http.Request) {
	// inactive listings are only visible to admins
	activeOnly := true
	if actor, err := requireActor(r); err == nil && actor.IsAdmin() {
		activeOnly = r.URL.Query().Get("all") != "true"
	}
	properties, err := s.deps.Properties.ListProperties(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
}

func (s *HTTPServer) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.deps.Properties.GetProperty(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req propertyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := req.toProperty()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Properties.CreateProperty(r.Context(), actor, p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *HTTPServer) handleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req propertyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := req.toProperty()
	if err != nil {
		writeError(w, err)
		return
	}
	p.ID = id
	if err := s.deps.Properties.UpdateProperty(r.Context(), actor, p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type dayResponse struct {
	Date   string           `json:"date"`
	Status models.DayStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
	Price  int64            `json:"price"`
}

type rangeResponse struct {
	PropertyID          int64         `json:"property_id"`
	StartDate           string        `json:"start_date"`
	EndDate             string        `json:"end_date"`
	IsAvailable         bool          `json:"is_available"`
	Subtotal            int64         `json:"subtotal"`
	PerDay              []dayResponse `json:"per_day"`
	ViolatedConstraints []string      `json:"violated_constraints"`
}

func newRangeResponse(res *models.RangeResult) rangeResponse {
	out := rangeResponse{
		PropertyID:          res.PropertyID,
		StartDate:           res.StartDate.Format(models.DateLayout),
		EndDate:             res.EndDate.Format(models.DateLayout),
		IsAvailable:         res.IsAvailable,
		Subtotal:            res.Subtotal(),
		PerDay:              make([]dayResponse, 0, len(res.PerDay)),
		ViolatedConstraints: res.ViolatedConstraints,
	}
	if out.ViolatedConstraints == nil {
		out.ViolatedConstraints = []string{}
	}
	for _, d := range res.PerDay {
		out.PerDay = append(out.PerDay, dayResponse{
			Date: d.Date.Format(models.DateLayout), Status: d.Status, Reason: d.Reason, Price: d.Price,
		})
	}
	return out
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := rangeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Availability.ResolveRange(r.Context(), id, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRangeResponse(res))
}

type overrideResponse struct {
	Date      string                `json:"date"`
	Available bool                  `json:"available"`
	Price     *int64                `json:"price,omitempty"`
	BlockedBy string                `json:"blocked_by,omitempty"`
	Source    models.OverrideSource `json:"source"`
}

func (s *HTTPServer) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := rangeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	overrides, err := s.deps.Availability.ListOverrides(r.Context(), actor, id, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, overrideResponse{
			Date: o.Date.Format(models.DateLayout), Available: o.Available, Price: o.Price, BlockedBy: o.BlockedBy, Source: o.Source,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": out})
}

type overrideRequest struct {
	Date      string `json:"date"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
	Price     *int64 `json:"price"`
	BlockedBy string `json:"blocked_by"`
}

func (s *HTTPServer) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDay(req.Date, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Availability.SetOverride(r.Context(), actor, id, date, req.Available, req.Price, req.BlockedBy); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleBulkOverrides(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDay(req.Start, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDay(req.End, "end")
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.deps.Availability.SetOverrideRange(r.Context(), actor, id, service.OverrideRequest{
		Start: start, End: end, Available: req.Available, Price: req.Price, BlockedBy: req.BlockedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"days": models.DaysBetween(start, end)})
}

func (s *HTTPServer) handleDeleteOverrides(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := rangeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	deleted, err := s.deps.Availability.DeleteOverrides(r.Context(), actor, id, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *HTTPServer) handleRebuildOverrides(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	written, err := s.deps.Availability.RebuildDerivedOverrides(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"rebuilt": written})
}

func (s *HTTPServer) handlePropertyBookings(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := rangeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bookings, err := s.deps.Bookings.ListPropertyBookings(r.Context(), id, start, end, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExport streams an xlsx report. With archive=true a copy is also kept
// in the exports directory.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, end, err := rangeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if days := models.DaysBetween(start, end); days > models.DefaultMaxRangeDays {
		writeError(w, fmt.Errorf("export of %d days: %w", days, domain.ErrInvalidRange))
		return
	}

	bookings, err := s.deps.Bookings.ListPropertyBookings(r.Context(), id, start, end, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	property, err := s.deps.Properties.GetProperty(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := export.BuildReport(property, bookings, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	defer report.Close()

	if r.URL.Query().Get("archive") == "true" && s.deps.ExportDir != "" {
		path, err := report.SaveAs(s.deps.ExportDir)
		if err != nil {
			s.log.Warn().Err(err).Int64("property_id", id).Msg("Failed to archive export")
		} else {
			s.log.Info().Str("path", path).Msg("Export archived")
		}
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName()))
	if _, err := report.WriteTo(w); err != nil {
		s.log.Error().Err(err).Int64("property_id", id).Msg("Failed to write export")
	}
}
