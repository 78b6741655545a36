package api

import (
	"net/http"
	"strings"

	"staybook/internal/domain"
	"staybook/internal/models"
)

type createBookingRequest struct {
	PropertyID    int64  `json:"property_id"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	GuestPhone    string `json:"guest_phone"`
	GuestCount    int    `json:"guest_count"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	PaymentRef    string `json:"payment_ref"`
	PaymentMethod string `json:"payment_method"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, err := parseDay(req.StartDate, "start_date")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDay(req.EndDate, "end_date")
	if err != nil {
		writeError(w, err)
		return
	}

	booking, err := s.deps.Bookings.CreateBooking(r.Context(), actor, domain.BookingRequest{
		PropertyID:    req.PropertyID,
		GuestName:     strings.TrimSpace(req.GuestName),
		GuestEmail:    strings.TrimSpace(req.GuestEmail),
		GuestPhone:    strings.TrimSpace(req.GuestPhone),
		GuestCount:    req.GuestCount,
		StartDate:     start,
		EndDate:       end,
		PaymentRef:    req.PaymentRef,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bookings, err := s.deps.Bookings.ListGuestBookings(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
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
	booking, err := s.deps.Bookings.GetBooking(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleBookingHistory(w http.ResponseWriter, r *http.Request) {
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
	history, err := s.deps.Bookings.BookingHistory(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": history})
}

type transitionRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
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
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target := models.BookingStatus(strings.ToUpper(strings.TrimSpace(req.Target)))
	booking, err := s.deps.Bookings.Transition(r.Context(), id, target, actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type paymentStatusRequest struct {
	Status string `json:"status"`
}

func (s *HTTPServer) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
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
	var req paymentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	status := models.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	booking, err := s.deps.Bookings.UpdatePaymentStatus(r.Context(), id, status, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type paymentRequest struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	Method     string `json:"method"`
	GatewayRef string `json:"gateway_ref"`
}

func (s *HTTPServer) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
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
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	booking, err := s.deps.Bookings.RecordPayment(r.Context(), id, &models.Payment{
		Amount:     req.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
		Status:     models.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Method:     req.Method,
		GatewayRef: req.GatewayRef,
	}, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
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
	if err := s.deps.Bookings.DeleteBooking(r.Context(), id, actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) requireSyncAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !actor.IsAdmin() {
		writeError(w, domain.ErrUnauthorized)
		return false
	}
	if s.deps.Sync == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: "sheets sync is disabled", Code: "SYNC_DISABLED"})
		return false
	}
	return true
}

func (s *HTTPServer) handleRequeueSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireSyncAdmin(w, r) {
		return
	}
	n, err := s.deps.Sync.RequeueFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

func (s *HTTPServer) handleOccupancySync(w http.ResponseWriter, r *http.Request) {
	if !s.requireSyncAdmin(w, r) {
		return
	}
	start, end, err := rangeQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Sync.EnqueueOccupancySync(r.Context(), start, end); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleFullResync(w http.ResponseWriter, r *http.Request) {
	if !s.requireSyncAdmin(w, r) {
		return
	}
	if err := s.deps.Sync.EnqueueFullResync(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
