package handlers

import (
	"net/http"
	"time"

	"deskbook/calendar"
	"deskbook/config"
	"deskbook/models"
	"deskbook/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type BookingHandler struct {
	cfg   *config.Config
	alloc *services.AllocationService
	query *services.QueryService
}

func NewBookingHandler(cfg *config.Config, alloc *services.AllocationService, query *services.QueryService) *BookingHandler {
	return &BookingHandler{
		cfg:   cfg,
		alloc: alloc,
		query: query,
	}
}

// Book - book a seat with an explicit booking type
func (h *BookingHandler) Book(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Date   string `json:"date"`
		Type   string `json:"type"`
		SeatID int    `json:"seat_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	return h.book(e, req.Date, req.Type, req.SeatID)
}

// BookDesignated - book a seat in the designated zone, defaulting to today
func (h *BookingHandler) BookDesignated(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Date   string `json:"date"`
		SeatID int    `json:"seat_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Date == "" {
		req.Date = h.today()
	}

	return h.book(e, req.Date, models.TypeDesignated, req.SeatID)
}

// BookFloating - book a floating seat, defaulting to today
func (h *BookingHandler) BookFloating(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Date   string `json:"date"`
		SeatID int    `json:"seat_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Date == "" {
		req.Date = h.today()
	}

	return h.book(e, req.Date, models.TypeFloating, req.SeatID)
}

func (h *BookingHandler) book(e *core.RequestEvent, date, bookingType string, seatID int) error {
	err := h.alloc.Book(e.Request.Context(), services.BookRequest{
		UserID:   e.Auth.Id,
		UserName: e.Auth.GetString("name"),
		Batch:    e.Auth.GetInt("batch"),
		Date:     date,
		Type:     bookingType,
		SeatID:   seatID,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Seat booked successfully",
		"date":    date,
		"seat_id": seatID,
		"type":    bookingType,
	})
}

// Release - release the caller's booking for a date
func (h *BookingHandler) Release(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Date string `json:"date"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Date == "" {
		req.Date = h.today()
	}

	if err := h.alloc.Release(e.Request.Context(), e.Auth.Id, req.Date); err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Booking released successfully",
		"date":    req.Date,
	})
}

// Status - the caller's booking status for a date (default today)
func (h *BookingHandler) Status(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	date := e.Request.URL.Query().Get("date")
	if date == "" {
		date = h.today()
	}

	status, err := h.query.BookingStatus(e.Request.Context(), e.Auth.Id, date)
	if err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, status)
}

// Weekly - daily aggregates for an inclusive date range
func (h *BookingHandler) Weekly(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	start := e.Request.URL.Query().Get("start")
	end := e.Request.URL.Query().Get("end")

	stats, err := h.query.WeeklyStats(e.Request.Context(), start, end)
	if err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"start": start,
		"end":   end,
		"days":  stats,
	})
}

// DailySeats - the occupied seat map for a date
func (h *BookingHandler) DailySeats(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	date := e.Request.URL.Query().Get("date")
	if date == "" {
		date = h.today()
	}

	roster, err := h.query.DailyRoster(e.Request.Context(), date)
	if err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"date":  date,
		"seats": roster,
	})
}

// SpecialDays - all holiday/working-day overrides
func (h *BookingHandler) SpecialDays(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	days, err := h.query.SpecialDays(e.Request.Context())
	if err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, days)
}

func (h *BookingHandler) today() string {
	return time.Now().In(h.cfg.Location()).Format(calendar.DateLayout)
}
