package handlers

import (
	"net/http"

	"deskbook/services"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	app     core.App
	alloc   *services.AllocationService
	special *services.SpecialDayService
}

func NewAdminHandler(app core.App, alloc *services.AllocationService, special *services.SpecialDayService) *AdminHandler {
	return &AdminHandler{
		app:     app,
		alloc:   alloc,
		special: special,
	}
}

func requireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.GetBool("is_admin") {
		return apis.NewForbiddenError("Access denied. Admins only.", nil)
	}
	return nil
}

// BookOverride - force-book a seat for any user, bypassing all rules
func (h *AdminHandler) BookOverride(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		UserID string `json:"user_id"`
		Date   string `json:"date"`
		SeatID int    `json:"seat_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	userName := ""
	batch := 0
	if user, err := h.app.FindRecordById("users", req.UserID); err == nil {
		userName = user.GetString("name")
		batch = user.GetInt("batch")
	}

	err := h.alloc.AdminOverride(e.Request.Context(), services.OverrideRequest{
		TargetUserID: req.UserID,
		UserName:     userName,
		Batch:        batch,
		Date:         req.Date,
		SeatID:       req.SeatID,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Seat assigned by admin override",
		"user_id": req.UserID,
		"date":    req.Date,
		"seat_id": req.SeatID,
	})
}

// Release - release any user's booking for a date
func (h *AdminHandler) Release(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		UserID string `json:"user_id"`
		Date   string `json:"date"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if err := h.alloc.Release(e.Request.Context(), req.UserID, req.Date); err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Booking released by admin",
		"user_id": req.UserID,
		"date":    req.Date,
	})
}

// SetSpecialDay - mark a date as a holiday or an extra working day
func (h *AdminHandler) SetSpecialDay(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		Date string `json:"date"`
		Type string `json:"type"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if err := h.special.Set(e.Request.Context(), req.Date, req.Type); err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Special day saved",
		"date":    req.Date,
		"type":    req.Type,
	})
}

// RemoveSpecialDay - revert a date to its default classification
func (h *AdminHandler) RemoveSpecialDay(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	date := e.Request.PathValue("date")

	if err := h.special.Remove(e.Request.Context(), date); err != nil {
		return mapServiceError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "Special day removed",
		"date":    date,
	})
}

// ListUsers - all users with their batch assignment
func (h *AdminHandler) ListUsers(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	records, err := h.app.FindRecordsByFilter("users", "id != ''", "+name", 0, 0)
	if err != nil {
		return apis.NewBadRequestError("Failed to list users", err)
	}

	users := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		users = append(users, map[string]any{
			"id":       rec.Id,
			"name":     rec.GetString("name"),
			"email":    rec.GetString("email"),
			"batch":    rec.GetInt("batch"),
			"is_admin": rec.GetBool("is_admin"),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{"users": users})
}

// UpdateUserBatch - reassign a user to another batch
func (h *AdminHandler) UpdateUserBatch(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	userID := e.Request.PathValue("id")

	var req struct {
		Batch int `json:"batch"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Batch != 1 && req.Batch != 2 {
		return apis.NewBadRequestError("batch must be 1 or 2", nil)
	}

	user, err := h.app.FindFirstRecordByFilter("users", "id = {:id}", dbx.Params{"id": userID})
	if err != nil {
		return apis.NewNotFoundError("User not found", err)
	}

	user.Set("batch", req.Batch)
	if err := h.app.Save(user); err != nil {
		return apis.NewBadRequestError("Failed to update user", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"message": "User batch updated",
		"user_id": userID,
		"batch":   req.Batch,
	})
}
