package models

import (
	"time"
)

// Collection names in the store.
const (
	CollectionBookings    = "bookings"
	CollectionBookedSeats = "booked_seats"
	CollectionDailyStats  = "daily_stats"
	CollectionSpecialDays = "special_days"
	CollectionUsers       = "users"
)

// Booking types
const (
	TypeDesignated    = "designated"
	TypeFloating      = "floating"
	TypeAdminOverride = "admin-override"
)

const StatusConfirmed = "confirmed"

type Booking struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Batch     int       `json:"batch"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Type      string    `json:"type"` // designated, floating, admin-override
	SeatID    int       `json:"seat_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SeatOccupancy mirrors the booking that holds the same (date, seat_id);
// the two records are written and deleted together in one transaction.
type SeatOccupancy struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Date     string `json:"date"`
	Type     string `json:"type"`
	SeatID   int    `json:"seat_id"`
}

type DailyStats struct {
	Date                       string `json:"date"`
	DesignatedCount            int    `json:"designated_count"`
	FloatingCount              int    `json:"floating_count"`
	ReleasedCount              int    `json:"released_count"`
	BaseFloatingCapacity       int    `json:"base_floating_capacity"`
	TotalFloatingAvailable     int    `json:"total_floating_available"`
	AutoReleasedFromDesignated int    `json:"auto_released_from_designated"`
}

// NewDailyStats returns the zero-activity stats for a date. The floating
// pool starts at the base buffer size and only ever grows afterwards.
func NewDailyStats(date string, baseFloating int) DailyStats {
	return DailyStats{
		Date:                   date,
		BaseFloatingCapacity:   baseFloating,
		TotalFloatingAvailable: baseFloating,
	}
}

type SpecialDay struct {
	Date  string    `json:"date"`
	Type  string    `json:"type"` // holiday, working
	SetAt time.Time `json:"set_at"`
}

// BookingStatus is the read-model returned to a user asking about a date.
type BookingStatus struct {
	Booked            bool     `json:"booked"`
	Booking           *Booking `json:"booking,omitempty"`
	AvailableFloating int      `json:"available_floating"`
}
