// Package migrations defines the store schema: the four collections the
// allocation engine owns plus the extra user fields. The collection
// builders are exported so tests can bootstrap the same schema.
package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// BookingsCollection describes per-user bookings, at most one per
// (date, user).
func BookingsCollection() *core.Collection {
	collection := core.NewBaseCollection("bookings")
	collection.Fields.Add(
		&core.TextField{Name: "user_id", Required: true},
		&core.TextField{Name: "user_name"},
		&core.NumberField{Name: "batch", OnlyInt: true},
		&core.TextField{Name: "date", Required: true},
		&core.SelectField{
			Name:      "type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"designated", "floating", "admin-override"},
		},
		&core.NumberField{
			Name:     "seat_id",
			Required: true,
			OnlyInt:  true,
			Min:      types.Pointer(1.0),
			Max:      types.Pointer(50.0),
		},
		&core.TextField{Name: "status"},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	collection.AddIndex("idx_bookings_date_user", true, "date, user_id", "")
	return collection
}

// BookedSeatsCollection describes per-seat occupancy, at most one per
// (date, seat). Each record pairs 1:1 with a booking.
func BookedSeatsCollection() *core.Collection {
	collection := core.NewBaseCollection("booked_seats")
	collection.Fields.Add(
		&core.TextField{Name: "user_id", Required: true},
		&core.TextField{Name: "user_name"},
		&core.TextField{Name: "date", Required: true},
		&core.SelectField{
			Name:      "type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"designated", "floating", "admin-override"},
		},
		&core.NumberField{
			Name:     "seat_id",
			Required: true,
			OnlyInt:  true,
			Min:      types.Pointer(1.0),
			Max:      types.Pointer(50.0),
		},
	)
	collection.AddIndex("idx_booked_seats_date_seat", true, "date, seat_id", "")
	return collection
}

// DailyStatsCollection describes the per-date aggregate counters.
func DailyStatsCollection() *core.Collection {
	collection := core.NewBaseCollection("daily_stats")
	collection.Fields.Add(
		&core.TextField{Name: "date", Required: true},
		&core.NumberField{Name: "designated_count", OnlyInt: true},
		&core.NumberField{Name: "floating_count", OnlyInt: true},
		&core.NumberField{Name: "released_count", OnlyInt: true},
		&core.NumberField{Name: "base_floating_capacity", OnlyInt: true},
		&core.NumberField{Name: "total_floating_available", OnlyInt: true},
		&core.NumberField{Name: "auto_released_from_designated", OnlyInt: true},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	collection.AddIndex("idx_daily_stats_date", true, "date", "")
	return collection
}

// SpecialDaysCollection describes the holiday/working overrides.
func SpecialDaysCollection() *core.Collection {
	collection := core.NewBaseCollection("special_days")
	collection.Fields.Add(
		&core.TextField{Name: "date", Required: true},
		&core.SelectField{
			Name:      "type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"holiday", "working"},
		},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	collection.AddIndex("idx_special_days_date", true, "date", "")
	return collection
}
