package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deskbook/calendar"
	"deskbook/config"
	"deskbook/models"
	"deskbook/monitoring"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// AllocationService is the seat allocation transaction engine. Every
// mutation (Book, Release, AdminOverride) runs as one store transaction
// touching bookings, booked_seats and daily_stats together, so the
// aggregate counters can never drift from the per-seat records: the
// writes commit together or not at all.
type AllocationService struct {
	app    core.App
	cfg    *config.Config
	policy *calendar.Policy
	pool   *PoolService
	notify *NotifyService
	query  *QueryService

	// Now is the clock used for cutoff decisions; replaceable in tests.
	Now func() time.Time
}

func NewAllocationService(app core.App, cfg *config.Config, policy *calendar.Policy, pool *PoolService, notify *NotifyService, query *QueryService) *AllocationService {
	return &AllocationService{
		app:    app,
		cfg:    cfg,
		policy: policy,
		pool:   pool,
		notify: notify,
		query:  query,
		Now:    time.Now,
	}
}

type BookRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Batch    int    `json:"batch"`
	Date     string `json:"date"`
	Type     string `json:"type"`
	SeatID   int    `json:"seat_id"`
}

type OverrideRequest struct {
	TargetUserID string `json:"user_id"`
	UserName     string `json:"user_name"`
	Batch        int    `json:"batch"`
	Date         string `json:"date"`
	SeatID       int    `json:"seat_id"`
}

type bookResult struct {
	kicked bool
	stats  models.DailyStats
}

// Book attempts to allocate a seat for one user on one date. Preconditions
// are checked in a fixed order inside the transaction and each failure is
// a distinct error; nothing is written unless every check passes.
func (s *AllocationService) Book(ctx context.Context, req BookRequest) error {
	if req.UserID == "" || req.Batch == 0 || req.Date == "" || req.Type == "" || req.SeatID == 0 {
		return NewValidationError("missing required fields (including seat_id)")
	}
	if req.SeatID < 1 || req.SeatID > s.cfg.TotalSeats {
		return NewValidationError("invalid seat_id, must be between 1 and %d", s.cfg.TotalSeats)
	}
	if req.Type != models.TypeDesignated && req.Type != models.TypeFloating {
		return NewValidationError("invalid booking type %q", req.Type)
	}
	if _, err := s.policy.ParseDate(req.Date); err != nil {
		return NewValidationError("%v", err)
	}

	var res bookResult
	err := s.withRetry(ctx, "book", func() error {
		res = bookResult{}
		return s.app.RunInTransaction(func(txApp core.App) error {
			return s.bookTx(txApp, req, &res)
		})
	})

	monitoring.TrackAllocation("book", outcomeLabel(err))
	if err != nil {
		return err
	}

	if res.kicked {
		monitoring.TrackKick()
	}
	monitoring.SetFloatingAvailable(req.Date, res.stats.TotalFloatingAvailable-res.stats.FloatingCount)
	s.afterMutation(req.Date, "book")

	return nil
}

func (s *AllocationService) bookTx(txApp core.App, req BookRequest, res *bookResult) error {
	overrides, err := SpecialDayOverrides(txApp)
	if err != nil {
		return err
	}

	// One booking per (date, user).
	if _, err := s.findBooking(txApp, req.Date, req.UserID); err == nil {
		return ErrAlreadyBooked
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	holiday, err := s.policy.IsHoliday(req.Date, overrides)
	if err != nil {
		return err
	}
	if holiday {
		return ErrHolidayUnavailable
	}

	// Occupied seat: a designated request may kick a floating occupant out
	// of the designated zone; any other overlap refuses the seat.
	var kicked *core.Record
	occupancy, err := s.findOccupancy(txApp, req.Date, req.SeatID)
	switch {
	case err == nil:
		if req.Type == models.TypeDesignated &&
			occupancy.GetString("type") == models.TypeFloating &&
			req.SeatID <= s.cfg.DesignatedSeats {
			kicked = occupancy
		} else {
			return ErrSeatTaken
		}
	case errors.Is(err, sql.ErrNoRows):
		// seat is free
	default:
		return err
	}

	statsRec, stats, err := s.findOrInitStats(txApp, req.Date)
	if err != nil {
		return err
	}

	switch req.Type {
	case models.TypeDesignated:
		designatedDay, err := s.policy.IsDesignatedDay(req.Batch, req.Date, overrides)
		if err != nil {
			return err
		}
		if !designatedDay {
			return ErrNotYourDesignatedDay
		}
		if req.SeatID > s.cfg.DesignatedSeats {
			return ErrWrongZone
		}

		if kicked != nil {
			if err := s.evictOccupant(txApp, kicked); err != nil {
				return err
			}
			if stats.FloatingCount > 0 {
				stats.FloatingCount--
			}
			res.kicked = true
		}

		stats.DesignatedCount++

	case models.TypeFloating:
		now := s.Now()
		cutoff, err := s.policy.CutoffInstant(req.Date)
		if err != nil {
			return err
		}
		if !now.After(cutoff) {
			return ErrTooEarly
		}

		unclaimed, err := s.pool.UnclaimedDesignatedSeats(txApp, req.Date, now, overrides)
		if err != nil {
			return err
		}
		s.pool.ApplyAutoRelease(&stats, unclaimed)

		if !s.pool.FloatingZoneAllowed(req.SeatID, unclaimed) {
			return ErrWrongZone
		}
		if stats.FloatingCount >= stats.TotalFloatingAvailable {
			return fmt.Errorf("%w (pool: %d, booked: %d)",
				ErrPoolExhausted, stats.TotalFloatingAvailable, stats.FloatingCount)
		}

		stats.FloatingCount++
	}

	if err := s.writeBookingPair(txApp, req); err != nil {
		return err
	}

	WriteStats(statsRec, stats)
	if err := txApp.Save(statsRec); err != nil {
		return err
	}

	res.stats = stats
	return nil
}

// Release frees the caller's booking for a date. Admin-override bookings
// sit outside daily_stats accounting, so only the record pair goes away;
// rule-governed bookings also settle their counters. Releasing a
// designated seat permanently enlarges the floating pool for that date.
func (s *AllocationService) Release(ctx context.Context, userID, date string) error {
	if userID == "" || date == "" {
		return NewValidationError("missing user_id or date")
	}
	if _, err := s.policy.ParseDate(date); err != nil {
		return NewValidationError("%v", err)
	}

	var released string
	err := s.withRetry(ctx, "release", func() error {
		return s.app.RunInTransaction(func(txApp core.App) error {
			var err error
			released, err = s.releaseTx(txApp, userID, date)
			return err
		})
	})

	monitoring.TrackAllocation("release", outcomeLabel(err))
	if err != nil {
		return err
	}

	monitoring.TrackRelease(released)
	s.afterMutation(date, "release")

	return nil
}

func (s *AllocationService) releaseTx(txApp core.App, userID, date string) (string, error) {
	booking, err := s.findBooking(txApp, date, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNothingToRelease
	}
	if err != nil {
		return "", err
	}

	bookingType := booking.GetString("type")
	seatID := booking.GetInt("seat_id")

	if err := txApp.Delete(booking); err != nil {
		return "", err
	}
	if err := s.deleteOccupancy(txApp, date, seatID); err != nil {
		return "", err
	}

	// Manual exceptions never touch the counters.
	if bookingType == models.TypeAdminOverride {
		return bookingType, nil
	}

	statsRec, err := s.findStats(txApp, date)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrStatsMissing, date)
	}
	if err != nil {
		return "", err
	}

	stats := StatsFromRecord(statsRec)
	switch bookingType {
	case models.TypeDesignated:
		stats.DesignatedCount--
		stats.ReleasedCount++
		stats.TotalFloatingAvailable++
	case models.TypeFloating:
		stats.FloatingCount--
	default:
		return "", fmt.Errorf("cannot release a booking of unknown type %q", bookingType)
	}

	WriteStats(statsRec, stats)
	if err := txApp.Save(statsRec); err != nil {
		return "", err
	}

	return bookingType, nil
}

// AdminOverride force-books a seat for a user, bypassing every zone, day
// and time rule. A different current occupant is evicted first and the
// target's own prior booking is replaced. None of it moves the daily
// counters: overrides are manual exceptions, not rule-governed capacity.
func (s *AllocationService) AdminOverride(ctx context.Context, req OverrideRequest) error {
	if req.TargetUserID == "" || req.Date == "" || req.SeatID == 0 {
		return NewValidationError("missing required fields (including seat_id)")
	}
	if req.SeatID < 1 || req.SeatID > s.cfg.TotalSeats {
		return NewValidationError("invalid seat_id, must be between 1 and %d", s.cfg.TotalSeats)
	}
	if _, err := s.policy.ParseDate(req.Date); err != nil {
		return NewValidationError("%v", err)
	}

	err := s.withRetry(ctx, "admin_override", func() error {
		return s.app.RunInTransaction(func(txApp core.App) error {
			return s.overrideTx(txApp, req)
		})
	})

	monitoring.TrackAllocation("admin_override", outcomeLabel(err))
	if err != nil {
		return err
	}

	s.afterMutation(req.Date, "book")

	return nil
}

func (s *AllocationService) overrideTx(txApp core.App, req OverrideRequest) error {
	// Evict whoever currently holds the seat.
	occupancy, err := s.findOccupancy(txApp, req.Date, req.SeatID)
	switch {
	case err == nil:
		if occupancy.GetString("user_id") != req.TargetUserID {
			if err := s.evictOccupant(txApp, occupancy); err != nil {
				return err
			}
		} else {
			if err := txApp.Delete(occupancy); err != nil {
				return err
			}
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return err
	}

	// Replace the target's own previous booking, wherever it was.
	existing, err := s.findBooking(txApp, req.Date, req.TargetUserID)
	switch {
	case err == nil:
		prevSeat := existing.GetInt("seat_id")
		if err := txApp.Delete(existing); err != nil {
			return err
		}
		if prevSeat != req.SeatID {
			if err := s.deleteOccupancy(txApp, req.Date, prevSeat); err != nil {
				return err
			}
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return err
	}

	if err := s.writeBookingPair(txApp, BookRequest{
		UserID:   req.TargetUserID,
		UserName: req.UserName,
		Batch:    req.Batch,
		Date:     req.Date,
		Type:     models.TypeAdminOverride,
		SeatID:   req.SeatID,
	}); err != nil {
		return err
	}

	// Keep the invariant that daily_stats exists once a date saw any
	// activity, without moving its counters.
	statsRec, _, err := s.findOrInitStats(txApp, req.Date)
	if err != nil {
		return err
	}
	return txApp.Save(statsRec)
}

// --- record helpers -----------------------------------------------------

func (s *AllocationService) findBooking(txApp core.App, date, userID string) (*core.Record, error) {
	return txApp.FindFirstRecordByFilter(models.CollectionBookings,
		"date = {:date} && user_id = {:user}",
		dbx.Params{"date": date, "user": userID},
	)
}

func (s *AllocationService) findOccupancy(txApp core.App, date string, seatID int) (*core.Record, error) {
	return txApp.FindFirstRecordByFilter(models.CollectionBookedSeats,
		"date = {:date} && seat_id = {:seat}",
		dbx.Params{"date": date, "seat": seatID},
	)
}

func (s *AllocationService) findStats(txApp core.App, date string) (*core.Record, error) {
	return txApp.FindFirstRecordByFilter(models.CollectionDailyStats,
		"date = {:date}", dbx.Params{"date": date},
	)
}

// findOrInitStats loads the daily_stats record for date, creating an
// unsaved default one when the date has seen no activity yet (merge
// semantics: the first mutation for a date materialises its stats).
func (s *AllocationService) findOrInitStats(txApp core.App, date string) (*core.Record, models.DailyStats, error) {
	rec, err := s.findStats(txApp, date)
	if err == nil {
		return rec, StatsFromRecord(rec), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, models.DailyStats{}, err
	}

	collection, err := txApp.FindCollectionByNameOrId(models.CollectionDailyStats)
	if err != nil {
		return nil, models.DailyStats{}, err
	}

	stats := models.NewDailyStats(date, s.cfg.FloatingBase)
	rec = core.NewRecord(collection)
	WriteStats(rec, stats)
	return rec, stats, nil
}

// writeBookingPair creates the booking and its mirroring seat occupancy
// in the current transaction.
func (s *AllocationService) writeBookingPair(txApp core.App, req BookRequest) error {
	bookings, err := txApp.FindCollectionByNameOrId(models.CollectionBookings)
	if err != nil {
		return err
	}

	booking := core.NewRecord(bookings)
	booking.Set("user_id", req.UserID)
	booking.Set("user_name", req.UserName)
	booking.Set("batch", req.Batch)
	booking.Set("date", req.Date)
	booking.Set("type", req.Type)
	booking.Set("seat_id", req.SeatID)
	booking.Set("status", models.StatusConfirmed)
	if err := txApp.Save(booking); err != nil {
		return err
	}

	seats, err := txApp.FindCollectionByNameOrId(models.CollectionBookedSeats)
	if err != nil {
		return err
	}

	occupancy := core.NewRecord(seats)
	occupancy.Set("user_id", req.UserID)
	occupancy.Set("user_name", req.UserName)
	occupancy.Set("date", req.Date)
	occupancy.Set("type", req.Type)
	occupancy.Set("seat_id", req.SeatID)
	return txApp.Save(occupancy)
}

// evictOccupant removes an occupancy record together with its paired
// booking, keeping the two collections in lockstep.
func (s *AllocationService) evictOccupant(txApp core.App, occupancy *core.Record) error {
	booking, err := s.findBooking(txApp, occupancy.GetString("date"), occupancy.GetString("user_id"))
	if err == nil {
		if err := txApp.Delete(booking); err != nil {
			return err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return txApp.Delete(occupancy)
}

func (s *AllocationService) deleteOccupancy(txApp core.App, date string, seatID int) error {
	occupancy, err := s.findOccupancy(txApp, date, seatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return txApp.Delete(occupancy)
}

// --- transaction retry --------------------------------------------------

// withRetry re-submits a transaction a bounded number of times when the
// store reports write contention. Rule violations and validation errors
// pass through untouched; only genuine storage conflicts are retried.
func (s *AllocationService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.TxMaxRetries; attempt++ {
		if attempt > 0 {
			monitoring.TrackRetry()
			slog.Warn("storage conflict, retrying transaction",
				"operation", op, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.TxRetryDelay):
			}
		}

		err = fn()
		if err == nil || !isConflict(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, err)
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked") ||
		strings.Contains(msg, "busy")
}

// afterMutation runs the fire-and-forget side effects of a committed
// transaction: cache invalidation and the change notification. Neither
// can fail the already-committed booking. The request context may be
// canceled by now (client gone right after commit), so invalidation
// runs detached; a skipped Del would leave a stale roster cached.
func (s *AllocationService) afterMutation(date, kind string) {
	if s.query != nil {
		s.query.InvalidateRoster(context.Background(), date)
	}
	if s.notify != nil {
		s.notify.SeatUpdate(date, kind)
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsRuleViolation(err):
		return "rule_violation"
	case IsValidationError(err):
		return "validation_error"
	case errors.Is(err, ErrTxConflict):
		return "conflict"
	default:
		return "error"
	}
}
