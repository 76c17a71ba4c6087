package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"deskbook/calendar"
	"deskbook/migrations"
	"deskbook/models"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed test week (UTC): Mon 2025-06-09 .. Sun 2025-06-15.
const (
	monday   = "2025-06-09"
	tuesday  = "2025-06-10"
	thursday = "2025-06-12"
	saturday = "2025-06-14"
)

// afterTuesdayCutoff is past Monday noon, so floating booking for Tuesday
// is open and the designated release deadline for Tuesday has passed.
var afterTuesdayCutoff = time.Date(2025, 6, 9, 13, 0, 0, 0, time.UTC)

// beforeThursdayCutoff is before Wednesday noon.
var beforeThursdayCutoff = time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *tests.TestApp {
	t.Helper()

	app, err := tests.NewTestApp()
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	for _, collection := range []*core.Collection{
		migrations.BookingsCollection(),
		migrations.BookedSeatsCollection(),
		migrations.DailyStatsCollection(),
		migrations.SpecialDaysCollection(),
	} {
		// The registered migrations may already have created the schema
		// during app bootstrap.
		if _, err := app.FindCollectionByNameOrId(collection.Name); err == nil {
			continue
		}
		require.NoError(t, app.Save(collection))
	}

	return app
}

func newRecordFor(t *testing.T, app core.App, collectionName string) *core.Record {
	t.Helper()

	collection, err := app.FindCollectionByNameOrId(collectionName)
	require.NoError(t, err)
	return core.NewRecord(collection)
}

func newEngine(t *testing.T, now time.Time) (*tests.TestApp, *AllocationService) {
	t.Helper()

	app := newTestStore(t)
	cfg := testConfig()
	policy := calendar.New(cfg.CutoffHour, time.UTC)
	pool := NewPoolService(cfg, policy)

	alloc := NewAllocationService(app, cfg, policy, pool, nil, nil)
	alloc.Now = func() time.Time { return now }

	return app, alloc
}

func bookReq(userID string, batch int, date, bookingType string, seatID int) BookRequest {
	return BookRequest{
		UserID:   userID,
		UserName: "Test " + userID,
		Batch:    batch,
		Date:     date,
		Type:     bookingType,
		SeatID:   seatID,
	}
}

func loadStats(t *testing.T, app core.App, date string) models.DailyStats {
	t.Helper()

	rec, err := app.FindFirstRecordByFilter(models.CollectionDailyStats,
		"date = {:date}", dbx.Params{"date": date})
	require.NoError(t, err)
	return StatsFromRecord(rec)
}

func seedSpecialDay(t *testing.T, app core.App, date, kind string) {
	t.Helper()

	rec := newRecordFor(t, app, models.CollectionSpecialDays)
	rec.Set("date", date)
	rec.Set("type", kind)
	require.NoError(t, app.Save(rec))
}

func hasBooking(app core.App, date, userID string) bool {
	_, err := app.FindFirstRecordByFilter(models.CollectionBookings,
		"date = {:date} && user_id = {:user}",
		dbx.Params{"date": date, "user": userID})
	return err == nil
}

func hasOccupancy(app core.App, date string, seatID int) bool {
	_, err := app.FindFirstRecordByFilter(models.CollectionBookedSeats,
		"date = {:date} && seat_id = {:seat}",
		dbx.Params{"date": date, "seat": seatID})
	return err == nil
}

func TestBook_Validation(t *testing.T) {
	_, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	tests := []struct {
		name string
		req  BookRequest
	}{
		{"Missing user", bookReq("", 1, tuesday, models.TypeDesignated, 5)},
		{"Missing seat", bookReq("u1", 1, tuesday, models.TypeDesignated, 0)},
		{"Seat below range", bookReq("u1", 1, tuesday, models.TypeDesignated, -3)},
		{"Seat above range", bookReq("u1", 1, tuesday, models.TypeDesignated, 51)},
		{"Bad type", bookReq("u1", 1, tuesday, "vip", 5)},
		{"Admin type rejected on the public path", bookReq("u1", 1, tuesday, models.TypeAdminOverride, 5)},
		{"Bad date", bookReq("u1", 1, "June 10", models.TypeDesignated, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := alloc.Book(ctx, tt.req)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestBook_DesignatedSuccess(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	err := alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5))
	require.NoError(t, err)

	assert.True(t, hasBooking(app, tuesday, "u1"))
	assert.True(t, hasOccupancy(app, tuesday, 5))

	stats := loadStats(t, app, tuesday)
	assert.Equal(t, 1, stats.DesignatedCount)
	assert.Equal(t, 0, stats.FloatingCount)
	assert.Equal(t, 10, stats.BaseFloatingCapacity)
}

func TestBook_OnePerUserPerDate(t *testing.T) {
	_, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))

	err := alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 6))
	assert.ErrorIs(t, err, ErrAlreadyBooked)
}

func TestBook_SeatTaken(t *testing.T) {
	_, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))

	err := alloc.Book(ctx, bookReq("u2", 1, tuesday, models.TypeDesignated, 5))
	assert.ErrorIs(t, err, ErrSeatTaken)
}

func TestBook_DesignatedRules(t *testing.T) {
	_, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	t.Run("wrong batch day", func(t *testing.T) {
		err := alloc.Book(ctx, bookReq("u2", 2, tuesday, models.TypeDesignated, 5))
		assert.ErrorIs(t, err, ErrNotYourDesignatedDay)
	})

	t.Run("designated booking outside the designated zone", func(t *testing.T) {
		err := alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 45))
		assert.ErrorIs(t, err, ErrWrongZone)
	})

	t.Run("weekend", func(t *testing.T) {
		err := alloc.Book(ctx, bookReq("u1", 1, saturday, models.TypeDesignated, 5))
		assert.ErrorIs(t, err, ErrHolidayUnavailable)
	})
}

func TestBook_HolidayOverrides(t *testing.T) {
	t.Run("weekday declared holiday refuses bookings", func(t *testing.T) {
		app, alloc := newEngine(t, afterTuesdayCutoff)
		seedSpecialDay(t, app, tuesday, calendar.OverrideHoliday)

		err := alloc.Book(context.Background(), bookReq("u1", 1, tuesday, models.TypeDesignated, 5))
		assert.ErrorIs(t, err, ErrHolidayUnavailable)
	})

	t.Run("working Saturday accepts floating bookings", func(t *testing.T) {
		// Saturday belongs to no batch, so nothing was ever designated and
		// the whole floor opens to floating bookings after the deadline.
		app, alloc := newEngine(t, time.Date(2025, 6, 13, 13, 0, 0, 0, time.UTC))
		seedSpecialDay(t, app, saturday, calendar.OverrideWorking)

		err := alloc.Book(context.Background(), bookReq("u1", 1, saturday, models.TypeFloating, 45))
		require.NoError(t, err)

		stats := loadStats(t, app, saturday)
		assert.Equal(t, 1, stats.FloatingCount)
		assert.Equal(t, 50, stats.TotalFloatingAvailable)
	})
}

func TestBook_FloatingBeforeCutoff(t *testing.T) {
	_, alloc := newEngine(t, beforeThursdayCutoff)

	err := alloc.Book(context.Background(), bookReq("u1", 1, thursday, models.TypeFloating, 45))
	assert.ErrorIs(t, err, ErrTooEarly)
}

func TestBook_FloatingAfterCutoff(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)

	// Nobody claimed any designated seat before the deadline, so all 40
	// fold into the floating pool and even the designated zone is bookable.
	err := alloc.Book(context.Background(), bookReq("u1", 2, tuesday, models.TypeFloating, 10))
	require.NoError(t, err)

	stats := loadStats(t, app, tuesday)
	assert.Equal(t, 1, stats.FloatingCount)
	assert.Equal(t, 50, stats.TotalFloatingAvailable)
	assert.Equal(t, 40, stats.AutoReleasedFromDesignated)
}

func TestBook_KickFloatingOccupant(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	// A floating user grabs seat 10 inside the designated zone.
	require.NoError(t, alloc.Book(ctx, bookReq("floater", 2, tuesday, models.TypeFloating, 10)))

	// The batch-1 owner of the day claims the same seat and wins.
	require.NoError(t, alloc.Book(ctx, bookReq("owner", 1, tuesday, models.TypeDesignated, 10)))

	assert.False(t, hasBooking(app, tuesday, "floater"))
	assert.True(t, hasBooking(app, tuesday, "owner"))
	assert.True(t, hasOccupancy(app, tuesday, 10))

	stats := loadStats(t, app, tuesday)
	assert.Equal(t, 1, stats.DesignatedCount)
	assert.Equal(t, 0, stats.FloatingCount)
}

func TestBook_FloatingDoesNotKick(t *testing.T) {
	_, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 2, tuesday, models.TypeFloating, 45)))

	err := alloc.Book(ctx, bookReq("u2", 2, tuesday, models.TypeFloating, 45))
	assert.ErrorIs(t, err, ErrSeatTaken)
}

func TestBook_PoolExhausted(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)

	// A fully consumed pool for the date; seat 45 itself is free.
	rec := newRecordFor(t, app, models.CollectionDailyStats)
	WriteStats(rec, models.DailyStats{
		Date:                       tuesday,
		FloatingCount:              50,
		BaseFloatingCapacity:       10,
		TotalFloatingAvailable:     50,
		AutoReleasedFromDesignated: 40,
	})
	require.NoError(t, app.Save(rec))

	err := alloc.Book(context.Background(), bookReq("u1", 2, tuesday, models.TypeFloating, 45))
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestBook_ConcurrentSameSeatHasOneWinner(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	const contenders = 8
	errs := make([]error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = alloc.Book(ctx, bookReq(fmt.Sprintf("u%d", i), 1, tuesday, models.TypeDesignated, 7))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, ErrSeatTaken) || errors.Is(err, ErrTxConflict),
			"loser got unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)

	seats, err := app.CountRecords(models.CollectionBookedSeats,
		dbx.HashExp{"date": tuesday, "seat_id": 7})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seats)

	stats := loadStats(t, app, tuesday)
	assert.Equal(t, 1, stats.DesignatedCount)
}

func TestBook_InvalidatesRosterAfterClientDisconnect(t *testing.T) {
	app := newTestStore(t)
	cfg := testConfig()
	policy := calendar.New(cfg.CutoffHour, time.UTC)
	pool := NewPoolService(cfg, policy)

	redisClient, mock := redismock.NewClientMock()
	query := NewQueryService(app, redisClient, cfg, policy, pool)
	alloc := NewAllocationService(app, cfg, policy, pool, nil, query)
	alloc.Now = func() time.Time { return afterTuesdayCutoff }

	mock.ExpectDel(rosterCacheKey(tuesday)).SetVal(1)

	// The caller hangs up right after the commit; the cached roster must
	// still be dropped.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_Designated(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))
	require.NoError(t, alloc.Release(ctx, "u1", tuesday))

	assert.False(t, hasBooking(app, tuesday, "u1"))
	assert.False(t, hasOccupancy(app, tuesday, 5))

	// Releasing a designated seat permanently enlarges the floating pool.
	stats := loadStats(t, app, tuesday)
	assert.Equal(t, 0, stats.DesignatedCount)
	assert.Equal(t, 1, stats.ReleasedCount)
	assert.Equal(t, 11, stats.TotalFloatingAvailable)
}

func TestRelease_Floating(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 2, tuesday, models.TypeFloating, 45)))

	before := loadStats(t, app, tuesday)
	require.NoError(t, alloc.Release(ctx, "u1", tuesday))

	stats := loadStats(t, app, tuesday)
	assert.Equal(t, before.FloatingCount-1, stats.FloatingCount)
	assert.Equal(t, before.TotalFloatingAvailable, stats.TotalFloatingAvailable)
	assert.Equal(t, 0, stats.ReleasedCount)
}

func TestRelease_NothingToRelease(t *testing.T) {
	_, alloc := newEngine(t, afterTuesdayCutoff)

	err := alloc.Release(context.Background(), "u1", tuesday)
	assert.ErrorIs(t, err, ErrNothingToRelease)

	// Releasing twice reports the same refusal, not a crash.
	err = alloc.Release(context.Background(), "u1", tuesday)
	assert.ErrorIs(t, err, ErrNothingToRelease)
}

func TestRelease_MissingStatsIsAConsistencyFailure(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))

	statsRec, err := app.FindFirstRecordByFilter(models.CollectionDailyStats,
		"date = {:date}", dbx.Params{"date": tuesday})
	require.NoError(t, err)
	require.NoError(t, app.Delete(statsRec))

	err = alloc.Release(ctx, "u1", tuesday)
	assert.ErrorIs(t, err, ErrStatsMissing)
}

func TestAdminOverride(t *testing.T) {
	t.Run("bypasses every booking rule", func(t *testing.T) {
		// Saturday, designated zone, no cutoff reached: all rules an
		// ordinary booking would trip over.
		app, alloc := newEngine(t, beforeThursdayCutoff)

		err := alloc.AdminOverride(context.Background(), OverrideRequest{
			TargetUserID: "u1",
			Date:         saturday,
			SeatID:       5,
		})
		require.NoError(t, err)

		assert.True(t, hasBooking(app, saturday, "u1"))
		assert.True(t, hasOccupancy(app, saturday, 5))

		// Overrides never move the counters.
		stats := loadStats(t, app, saturday)
		assert.Equal(t, 0, stats.DesignatedCount)
		assert.Equal(t, 0, stats.FloatingCount)
	})

	t.Run("evicts the current occupant", func(t *testing.T) {
		app, alloc := newEngine(t, afterTuesdayCutoff)
		ctx := context.Background()

		require.NoError(t, alloc.Book(ctx, bookReq("victim", 1, tuesday, models.TypeDesignated, 5)))

		err := alloc.AdminOverride(ctx, OverrideRequest{
			TargetUserID: "chosen",
			Date:         tuesday,
			SeatID:       5,
		})
		require.NoError(t, err)

		assert.False(t, hasBooking(app, tuesday, "victim"))
		assert.True(t, hasBooking(app, tuesday, "chosen"))
	})

	t.Run("moves the target off their prior seat", func(t *testing.T) {
		app, alloc := newEngine(t, afterTuesdayCutoff)
		ctx := context.Background()

		require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))

		err := alloc.AdminOverride(ctx, OverrideRequest{
			TargetUserID: "u1",
			Date:         tuesday,
			SeatID:       20,
		})
		require.NoError(t, err)

		assert.False(t, hasOccupancy(app, tuesday, 5))
		assert.True(t, hasOccupancy(app, tuesday, 20))

		rec, err := app.FindFirstRecordByFilter(models.CollectionBookings,
			"date = {:date} && user_id = {:user}",
			dbx.Params{"date": tuesday, "user": "u1"})
		require.NoError(t, err)
		assert.Equal(t, models.TypeAdminOverride, rec.GetString("type"))
	})
}

func TestRelease_AdminOverrideLeavesCountersAlone(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.AdminOverride(ctx, OverrideRequest{
		TargetUserID: "u1",
		Date:         tuesday,
		SeatID:       5,
	}))
	require.NoError(t, alloc.Release(ctx, "u1", tuesday))

	assert.False(t, hasBooking(app, tuesday, "u1"))
	assert.False(t, hasOccupancy(app, tuesday, 5))

	stats := loadStats(t, app, tuesday)
	assert.Equal(t, 0, stats.DesignatedCount)
	assert.Equal(t, 0, stats.FloatingCount)
	assert.Equal(t, 0, stats.ReleasedCount)
}

func TestBook_RecordPairStaysInLockstep(t *testing.T) {
	app, alloc := newEngine(t, afterTuesdayCutoff)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, bookReq("u1", 1, tuesday, models.TypeDesignated, 5)))
	require.NoError(t, alloc.Book(ctx, bookReq("u2", 2, tuesday, models.TypeFloating, 45)))
	require.NoError(t, alloc.Release(ctx, "u1", tuesday))

	bookings, err := app.CountRecords(models.CollectionBookings, dbx.HashExp{"date": tuesday})
	require.NoError(t, err)
	seats, err := app.CountRecords(models.CollectionBookedSeats, dbx.HashExp{"date": tuesday})
	require.NoError(t, err)
	assert.Equal(t, bookings, seats)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(errors.New("database is locked")))
	assert.True(t, isConflict(errors.New("sqlite: table is locked")))
	assert.False(t, isConflict(ErrSeatTaken))
	assert.False(t, isConflict(sql.ErrNoRows))
	assert.False(t, isConflict(nil))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "success", outcomeLabel(nil))
	assert.Equal(t, "rule_violation", outcomeLabel(ErrSeatTaken))
	assert.Equal(t, "validation_error", outcomeLabel(NewValidationError("bad input")))
	assert.Equal(t, "conflict", outcomeLabel(ErrTxConflict))
	assert.Equal(t, "error", outcomeLabel(errors.New("boom")))
}
