package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deskbook/calendar"
	"deskbook/config"
	"deskbook/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// QueryService is the read-only projection surface: booking status,
// aggregate stats, the per-date roster and the special-day overrides.
// Nothing here mutates the store; the capacity math on the status path
// runs on a snapshot copy and is not persisted back.
//
// Roster and override reads are cached in Redis with delete-on-write
// invalidation; a broken cache degrades to plain store reads.
type QueryService struct {
	app    core.App
	redis  *redis.Client
	cfg    *config.Config
	policy *calendar.Policy
	pool   *PoolService

	// Now is the clock for capacity projections; replaceable in tests.
	Now func() time.Time
}

func NewQueryService(app core.App, redisClient *redis.Client, cfg *config.Config, policy *calendar.Policy, pool *PoolService) *QueryService {
	return &QueryService{
		app:    app,
		redis:  redisClient,
		cfg:    cfg,
		policy: policy,
		pool:   pool,
		Now:    time.Now,
	}
}

const specialDaysCacheKey = "cache:special_days"

func rosterCacheKey(date string) string {
	return fmt.Sprintf("cache:roster:%s", date)
}

// BookingStatus reports whether userID holds a booking for date and, if
// not, how many floating seats are still available there.
func (s *QueryService) BookingStatus(ctx context.Context, userID, date string) (models.BookingStatus, error) {
	if userID == "" || date == "" {
		return models.BookingStatus{}, NewValidationError("missing user_id or date")
	}
	if _, err := s.policy.ParseDate(date); err != nil {
		return models.BookingStatus{}, NewValidationError("%v", err)
	}

	rec, err := s.app.FindFirstRecordByFilter(models.CollectionBookings,
		"date = {:date} && user_id = {:user}",
		dbx.Params{"date": date, "user": userID},
	)
	if err == nil {
		booking := bookingFromRecord(rec)
		return models.BookingStatus{Booked: true, Booking: &booking}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.BookingStatus{}, err
	}

	stats := models.NewDailyStats(date, s.cfg.FloatingBase)
	if statsRec, err := s.app.FindFirstRecordByFilter(models.CollectionDailyStats,
		"date = {:date}", dbx.Params{"date": date}); err == nil {
		stats = StatsFromRecord(statsRec)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.BookingStatus{}, err
	}

	overrides, err := SpecialDayOverrides(s.app)
	if err != nil {
		return models.BookingStatus{}, err
	}
	unclaimed, err := s.pool.UnclaimedDesignatedSeats(s.app, date, s.Now(), overrides)
	if err != nil {
		return models.BookingStatus{}, err
	}
	s.pool.ApplyAutoRelease(&stats, unclaimed)

	return models.BookingStatus{
		Booked:            false,
		AvailableFloating: stats.TotalFloatingAvailable - stats.FloatingCount,
	}, nil
}

// WeeklyStats returns the daily aggregates for an inclusive date range.
func (s *QueryService) WeeklyStats(ctx context.Context, startDate, endDate string) ([]models.DailyStats, error) {
	if startDate == "" || endDate == "" {
		return nil, NewValidationError("start and end date required")
	}
	if _, err := s.policy.ParseDate(startDate); err != nil {
		return nil, NewValidationError("%v", err)
	}
	if _, err := s.policy.ParseDate(endDate); err != nil {
		return nil, NewValidationError("%v", err)
	}

	records, err := s.app.FindRecordsByFilter(models.CollectionDailyStats,
		"date >= {:start} && date <= {:end}",
		"+date", 0, 0,
		dbx.Params{"start": startDate, "end": endDate},
	)
	if err != nil {
		return nil, err
	}

	stats := make([]models.DailyStats, 0, len(records))
	for _, rec := range records {
		stats = append(stats, StatsFromRecord(rec))
	}
	return stats, nil
}

// DailyRoster returns the occupied seats for a date with occupant
// identity, cached briefly because the seat map is the hottest read.
func (s *QueryService) DailyRoster(ctx context.Context, date string) ([]models.SeatOccupancy, error) {
	if _, err := s.policy.ParseDate(date); err != nil {
		return nil, NewValidationError("%v", err)
	}

	key := rosterCacheKey(date)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			var roster []models.SeatOccupancy
			if err := json.Unmarshal([]byte(cached), &roster); err == nil {
				return roster, nil
			}
		} else if err != redis.Nil {
			slog.Warn("Roster cache read failed, falling back to store", "date", date, "error", err)
		}
	}

	records, err := s.app.FindRecordsByFilter(models.CollectionBookedSeats,
		"date = {:date}", "+seat_id", 0, 0,
		dbx.Params{"date": date},
	)
	if err != nil {
		return nil, err
	}

	roster := make([]models.SeatOccupancy, 0, len(records))
	for _, rec := range records {
		roster = append(roster, models.SeatOccupancy{
			UserID:   rec.GetString("user_id"),
			UserName: rec.GetString("user_name"),
			Date:     rec.GetString("date"),
			Type:     rec.GetString("type"),
			SeatID:   rec.GetInt("seat_id"),
		})
	}

	if s.redis != nil {
		if data, err := json.Marshal(roster); err == nil {
			if err := s.redis.Set(ctx, key, data, s.cfg.RosterCacheTTL).Err(); err != nil {
				slog.Warn("Roster cache write failed", "date", date, "error", err)
			}
		}
	}

	return roster, nil
}

// SpecialDays returns all special-day overrides keyed by date.
func (s *QueryService) SpecialDays(ctx context.Context) (map[string]models.SpecialDay, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, specialDaysCacheKey).Result(); err == nil {
			var days map[string]models.SpecialDay
			if err := json.Unmarshal([]byte(cached), &days); err == nil {
				return days, nil
			}
		} else if err != redis.Nil {
			slog.Warn("Special days cache read failed, falling back to store", "error", err)
		}
	}

	records, err := s.app.FindAllRecords(models.CollectionSpecialDays)
	if err != nil {
		return nil, err
	}

	days := make(map[string]models.SpecialDay, len(records))
	for _, rec := range records {
		days[rec.GetString("date")] = models.SpecialDay{
			Date:  rec.GetString("date"),
			Type:  rec.GetString("type"),
			SetAt: rec.GetDateTime("created").Time(),
		}
	}

	if s.redis != nil {
		if data, err := json.Marshal(days); err == nil {
			if err := s.redis.Set(ctx, specialDaysCacheKey, data, s.cfg.RosterCacheTTL).Err(); err != nil {
				slog.Warn("Special days cache write failed", "error", err)
			}
		}
	}

	return days, nil
}

// InvalidateRoster drops the cached roster for a date after a mutation.
func (s *QueryService) InvalidateRoster(ctx context.Context, date string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, rosterCacheKey(date)).Err(); err != nil {
		slog.Warn("Roster cache invalidation failed", "date", date, "error", err)
	}
}

// InvalidateSpecialDays drops the cached override set.
func (s *QueryService) InvalidateSpecialDays(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, specialDaysCacheKey).Err(); err != nil {
		slog.Warn("Special days cache invalidation failed", "error", err)
	}
}

func bookingFromRecord(rec *core.Record) models.Booking {
	return models.Booking{
		UserID:    rec.GetString("user_id"),
		UserName:  rec.GetString("user_name"),
		Batch:     rec.GetInt("batch"),
		Date:      rec.GetString("date"),
		Type:      rec.GetString("type"),
		SeatID:    rec.GetInt("seat_id"),
		Status:    rec.GetString("status"),
		CreatedAt: rec.GetDateTime("created").Time(),
	}
}
