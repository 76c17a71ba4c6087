package services

import (
	"time"

	"deskbook/calendar"
	"deskbook/config"
	"deskbook/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// PoolService tracks per-date aggregate seat capacity: how many designated
// seats went unclaimed past the release deadline and how large the
// floating pool effectively is. It performs no writes of its own; callers
// persist the topped-up stats inside their own transaction.
type PoolService struct {
	cfg    *config.Config
	policy *calendar.Policy
}

func NewPoolService(cfg *config.Config, policy *calendar.Policy) *PoolService {
	return &PoolService{cfg: cfg, policy: policy}
}

// UnclaimedDesignatedSeats counts designated seats (1..40) that nobody
// booked for date. Meaningful only for non-holiday dates once the release
// deadline has passed; otherwise 0.
func (s *PoolService) UnclaimedDesignatedSeats(app core.App, date string, now time.Time, overrides map[string]string) (int, error) {
	holiday, err := s.policy.IsHoliday(date, overrides)
	if err != nil {
		return 0, err
	}
	if holiday {
		return 0, nil
	}

	deadline, err := s.policy.ReleaseDeadline(date)
	if err != nil {
		return 0, err
	}
	if !now.After(deadline) {
		return 0, nil
	}

	booked, err := app.CountRecords(models.CollectionBookedSeats,
		dbx.HashExp{"date": date, "type": models.TypeDesignated},
		dbx.NewExp("seat_id <= {:max}", dbx.Params{"max": s.cfg.DesignatedSeats}),
	)
	if err != nil {
		return 0, err
	}

	unclaimed := s.cfg.DesignatedSeats - int(booked)
	if unclaimed < 0 {
		unclaimed = 0
	}
	return unclaimed, nil
}

// ApplyAutoRelease folds newly unclaimed designated seats into the
// floating pool on the stats snapshot. Seats already converted, either by
// an explicit release or by an earlier auto-release, are recognised
// through the base/released bookkeeping and never added twice, so the
// top-up is idempotent. Returns true when the snapshot changed and needs
// to be persisted by the surrounding transaction.
func (s *PoolService) ApplyAutoRelease(stats *models.DailyStats, unclaimed int) bool {
	if unclaimed <= 0 {
		return false
	}

	alreadyCounted := stats.TotalFloatingAvailable - stats.BaseFloatingCapacity - stats.ReleasedCount
	if alreadyCounted < 0 {
		alreadyCounted = 0
	}
	if alreadyCounted >= unclaimed {
		return false
	}

	stats.TotalFloatingAvailable += unclaimed - alreadyCounted
	stats.AutoReleasedFromDesignated = unclaimed
	return true
}

// FloatingZoneAllowed reports whether seatID is a legal target for a
// floating booking. While no designated seat has been auto-released the
// buffer zone (41..50) is the only legal target; once auto-release has
// happened the whole floor opens up.
func (s *PoolService) FloatingZoneAllowed(seatID, unclaimed int) bool {
	if unclaimed == 0 {
		return seatID > s.cfg.DesignatedSeats && seatID <= s.cfg.TotalSeats
	}
	return seatID >= 1 && seatID <= s.cfg.TotalSeats
}

// StatsFromRecord converts a daily_stats record into its snapshot form.
func StatsFromRecord(rec *core.Record) models.DailyStats {
	return models.DailyStats{
		Date:                       rec.GetString("date"),
		DesignatedCount:            rec.GetInt("designated_count"),
		FloatingCount:              rec.GetInt("floating_count"),
		ReleasedCount:              rec.GetInt("released_count"),
		BaseFloatingCapacity:       rec.GetInt("base_floating_capacity"),
		TotalFloatingAvailable:     rec.GetInt("total_floating_available"),
		AutoReleasedFromDesignated: rec.GetInt("auto_released_from_designated"),
	}
}

// WriteStats copies a stats snapshot back onto its record.
func WriteStats(rec *core.Record, stats models.DailyStats) {
	rec.Set("date", stats.Date)
	rec.Set("designated_count", stats.DesignatedCount)
	rec.Set("floating_count", stats.FloatingCount)
	rec.Set("released_count", stats.ReleasedCount)
	rec.Set("base_floating_capacity", stats.BaseFloatingCapacity)
	rec.Set("total_floating_available", stats.TotalFloatingAvailable)
	rec.Set("auto_released_from_designated", stats.AutoReleasedFromDesignated)
}
