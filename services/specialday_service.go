package services

import (
	"context"
	"database/sql"
	"errors"

	"deskbook/calendar"
	"deskbook/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// SpecialDayService manages the holiday/working-day overrides that bend
// the default weekend/weekday classification for individual dates.
type SpecialDayService struct {
	app    core.App
	policy *calendar.Policy
	query  *QueryService
	notify *NotifyService
}

func NewSpecialDayService(app core.App, policy *calendar.Policy, query *QueryService, notify *NotifyService) *SpecialDayService {
	return &SpecialDayService{
		app:    app,
		policy: policy,
		query:  query,
		notify: notify,
	}
}

// Set upserts an override for a date.
func (s *SpecialDayService) Set(ctx context.Context, date, kind string) error {
	if kind != calendar.OverrideHoliday && kind != calendar.OverrideWorking {
		return NewValidationError("date and type (%q or %q) required",
			calendar.OverrideHoliday, calendar.OverrideWorking)
	}
	if _, err := s.policy.ParseDate(date); err != nil {
		return NewValidationError("%v", err)
	}

	rec, err := findSpecialDay(s.app, date)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		collection, err := s.app.FindCollectionByNameOrId(models.CollectionSpecialDays)
		if err != nil {
			return err
		}
		rec = core.NewRecord(collection)
		rec.Set("date", date)
	case err != nil:
		return err
	}

	rec.Set("type", kind)
	if err := s.app.Save(rec); err != nil {
		return err
	}

	s.afterChange(date, kind)
	return nil
}

// Remove deletes the override for a date, reverting it to its default
// classification. Removing a date that has no override is a no-op.
func (s *SpecialDayService) Remove(ctx context.Context, date string) error {
	if _, err := s.policy.ParseDate(date); err != nil {
		return NewValidationError("%v", err)
	}

	rec, err := findSpecialDay(s.app, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.app.Delete(rec); err != nil {
		return err
	}

	s.afterChange(date, "")
	return nil
}

// afterChange runs detached from the request context: the override is
// already saved, so the cache drop must happen even if the caller left.
func (s *SpecialDayService) afterChange(date, kind string) {
	if s.query != nil {
		s.query.InvalidateSpecialDays(context.Background())
	}
	if s.notify != nil {
		s.notify.SpecialDayUpdate(date, kind)
	}
}

func findSpecialDay(app core.App, date string) (*core.Record, error) {
	return app.FindFirstRecordByFilter(models.CollectionSpecialDays,
		"date = {:date}", dbx.Params{"date": date},
	)
}

// SpecialDayOverrides loads the full override set as the date→kind map
// the calendar rules consume. Mutating paths call this inside their own
// transaction so the holiday decision sees a consistent snapshot.
func SpecialDayOverrides(app core.App) (map[string]string, error) {
	records, err := app.FindAllRecords(models.CollectionSpecialDays)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]string, len(records))
	for _, rec := range records {
		overrides[rec.GetString("date")] = rec.GetString("type")
	}
	return overrides, nil
}
