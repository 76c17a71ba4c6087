package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		return app.Save(DailyStatsCollection())
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("daily_stats")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
