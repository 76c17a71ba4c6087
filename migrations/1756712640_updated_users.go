package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Extends the builtin users auth collection with the batch assignment
// and the admin flag the allocation rules check.
func init() {
	m.Register(func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection.Fields.Add(
			&core.NumberField{Name: "batch", OnlyInt: true},
			&core.BoolField{Name: "is_admin"},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection.Fields.RemoveByName("batch")
		collection.Fields.RemoveByName("is_admin")

		return app.Save(collection)
	})
}
