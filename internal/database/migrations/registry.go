package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/vertd/internal/models"
)

const endedAtIndex = "idx_conversion_records_ended_at"

// Steps is the full schema history of the history database.
func Steps() []Step {
	return []Step{
		{Version: 1, Name: "conversion records", Apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.ConversionRecord{})
		}},
		{Version: 2, Name: "index recent conversions", Apply: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.ConversionRecord{}, endedAtIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + endedAtIndex + " ON conversion_records (ended_at)").Error
		}},
	}
}
