package migration

import (
	"github.com/bwmarrin/snowflake"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// seedCommissionNames is the reference commission list. Memberships
// are filled by hand in deployments; no adapter ingests them.
var seedCommissionNames = []struct {
	externalID string
	name       string
	chamber    string
}{
	{"com-presupuesto", "Presupuesto y Hacienda", "diputados"},
	{"com-educacion", "Educación", "diputados"},
	{"com-salud", "Acción Social y Salud Pública", "diputados"},
	{"com-justicia", "Justicia", "senado"},
	{"com-ambiente", "Ambiente y Desarrollo Sustentable", "senado"},
}

func SeedCommissions(db *gorm.DB, genID *snowflake.Node) error {
	for _, entry := range seedCommissionNames {
		commission := legisdomain.Commission{
			ID:         genID.Generate(),
			ExternalID: entry.externalID,
			Name:       entry.name,
			Chamber:    entry.chamber,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).Create(&commission).Error
		if err != nil {
			return err
		}
	}
	return nil
}
