package features

import (
	"strings"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// attachPharmacy joins each target row to the most recent dispense on or
// before its date and derives the regimen-optimization flag: dolutegravir
// (DTG) based regimens are the program's optimized first line.
func attachPharmacy(rows []models.FeatureRow, dispenses []models.Dispense) {
	p := -1
	for i := range rows {
		for p+1 < len(dispenses) && !dispenses[p+1].DispenseDate.After(rows[i].VisitDate) {
			p++
		}
		if p < 0 {
			continue
		}
		drug := dispenses[p].Drug
		rows[i].LastDrug = drug
		rows[i].OptimizedHIVRegimen = intPtr(boolFlag(strings.Contains(strings.ToLower(drug), "dtg")))
	}
}
