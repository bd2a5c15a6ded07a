package clean

import (
	"sort"
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// arvTreatmentTypes are the dispense categories that count as ART
// touchpoints; everything else (nutrition support, prophylaxis for
// contacts, ...) is not evidence of the patient being in HIV care.
var arvTreatmentTypes = map[string]struct{}{
	"arv":   {},
	"pmtct": {},
}

// CleanPharmacy mirrors CleanVisits for the dispensing stream: ARV/PMTCT
// filter, window filter, dedup to one row per (key, dispensedate), and
// expected-return imputation.
func CleanPharmacy(rows []models.PharmacyRow, start, end time.Time) []models.Dispense {
	if len(rows) == 0 {
		return []models.Dispense{}
	}

	kept := make([]models.PharmacyRow, 0, len(rows))
	events := make([]touchpoint, 0, len(rows))
	for _, row := range rows {
		if row.PatientPKHash == "" {
			continue
		}
		if _, ok := arvTreatmentTypes[lower(row.TreatmentType)]; !ok {
			continue
		}
		dispenseDate := ParseLongDate(row.DispenseDate)
		if dispenseDate == nil || !withinWindow(*dispenseDate, start, end) {
			continue
		}
		ret := sanitizeReturnDate(*dispenseDate, ParseLongDate(row.ExpectedReturn))
		events = append(events, touchpoint{
			key:    models.PatientKey(row.PatientPKHash, row.SiteCode),
			anchor: *dispenseDate,
			ret:    ret,
			sig:    lower(row.TreatmentType) + "|" + strings.TrimSpace(row.Drug),
			idx:    len(kept),
		})
		kept = append(kept, row)
	}

	events = imputeReturnDates(dedupTouchpoints(events))

	dispenses := make([]models.Dispense, 0, len(events))
	for _, ev := range events {
		row := kept[ev.idx]
		dispenses = append(dispenses, models.Dispense{
			Key:               ev.key,
			SiteCode:          strings.TrimSpace(row.SiteCode),
			DispenseDate:      ev.anchor,
			NAD:               ev.resolved,
			NADImputationFlag: ev.flag,
			TreatmentType:     lower(row.TreatmentType),
			Drug:              strings.TrimSpace(row.Drug),
		})
	}

	sort.Slice(dispenses, func(i, j int) bool {
		if dispenses[i].Key != dispenses[j].Key {
			return dispenses[i].Key < dispenses[j].Key
		}
		return dispenses[i].DispenseDate.Before(dispenses[j].DispenseDate)
	})
	return dispenses
}
