package features

import (
	"strconv"
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/clean"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

const (
	// maxLabAgeDays bounds how far back a lab result stays clinically
	// relevant to a touchpoint.
	maxLabAgeDays = 365

	VLEarlyART   = "earlyart"
	VLRestart    = "restart"
	VLNoValid    = "novalidvl"
	ahdAgeYears  = 5
)

// attachLabs joins each target row to its most recent VL and CD4 category
// observed on or before the row's date and no more than a year old, then
// derives the advanced-HIV-disease flag. A missing viral load is
// re-expressed through time on treatment: too early for a result, recently
// transferred in, or genuinely unmonitored.
func attachLabs(rows []models.FeatureRow, labs []models.LabResult) {
	var vls, cd4s []models.LabResult
	for _, l := range labs {
		switch l.TestName {
		case clean.TestVL:
			vls = append(vls, l)
		case clean.TestCD4:
			cd4s = append(cd4s, l)
		}
	}

	vp, cp := -1, -1
	for i := range rows {
		row := &rows[i]

		for vp+1 < len(vls) && !vls[vp+1].OrderedByDate.After(row.VisitDate) {
			vp++
		}
		if vp >= 0 {
			ageDays := int(row.VisitDate.Sub(vls[vp].OrderedByDate) / (24 * time.Hour))
			if ageDays >= 0 && ageDays <= maxLabAgeDays {
				row.MostRecentVL = vls[vp].Category
			}
		}

		for cp+1 < len(cd4s) && !cd4s[cp+1].OrderedByDate.After(row.VisitDate) {
			cp++
		}
		if cp >= 0 {
			ageDays := int(row.VisitDate.Sub(cd4s[cp].OrderedByDate) / (24 * time.Hour))
			if ageDays >= 0 && ageDays <= maxLabAgeDays {
				row.MostRecentCD4 = cd4s[cp].Category
			}
		}

		if row.MostRecentVL == "" {
			row.MostRecentVL = reclassifyMissingVL(row.Visit)
		}
		row.AHD = deriveAHD(row.Visit, row.MostRecentCD4)
	}
}

// reclassifyMissingVL explains an absent viral load by treatment history:
// within six months of ART start no result is expected yet; longer on ART
// but new at this facility suggests a documented restart elsewhere;
// otherwise the patient has no valid result.
func reclassifyMissingVL(v *models.VisitFeatures) string {
	if v == nil {
		return VLNoValid
	}
	if v.TimeOnART <= 6 {
		return VLEarlyART
	}
	if v.TimeAtFacility <= 6 {
		return VLRestart
	}
	return VLNoValid
}

func deriveAHD(v *models.VisitFeatures, cd4Category string) int {
	if cd4Category == clean.CategoryYesAHD {
		return 1
	}
	if v == nil {
		return 0
	}
	if v.Age < ahdAgeYears {
		return 1
	}
	if stage, ok := parseWHOStage(v.WHOStage); ok && (stage == 3 || stage == 4) {
		return 1
	}
	return 0
}

func parseWHOStage(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
