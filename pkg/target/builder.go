// Package target merges the cleaned clinical and pharmacy timelines into the
// labeled interruption-in-treatment table: one row per surviving touchpoint,
// labeled with whether the patient returned within 30 days of their
// next-appointment date.
package target

import (
	"sort"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

const (
	typeClinical = "clinical"
	typePharmacy = "pharmacy"
	typeBoth     = "both"

	// iitGraceDays is the window past the expected return inside which a
	// visit still counts as retained in care.
	iitGraceDays = 30
)

// artOutcomesEligible lists the ART outcome descriptions under which a
// non-returning terminal touchpoint may be labeled an interruption. Death
// and documented transfer explain non-return by a different event.
var artOutcomesEligible = map[string]struct{}{
	"active":            {},
	"loss to follow up": {},
	"lost in hmis":      {},
}

type timelineRow struct {
	key        string
	siteCode   string
	date       time.Time
	nad        time.Time
	flag       int
	rowType    string
	artOutcome string
}

// Build produces the target table from the two touchpoint streams and the
// demographics lookup. Output is sorted by (key, visitdate) and is
// deterministic for any input order.
func Build(visits []models.Visit, dispenses []models.Dispense, dems []models.Demographics) []models.TargetRow {
	outcomes := make(map[string]string, len(dems))
	for _, d := range dems {
		outcomes[d.Key] = d.ARTOutcome
	}

	rows := make([]timelineRow, 0, len(visits)+len(dispenses))
	for _, v := range visits {
		rows = append(rows, timelineRow{
			key: v.Key, siteCode: v.SiteCode, date: v.VisitDate,
			nad: v.NAD, flag: v.NADImputationFlag,
			rowType: typeClinical, artOutcome: outcomes[v.Key],
		})
	}
	for _, d := range dispenses {
		rows = append(rows, timelineRow{
			key: d.Key, siteCode: d.SiteCode, date: d.DispenseDate,
			nad: d.NAD, flag: d.NADImputationFlag,
			rowType: typePharmacy, artOutcome: outcomes[d.Key],
		})
	}
	if len(rows) == 0 {
		return []models.TargetRow{}
	}

	rows = resolveSameDay(rows)
	correctOutOfOrderNAD(rows)

	siteMax := maxDateBySite(rows)

	return label(rows, siteMax)
}

// resolveSameDay keeps one row per (key, date): non-imputed NAD first, then
// the later NAD. A date present in both streams is marked "both"; a
// pharmacy-only date is absorbed into the timeline only when a clinical row
// shares it, so surviving standalone pharmacy rows are dropped.
func resolveSameDay(rows []timelineRow) []timelineRow {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.key != b.key {
			return a.key < b.key
		}
		if !a.date.Equal(b.date) {
			return a.date.Before(b.date)
		}
		if a.flag != b.flag {
			return a.flag < b.flag
		}
		if !a.nad.Equal(b.nad) {
			return a.nad.After(b.nad)
		}
		return a.rowType < b.rowType
	})

	out := rows[:0]
	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) && rows[end].key == rows[start].key && rows[end].date.Equal(rows[start].date) {
			end++
		}
		winner := rows[start]
		if end-start > 1 {
			winner.rowType = typeBoth
		}
		if winner.rowType != typePharmacy {
			out = append(out, winner)
		}
		start = end
	}
	return out
}

// correctOutOfOrderNAD enforces that the next-appointment horizon never
// shrinks as a patient's timeline advances: a NAD below the running maximum
// is replaced by it and flagged as imputed. rows must be sorted by
// (key, date) ascending, which resolveSameDay guarantees.
func correctOutOfOrderNAD(rows []timelineRow) {
	var runningMax time.Time
	for i := range rows {
		if i == 0 || rows[i].key != rows[i-1].key {
			runningMax = rows[i].nad
			continue
		}
		if rows[i].nad.Before(runningMax) {
			rows[i].nad = runningMax
			rows[i].flag = 1
		} else {
			runningMax = rows[i].nad
		}
	}
}

func maxDateBySite(rows []timelineRow) map[string]time.Time {
	siteMax := make(map[string]time.Time)
	for _, r := range rows {
		if cur, ok := siteMax[r.siteCode]; !ok || r.date.After(cur) {
			siteMax[r.siteCode] = r.date
		}
	}
	return siteMax
}

// label computes the forward gap and IIT label per touchpoint and applies
// the censoring policy to each patient's most recent row.
func label(rows []timelineRow, siteMax map[string]time.Time) []models.TargetRow {
	out := make([]models.TargetRow, 0, len(rows))

	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) && rows[end].key == rows[start].key {
			end++
		}
		patient := rows[start:end]

		for i, r := range patient {
			row := models.TargetRow{
				Key:               r.key,
				SiteCode:          r.siteCode,
				VisitDate:         r.date,
				NAD:               r.nad,
				NADImputationFlag: r.flag,
			}

			if i+1 < len(patient) {
				next := patient[i+1].date
				gap := int(next.Sub(r.nad) / (24 * time.Hour))
				row.ActualReturnDate = &next
				row.VisitGapDays = &gap
				if gap > iitGraceDays {
					row.IIT = 1
				}
				out = append(out, row)
				continue
			}

			// Terminal touchpoint: no return observed. Unresolved until the
			// site has reported past nad+30; then it is an interruption,
			// unless a death or transfer explains the silence.
			due := r.nad.AddDate(0, 0, iitGraceDays)
			if due.After(siteMax[r.siteCode]) {
				continue
			}
			if _, ok := artOutcomesEligible[r.artOutcome]; !ok {
				continue
			}
			row.IIT = 1
			out = append(out, row)
		}

		start = end
	}

	return out
}
