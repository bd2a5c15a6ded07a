package features

import (
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

const (
	CascadeNeverDisengaged  = "neverdisengaged"
	CascadeShortTermRestart = "shorttermrestart"
	CascadeLongTermRestart  = "longtermrestart"

	// restartHorizonMonths splits recent re-engagers from long-settled ones.
	restartHorizonMonths = 6
)

// deriveCascade stamps each row with how recently the patient re-engaged
// after an interruption. rows are one patient's timeline, ascending by
// visitdate. A row following an IIT row marks a re-engagement; the
// re-engagement date then carries forward until the next interruption.
func deriveCascade(rows []models.FeatureRow) {
	var reengaged *time.Time
	for i := range rows {
		if i > 0 && rows[i-1].IIT == 1 {
			d := rows[i].VisitDate
			reengaged = &d
		}
		if reengaged == nil {
			rows[i].CascadeStatus = CascadeNeverDisengaged
			continue
		}
		months := float64(rows[i].VisitDate.Sub(*reengaged)/(24*time.Hour)) / 30
		rows[i].MonthsSinceRestart = &months
		if months <= restartHorizonMonths {
			rows[i].CascadeStatus = CascadeShortTermRestart
		} else {
			rows[i].CascadeStatus = CascadeLongTermRestart
		}
	}
}

// lateness window sizes, in trailing touchpoints.
var latenessWindows = []int{3, 5, 10}

// deriveLateness computes the lagged lateness value and its trailing
// rolling aggregates. lastvd is the previous touchpoint's gap past the
// expected return, clamped to [0, 100]; a partial window at the start of
// history still emits a value once a single observation exists.
func deriveLateness(rows []models.FeatureRow) {
	for i := range rows {
		if i == 0 || rows[i-1].VisitGapDays == nil {
			continue
		}
		v := clampFloat(float64(*rows[i-1].VisitGapDays), 0, 100)
		rows[i].Lastvd = &v
		rows[i].Late = intPtr(boolFlag(v > 0))
		rows[i].Late14 = intPtr(boolFlag(v > 14))
		rows[i].Late30 = intPtr(boolFlag(v > 30))
	}

	for i := range rows {
		for _, w := range latenessWindows {
			lo := i - w + 1
			if lo < 0 {
				lo = 0
			}
			var sum float64
			var n int
			var late, late14, late30 int
			for j := lo; j <= i; j++ {
				if rows[j].Lastvd == nil {
					continue
				}
				sum += *rows[j].Lastvd
				late += *rows[j].Late
				late14 += *rows[j].Late14
				late30 += *rows[j].Late30
				n++
			}
			if n == 0 {
				continue
			}
			mean := sum / float64(n)
			switch w {
			case 3:
				rows[i].LatenessLast3 = &mean
				rows[i].LateLast3 = intPtr(late)
				rows[i].Late14Last3 = intPtr(late14)
				rows[i].Late30Last3 = intPtr(late30)
			case 5:
				rows[i].LatenessLast5 = &mean
				rows[i].LateLast5 = intPtr(late)
				rows[i].Late14Last5 = intPtr(late14)
				rows[i].Late30Last5 = intPtr(late30)
			case 10:
				rows[i].LatenessLast10 = &mean
				rows[i].LateLast10 = intPtr(late)
				rows[i].Late14Last10 = intPtr(late14)
				rows[i].Late30Last10 = intPtr(late30)
			}
		}
	}
}

// attachVisits joins each target row to the most recent visit on or before
// its date. Both sequences are date-sorted for one patient, so a single
// forward pointer suffices.
func attachVisits(rows []models.FeatureRow, visits []models.VisitFeatures) {
	p := -1
	for i := range rows {
		for p+1 < len(visits) && !visits[p+1].VisitDate.After(rows[i].VisitDate) {
			p++
		}
		if p >= 0 {
			v := visits[p]
			rows[i].Visit = &v
		}
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
