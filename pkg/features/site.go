package features

import (
	"sort"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// siteRollingMonths is how many calendar months of facility history feed
// the rolling site aggregates.
const siteRollingMonths = 6

// noShowThresholdDays mirrors the interruption grace period: a patient
// more than 30 days late at their previous touchpoint counts as a no-show
// in the facility aggregates.
const noShowThresholdDays = 30

type siteMonthStats struct {
	month       int // year*12 + month, so adjacent months differ by 1
	count       int
	sumDaysLate float64
	noShows     int
}

// attachSiteFeatures derives facility-level congestion signals: for each
// row, the visit-count-weighted mean days late and no-show rate across the
// site's six most recent earlier months. A row's own month never contributes
// to its aggregates, so the features are known before the visit happens.
func attachSiteFeatures(rows []models.FeatureRow) {
	stats := make(map[string][]siteMonthStats)
	for i := range rows {
		if rows[i].Lastvd == nil {
			continue
		}
		site := rows[i].SiteCode
		m := monthIndex(rows[i])
		entries := stats[site]
		pos := -1
		for j := range entries {
			if entries[j].month == m {
				pos = j
				break
			}
		}
		if pos < 0 {
			entries = append(entries, siteMonthStats{month: m})
			pos = len(entries) - 1
		}
		entries[pos].count++
		entries[pos].sumDaysLate += *rows[i].Lastvd
		if *rows[i].Lastvd > noShowThresholdDays {
			entries[pos].noShows++
		}
		stats[site] = entries
	}

	for site := range stats {
		entries := stats[site]
		sort.Slice(entries, func(i, j int) bool { return entries[i].month < entries[j].month })
		stats[site] = entries
	}

	for i := range rows {
		entries := stats[rows[i].SiteCode]
		if len(entries) == 0 {
			continue
		}
		noShow, daysLate, ok := rollUpThrough(entries, monthIndex(rows[i])-1)
		if !ok {
			continue
		}
		rows[i].RollingWeightedNoShow = &noShow
		rows[i].RollingWeightedDaysLate = &daysLate
	}
}

// rollUpThrough aggregates the trailing window of month entries whose
// month is at most lastMonth, weighting each month by its visit count.
func rollUpThrough(entries []siteMonthStats, lastMonth int) (noShowRate, meanDaysLate float64, ok bool) {
	end := sort.Search(len(entries), func(i int) bool { return entries[i].month > lastMonth })
	if end == 0 {
		return 0, 0, false
	}
	start := end - siteRollingMonths
	if start < 0 {
		start = 0
	}
	var count, noShows int
	var sumDaysLate float64
	for _, e := range entries[start:end] {
		count += e.count
		noShows += e.noShows
		sumDaysLate += e.sumDaysLate
	}
	if count == 0 {
		return 0, 0, false
	}
	return float64(noShows) / float64(count), sumDaysLate / float64(count), true
}

func monthIndex(row models.FeatureRow) int {
	return row.VisitDate.Year()*12 + int(row.VisitDate.Month()) - 1
}
