package clean

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// CleanVisits produces one deduplicated clinical touchpoint per
// (key, visitdate) with a resolved next-appointment date. Rows without a
// parseable visit date, outside the [start, end] window, or without a
// matching demographics record are dropped.
func CleanVisits(rows []models.VisitRow, dems []models.Demographics, start, end time.Time) []models.Visit {
	if len(rows) == 0 {
		return []models.Visit{}
	}
	demsByKey := demIndex(dems)

	kept := make([]models.VisitRow, 0, len(rows))
	events := make([]touchpoint, 0, len(rows))
	for _, row := range rows {
		if row.PatientPKHash == "" {
			continue
		}
		key := models.PatientKey(row.PatientPKHash, row.SiteCode)
		if _, ok := demsByKey[key]; !ok {
			continue
		}
		visitDate := ParseLongDate(row.VisitDate)
		if visitDate == nil || !withinWindow(*visitDate, start, end) {
			continue
		}
		nad := sanitizeReturnDate(*visitDate, ParseLongDate(row.NextAppointmentDate))
		events = append(events, touchpoint{
			key:    key,
			anchor: *visitDate,
			ret:    nad,
			sig:    visitSignature(row),
			idx:    len(kept),
		})
		kept = append(kept, row)
	}

	events = imputeReturnDates(dedupTouchpoints(events))

	visits := make([]models.Visit, 0, len(events))
	for _, ev := range events {
		row := kept[ev.idx]
		dem := demsByKey[ev.key]
		visits = append(visits, models.Visit{
			Key:               ev.key,
			SiteCode:          strings.TrimSpace(row.SiteCode),
			VisitDate:         ev.anchor,
			NAD:               ev.resolved,
			NADImputationFlag: ev.flag,

			VisitType:           lower(row.VisitType),
			VisitBy:             lower(row.VisitBy),
			TCAReason:           lower(row.TCAReason),
			WHOStage:            strings.TrimSpace(row.WHOStage),
			Adherence:           lower(row.Adherence),
			CurrentRegimen:      strings.TrimSpace(row.CurrentRegimen),
			StabilityAssessment: lower(row.StabilityAssessment),
			DifferentiatedCare:  lower(row.DifferentiatedCare),
			Pregnant:            lower(row.Pregnant),
			Breastfeeding:       lower(row.Breastfeeding),
			Height:              parseFloat(row.Height),
			Weight:              parseFloat(row.Weight),
			EMR:                 lower(row.EMR),

			Sex:            dem.Sex,
			MaritalStatus:  dem.MaritalStatus,
			EducationLevel: dem.EducationLevel,
			Occupation:     dem.Occupation,
			StartARTDate:   dem.StartARTDate,
			DOB:            dem.DOB,
		})
	}

	sort.Slice(visits, func(i, j int) bool {
		if visits[i].Key != visits[j].Key {
			return visits[i].Key < visits[j].Key
		}
		return visits[i].VisitDate.Before(visits[j].VisitDate)
	})
	return visits
}

// visitSignature totals the ordering over duplicate rows that tie on
// (key, visitdate, nad), so the surviving payload does not depend on
// extract order.
func visitSignature(row models.VisitRow) string {
	return strings.Join([]string{
		row.VisitType, row.VisitBy, row.TCAReason, row.WHOStage,
		row.Adherence, row.CurrentRegimen, row.StabilityAssessment,
		row.DifferentiatedCare, row.Pregnant, row.Breastfeeding,
		row.Height, row.Weight, row.EMR,
	}, "|")
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
