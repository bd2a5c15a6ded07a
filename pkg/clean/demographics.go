package clean

import (
	"sort"
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// CleanDemographics lower-cases the categorical payload and parses the two
// date columns. One row per key is kept; the warehouse occasionally repeats
// patients across extracts and the first row after sorting wins. The sort
// covers the payload too, so the winner does not depend on extract order.
func CleanDemographics(rows []models.DemographicsRow) []models.Demographics {
	out := make([]models.Demographics, 0, len(rows))
	for _, row := range rows {
		if row.PatientPKHash == "" {
			continue
		}
		out = append(out, models.Demographics{
			Key:            models.PatientKey(row.PatientPKHash, row.SiteCode),
			Sex:            lower(row.Sex),
			MaritalStatus:  lower(row.MaritalStatus),
			EducationLevel: lower(row.EducationLevel),
			Occupation:     lower(row.Occupation),
			ARTOutcome:     lower(row.ARTOutcomeDescription),
			StartARTDate:   ParseLongDate(row.StartARTDate),
			DOB:            ParseLongDate(row.DOB),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return demSignature(out[i]) < demSignature(out[j])
	})
	dedup := out[:0]
	for i, d := range out {
		if i > 0 && d.Key == out[i-1].Key {
			continue
		}
		dedup = append(dedup, d)
	}
	return dedup
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func demSignature(d models.Demographics) string {
	return strings.Join([]string{
		d.Sex, d.MaritalStatus, d.EducationLevel, d.Occupation, d.ARTOutcome,
		dayOrEmpty(d.StartARTDate), dayOrEmpty(d.DOB),
	}, "|")
}

func dayOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func demIndex(dems []models.Demographics) map[string]models.Demographics {
	index := make(map[string]models.Demographics, len(dems))
	for _, d := range dems {
		index[d.Key] = d
	}
	return index
}
