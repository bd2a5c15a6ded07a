// Package features derives the model-ready columns: per-visit clinical
// cleaning, schedule/demographic canonicalization, and the strictly
// backward-looking temporal attachments over the target timeline.
package features

import (
	"sort"
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

const daysPerMonth = 30.44

// PrepVisitFeatures converts cleaned visits into the derived per-visit
// feature block. Rows without a computable non-negative age are dropped.
func PrepVisitFeatures(visits []models.Visit) []models.VisitFeatures {
	out := make([]models.VisitFeatures, 0, len(visits))
	for _, v := range visits {
		age, ok := ageAt(v.DOB, v.VisitDate)
		if !ok {
			continue
		}
		sex := 0
		if v.Sex == "male" {
			sex = 1
		}

		f := models.VisitFeatures{
			Key:               v.Key,
			SiteCode:          v.SiteCode,
			VisitDate:         v.VisitDate,
			NAD:               v.NAD,
			NADImputationFlag: v.NADImputationFlag,

			Unscheduled:         boolFlag(strings.Contains(v.VisitType, "unscheduled")),
			Adherence:           cleanAdherence(v.Adherence),
			WHOStage:            v.WHOStage,
			StabilityAssessment: cleanStability(v.StabilityAssessment),
			DifferentiatedCare:  cleanDifferentiatedCare(v.DifferentiatedCare),
			Sex:                 sex,
			Age:                 age,
			BMI:                 bmiCategory(v.Height, v.Weight, age),
			MaritalStatus:       v.MaritalStatus,
			EducationLevel:      v.EducationLevel,
			Occupation:          v.Occupation,
			EMR:                 v.EMR,
			VisitBy:             v.VisitBy,
			TCAReason:           v.TCAReason,
			StartARTDate:        v.StartARTDate,
		}

		pregnancyAge := age >= 15 && age <= 49 && sex == 0
		f.Pregnant = yesNoFlag(v.Pregnant, pregnancyAge)
		f.PregnantMissing = boolFlag(f.Pregnant == nil && sex == 0 && pregnancyAge)
		f.Breastfeeding = yesNoFlag(v.Breastfeeding, pregnancyAge)
		f.BreastfeedingMissing = boolFlag(f.Breastfeeding == nil && sex == 0 && pregnancyAge)

		out = append(out, f)
	}

	attachRegimenSwitch(out, visits)
	return out
}

func ageAt(dob *time.Time, on time.Time) (float64, bool) {
	if dob == nil {
		return 0, false
	}
	age := float64(on.Sub(*dob)/(24*time.Hour)) / 365.25
	if age < 0 {
		return 0, false
	}
	return age, true
}

// cleanAdherence keeps only the first pipe-delimited assessment and maps
// good to 1, fair or poor to 0.
func cleanAdherence(raw string) *int {
	seg := strings.TrimSpace(strings.SplitN(raw, "|", 2)[0])
	switch seg {
	case "good":
		return intPtr(1)
	case "fair", "poor":
		return intPtr(0)
	}
	return nil
}

func cleanStability(raw string) *int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if strings.Contains(raw, "un") || strings.Contains(raw, "not") {
		return intPtr(0)
	}
	return intPtr(1)
}

// cleanDifferentiatedCare collapses the peer-led and HCW-led community ART
// distribution variants into one category.
func cleanDifferentiatedCare(raw string) string {
	if strings.Contains(raw, "community art distribution") {
		return "community art distribution"
	}
	return raw
}

func yesNoFlag(raw string, relevant bool) *int {
	if !relevant {
		return nil
	}
	switch {
	case strings.Contains(raw, "yes"):
		return intPtr(1)
	case strings.Contains(raw, "no"):
		return intPtr(0)
	}
	return nil
}

const (
	minValidHeightCm = 50
	maxValidHeightCm = 250
	minValidWeightKg = 20
	maxValidWeightKg = 200
)

func bmiCategory(height, weight *float64, age float64) string {
	if age < 15 {
		return "Under15"
	}
	if height == nil || weight == nil {
		return ""
	}
	if *height < minValidHeightCm || *height > maxValidHeightCm {
		return ""
	}
	if *weight < minValidWeightKg || *weight > maxValidWeightKg {
		return ""
	}
	bmi := *weight / ((*height / 100) * (*height / 100))
	switch {
	case bmi < 18.5:
		return "Underweight"
	case bmi < 25:
		return "Normalweight"
	case bmi < 30:
		return "Overweight"
	default:
		return "Obese"
	}
}

// attachRegimenSwitch counts distinct non-missing regimens observed for the
// patient in the trailing 365 days up to each visit: no regimen data yields
// a missing flag, one regimen means no switch, more than one means a switch.
// The feature slice and visit slice are aligned by (key, visitdate); both
// arrive sorted from the clean stage, and dropped rows are skipped by key
// and date matching.
func attachRegimenSwitch(features []models.VisitFeatures, visits []models.Visit) {
	regimens := make(map[string][]models.Visit, 64)
	for _, v := range visits {
		regimens[v.Key] = append(regimens[v.Key], v)
	}

	for i := range features {
		f := &features[i]
		timeline := regimens[f.Key]
		distinct := map[string]struct{}{}
		cutoff := f.VisitDate.AddDate(0, 0, -365)
		for _, v := range timeline {
			if v.VisitDate.After(f.VisitDate) || v.VisitDate.Before(cutoff) {
				continue
			}
			if reg := strings.TrimSpace(v.CurrentRegimen); reg != "" {
				distinct[reg] = struct{}{}
			}
		}
		switch len(distinct) {
		case 0:
			f.RegimenSwitch = nil
		case 1:
			f.RegimenSwitch = intPtr(0)
		default:
			f.RegimenSwitch = intPtr(1)
		}
	}
}

func intPtr(v int) *int { return &v }

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortByKeyDate(features []models.VisitFeatures) {
	sort.Slice(features, func(i, j int) bool {
		if features[i].Key != features[j].Key {
			return features[i].Key < features[j].Key
		}
		return features[i].VisitDate.Before(features[j].VisitDate)
	})
}
