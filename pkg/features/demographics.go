package features

import (
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// PrepScheduleFeatures fills the appointment-calendar and care-history
// columns and canonicalizes the demographic categoricals. Operates in place
// on the (key, visitdate)-sorted feature slice.
func PrepScheduleFeatures(features []models.VisitFeatures) {
	sortByKeyDate(features)

	var firstVisitDate time.Time
	for i := range features {
		f := &features[i]
		if i == 0 || f.Key != features[i-1].Key {
			firstVisitDate = f.VisitDate
		}

		f.Month = int(f.NAD.Month())
		f.DayOfWeek = mondayIndexed(f.NAD.Weekday())
		f.IsFriday = boolFlag(f.NAD.Weekday() == time.Friday)
		f.DaysToNextAppointment = int(f.NAD.Sub(f.VisitDate) / (24 * time.Hour))

		if f.StartARTDate != nil {
			months := float64(f.VisitDate.Sub(*f.StartARTDate)/(24*time.Hour)) / daysPerMonth
			if months < 0 {
				months = 0
			}
			f.TimeOnART = months
		}
		f.TimeAtFacility = float64(f.VisitDate.Sub(firstVisitDate)/(24*time.Hour)) / daysPerMonth
		f.FirstVisit = boolFlag(f.VisitDate.Equal(firstVisitDate))

		f.MaritalStatus = cleanMaritalStatus(f.MaritalStatus, f.Age)
		f.Occupation = cleanOccupation(f.Occupation)
		f.EducationLevel = cleanEducationLevel(f.EducationLevel)
	}
}

// mondayIndexed maps Sunday-first weekdays onto Monday=0..Sunday=6.
func mondayIndexed(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func cleanMaritalStatus(status string, age float64) string {
	if age < 15 {
		return "minor"
	}
	switch {
	case strings.Contains(status, "poly"):
		return "polygamous"
	case strings.Contains(status, "single"):
		return "single"
	case strings.Contains(status, "married"), strings.Contains(status, "cohabit"):
		return "married"
	case strings.Contains(status, "divorced"), strings.Contains(status, "separated"):
		return "divorced"
	case strings.Contains(status, "widowed"):
		return "widowed"
	}
	return ""
}

func cleanOccupation(occupation string) string {
	switch occupation {
	case "farmer", "trader", "student", "driver", "employee", "none":
		return occupation
	case "", "null":
		return ""
	}
	return "other"
}

func cleanEducationLevel(level string) string {
	switch level {
	case "none", "primary", "secondary", "college":
		return level
	}
	return ""
}
