package features

import (
	"testing"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

func day(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func fptr(f float64) *float64 { return &f }

func baseVisit(key, date string) models.Visit {
	dob := day("1990-06-15")
	art := day("2018-03-01")
	return models.Visit{
		Key:          key,
		SiteCode:     "1234",
		VisitDate:    day(date),
		NAD:          day(date).AddDate(0, 0, 30),
		Sex:          "female",
		DOB:          &dob,
		StartARTDate: &art,
	}
}

func TestCleanAdherence(t *testing.T) {
	if got := cleanAdherence("good|poor"); got == nil || *got != 1 {
		t.Fatalf("expected first segment to decide, got %v", got)
	}
	if got := cleanAdherence("fair"); got == nil || *got != 0 {
		t.Fatalf("expected fair mapped to 0, got %v", got)
	}
	if got := cleanAdherence("poor|good"); got == nil || *got != 0 {
		t.Fatalf("expected poor mapped to 0, got %v", got)
	}
	if got := cleanAdherence(""); got != nil {
		t.Fatalf("expected missing adherence nil, got %v", got)
	}
	if got := cleanAdherence("unknown"); got != nil {
		t.Fatalf("expected unrecognized adherence nil, got %v", got)
	}
}

func TestCleanStability(t *testing.T) {
	if got := cleanStability("stable"); got == nil || *got != 1 {
		t.Fatalf("expected stable = 1, got %v", got)
	}
	if got := cleanStability("unstable"); got == nil || *got != 0 {
		t.Fatalf("expected unstable = 0, got %v", got)
	}
	if got := cleanStability("not stable"); got == nil || *got != 0 {
		t.Fatalf("expected not stable = 0, got %v", got)
	}
	if got := cleanStability("  "); got != nil {
		t.Fatalf("expected blank nil, got %v", got)
	}
}

func TestBMICategory(t *testing.T) {
	if got := bmiCategory(fptr(170), fptr(70), 10); got != "Under15" {
		t.Fatalf("expected Under15 for children, got %q", got)
	}
	if got := bmiCategory(fptr(170), fptr(50), 30); got != "Underweight" {
		t.Fatalf("expected Underweight, got %q", got)
	}
	if got := bmiCategory(fptr(170), fptr(70), 30); got != "Normalweight" {
		t.Fatalf("expected Normalweight, got %q", got)
	}
	if got := bmiCategory(fptr(170), fptr(80), 30); got != "Overweight" {
		t.Fatalf("expected Overweight, got %q", got)
	}
	if got := bmiCategory(fptr(170), fptr(95), 30); got != "Obese" {
		t.Fatalf("expected Obese, got %q", got)
	}
	if got := bmiCategory(fptr(300), fptr(70), 30); got != "" {
		t.Fatalf("expected implausible height rejected, got %q", got)
	}
	if got := bmiCategory(fptr(170), fptr(10), 30); got != "" {
		t.Fatalf("expected implausible weight rejected, got %q", got)
	}
	if got := bmiCategory(nil, fptr(70), 30); got != "" {
		t.Fatalf("expected missing height to yield empty, got %q", got)
	}
}

func TestPrepVisitFeaturesDropsUnknownAge(t *testing.T) {
	withDOB := baseVisit("a", "2023-01-10")
	noDOB := baseVisit("b", "2023-01-10")
	noDOB.DOB = nil
	future := baseVisit("c", "2023-01-10")
	futureDOB := day("2030-01-01")
	future.DOB = &futureDOB

	out := PrepVisitFeatures([]models.Visit{withDOB, noDOB, future})
	if len(out) != 1 || out[0].Key != "a" {
		t.Fatalf("expected only the patient with a valid DOB, got %+v", out)
	}
	if out[0].Age < 32 || out[0].Age > 33 {
		t.Fatalf("unexpected age %v", out[0].Age)
	}
}

func TestPrepVisitFeaturesPregnancyRelevance(t *testing.T) {
	woman := baseVisit("a", "2023-01-10")
	woman.Pregnant = "yes"
	man := baseVisit("b", "2023-01-10")
	man.Sex = "male"
	man.Pregnant = "yes"

	out := PrepVisitFeatures([]models.Visit{woman, man})
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	byKey := map[string]models.VisitFeatures{}
	for _, f := range out {
		byKey[f.Key] = f
	}
	if got := byKey["a"].Pregnant; got == nil || *got != 1 {
		t.Fatalf("expected pregnancy recorded for woman of reproductive age, got %v", got)
	}
	if byKey["b"].Pregnant != nil {
		t.Fatalf("expected pregnancy nil for men, got %v", byKey["b"].Pregnant)
	}
}

func TestRegimenSwitch(t *testing.T) {
	v1 := baseVisit("a", "2023-01-10")
	v1.CurrentRegimen = "TDF/3TC/DTG"
	v2 := baseVisit("a", "2023-03-10")
	v2.CurrentRegimen = "AZT/3TC/LPV"
	v3 := baseVisit("b", "2023-01-10")
	v3.CurrentRegimen = "TDF/3TC/DTG"
	v4 := baseVisit("c", "2023-01-10")

	out := PrepVisitFeatures([]models.Visit{v1, v2, v3, v4})
	byRow := map[string]models.VisitFeatures{}
	for _, f := range out {
		byRow[f.Key+f.VisitDate.Format("2006-01-02")] = f
	}

	if got := byRow["a2023-03-10"].RegimenSwitch; got == nil || *got != 1 {
		t.Fatalf("expected switch detected for two regimens in a year, got %v", got)
	}
	if got := byRow["a2023-01-10"].RegimenSwitch; got == nil || *got != 0 {
		t.Fatalf("expected no switch at first regimen, got %v", got)
	}
	if got := byRow["b2023-01-10"].RegimenSwitch; got == nil || *got != 0 {
		t.Fatalf("expected single regimen = 0, got %v", got)
	}
	if got := byRow["c2023-01-10"].RegimenSwitch; got != nil {
		t.Fatalf("expected missing regimen data nil, got %v", got)
	}
}

func TestRegimenSwitchIgnoresOldRegimens(t *testing.T) {
	v1 := baseVisit("a", "2020-01-10")
	v1.CurrentRegimen = "AZT/3TC/LPV"
	v2 := baseVisit("a", "2023-03-10")
	v2.CurrentRegimen = "TDF/3TC/DTG"

	out := PrepVisitFeatures([]models.Visit{v1, v2})
	for _, f := range out {
		if f.VisitDate.Equal(day("2023-03-10")) {
			if f.RegimenSwitch == nil || *f.RegimenSwitch != 0 {
				t.Fatalf("expected regimen older than a year ignored, got %v", f.RegimenSwitch)
			}
		}
	}
}
