package features

import (
	"testing"

	"github.com/kenyahmis/iit-engine/pkg/clean"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

func labResult(key, date, test, category string) models.LabResult {
	return models.LabResult{
		Key:           key,
		SiteCode:      "1234",
		OrderedByDate: day(date),
		TestName:      test,
		Category:      category,
	}
}

func TestAttachLabsBackwardAsOf(t *testing.T) {
	rows := []models.FeatureRow{targetRow("a", "2023-03-01", nil, 0)}
	rows[0].Visit = &models.VisitFeatures{Age: 30, TimeOnART: 24, TimeAtFacility: 24}
	labs := []models.LabResult{
		labResult("a", "2023-02-01", clean.TestVL, clean.CategoryNonSuppressed),
		labResult("a", "2023-01-15", clean.TestCD4, clean.CategoryNoAHD),
	}
	attachLabs(rows, labs)

	if rows[0].MostRecentVL != clean.CategoryNonSuppressed {
		t.Fatalf("expected recent VL attached, got %q", rows[0].MostRecentVL)
	}
	if rows[0].MostRecentCD4 != clean.CategoryNoAHD {
		t.Fatalf("expected recent CD4 attached, got %q", rows[0].MostRecentCD4)
	}
	if rows[0].AHD != 0 {
		t.Fatalf("expected no AHD flag, got %d", rows[0].AHD)
	}
}

func TestAttachLabsIgnoresStaleResults(t *testing.T) {
	rows := []models.FeatureRow{targetRow("a", "2023-03-01", nil, 0)}
	rows[0].Visit = &models.VisitFeatures{Age: 30, TimeOnART: 24, TimeAtFacility: 24}
	labs := []models.LabResult{
		labResult("a", "2021-06-01", clean.TestVL, clean.CategoryNonSuppressed),
	}
	attachLabs(rows, labs)

	if rows[0].MostRecentVL != VLNoValid {
		t.Fatalf("expected stale VL discarded and reclassified, got %q", rows[0].MostRecentVL)
	}
}

func TestMissingVLReclassification(t *testing.T) {
	if got := reclassifyMissingVL(&models.VisitFeatures{TimeOnART: 3, TimeAtFacility: 3}); got != VLEarlyART {
		t.Fatalf("expected earlyart within six months of ART start, got %q", got)
	}
	if got := reclassifyMissingVL(&models.VisitFeatures{TimeOnART: 24, TimeAtFacility: 2}); got != VLRestart {
		t.Fatalf("expected restart for a recent transfer-in, got %q", got)
	}
	if got := reclassifyMissingVL(&models.VisitFeatures{TimeOnART: 24, TimeAtFacility: 24}); got != VLNoValid {
		t.Fatalf("expected novalidvl otherwise, got %q", got)
	}
	if got := reclassifyMissingVL(nil); got != VLNoValid {
		t.Fatalf("expected novalidvl without visit context, got %q", got)
	}
}

func TestDeriveAHD(t *testing.T) {
	if got := deriveAHD(&models.VisitFeatures{Age: 30}, clean.CategoryYesAHD); got != 1 {
		t.Fatalf("expected AHD from CD4 category, got %d", got)
	}
	if got := deriveAHD(&models.VisitFeatures{Age: 3}, ""); got != 1 {
		t.Fatalf("expected AHD for children under five, got %d", got)
	}
	if got := deriveAHD(&models.VisitFeatures{Age: 30, WHOStage: "3"}, ""); got != 1 {
		t.Fatalf("expected AHD at WHO stage 3, got %d", got)
	}
	if got := deriveAHD(&models.VisitFeatures{Age: 30, WHOStage: "4.0"}, ""); got != 1 {
		t.Fatalf("expected AHD at WHO stage 4, got %d", got)
	}
	if got := deriveAHD(&models.VisitFeatures{Age: 30, WHOStage: "2"}, clean.CategoryNoAHD); got != 0 {
		t.Fatalf("expected no AHD flag, got %d", got)
	}
	if got := deriveAHD(nil, ""); got != 0 {
		t.Fatalf("expected no AHD without any signal, got %d", got)
	}
}

func TestAttachPharmacy(t *testing.T) {
	rows := []models.FeatureRow{
		targetRow("a", "2023-01-01", nil, 0),
		targetRow("a", "2023-03-01", nil, 0),
	}
	dispenses := []models.Dispense{
		{Key: "a", DispenseDate: day("2023-01-01"), Drug: "TDF/3TC/DTG"},
		{Key: "a", DispenseDate: day("2023-02-15"), Drug: "AZT/3TC/LPV"},
		{Key: "a", DispenseDate: day("2023-06-01"), Drug: "TDF/3TC/DTG"},
	}
	attachPharmacy(rows, dispenses)

	if rows[0].LastDrug != "TDF/3TC/DTG" || *rows[0].OptimizedHIVRegimen != 1 {
		t.Fatalf("expected DTG regimen flagged optimized, got %+v", rows[0])
	}
	if rows[1].LastDrug != "AZT/3TC/LPV" || *rows[1].OptimizedHIVRegimen != 0 {
		t.Fatalf("expected most recent prior dispense, got %+v", rows[1])
	}
}

func TestAttachPharmacyNoPriorDispense(t *testing.T) {
	rows := []models.FeatureRow{targetRow("a", "2023-01-01", nil, 0)}
	dispenses := []models.Dispense{
		{Key: "a", DispenseDate: day("2023-06-01"), Drug: "TDF/3TC/DTG"},
	}
	attachPharmacy(rows, dispenses)
	if rows[0].OptimizedHIVRegimen != nil || rows[0].LastDrug != "" {
		t.Fatalf("expected no attachment before first dispense, got %+v", rows[0])
	}
}
