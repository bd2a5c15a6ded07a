package features

import (
	"testing"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

func targetRow(key, visitDate string, gap *int, iit int) models.FeatureRow {
	row := models.FeatureRow{}
	row.Key = key
	row.SiteCode = "1234"
	row.VisitDate = day(visitDate)
	row.NAD = day(visitDate).AddDate(0, 0, 30)
	row.VisitGapDays = gap
	row.IIT = iit
	return row
}

func TestDeriveCascade(t *testing.T) {
	gap := func(d int) *int { return &d }
	rows := []models.FeatureRow{
		targetRow("a", "2022-01-01", gap(40), 1),
		targetRow("a", "2022-03-15", gap(5), 0),
		targetRow("a", "2022-05-01", gap(10), 0),
		targetRow("a", "2023-01-10", nil, 0),
	}
	deriveCascade(rows)

	if rows[0].CascadeStatus != CascadeNeverDisengaged {
		t.Fatalf("expected neverdisengaged before any interruption, got %q", rows[0].CascadeStatus)
	}
	if rows[1].CascadeStatus != CascadeShortTermRestart {
		t.Fatalf("expected shorttermrestart at the re-engagement visit, got %q", rows[1].CascadeStatus)
	}
	if rows[1].MonthsSinceRestart == nil || *rows[1].MonthsSinceRestart != 0 {
		t.Fatalf("expected zero months at re-engagement, got %v", rows[1].MonthsSinceRestart)
	}
	if rows[2].CascadeStatus != CascadeShortTermRestart {
		t.Fatalf("expected shorttermrestart within six months, got %q", rows[2].CascadeStatus)
	}
	if rows[3].CascadeStatus != CascadeLongTermRestart {
		t.Fatalf("expected longtermrestart past six months, got %q", rows[3].CascadeStatus)
	}
}

func TestDeriveCascadeResetsOnNewInterruption(t *testing.T) {
	gap := func(d int) *int { return &d }
	rows := []models.FeatureRow{
		targetRow("a", "2022-01-01", gap(40), 1),
		targetRow("a", "2022-03-15", gap(50), 1),
		targetRow("a", "2023-06-01", gap(5), 0),
	}
	deriveCascade(rows)
	if rows[2].CascadeStatus != CascadeShortTermRestart {
		t.Fatalf("expected restart clock reset by the second interruption, got %q", rows[2].CascadeStatus)
	}
	if *rows[2].MonthsSinceRestart != 0 {
		t.Fatalf("expected zero months since the latest restart, got %v", *rows[2].MonthsSinceRestart)
	}
}

func TestDeriveLatenessFlags(t *testing.T) {
	gap := func(d int) *int { return &d }
	rows := []models.FeatureRow{
		targetRow("a", "2022-01-01", gap(20), 0),
		targetRow("a", "2022-02-15", gap(-3), 0),
		targetRow("a", "2022-03-20", gap(250), 1),
		targetRow("a", "2022-12-01", nil, 0),
	}
	deriveLateness(rows)

	if rows[0].Lastvd != nil {
		t.Fatalf("expected no lagged lateness at first touchpoint, got %v", rows[0].Lastvd)
	}

	if *rows[1].Lastvd != 20 {
		t.Fatalf("expected lastvd 20, got %v", *rows[1].Lastvd)
	}
	if *rows[1].Late != 1 || *rows[1].Late14 != 1 || *rows[1].Late30 != 0 {
		t.Fatalf("expected late/late14 set and late30 clear at 20 days, got %d/%d/%d",
			*rows[1].Late, *rows[1].Late14, *rows[1].Late30)
	}

	// Early returns clamp at 0, extreme lateness clamps at 100.
	if *rows[2].Lastvd != 0 {
		t.Fatalf("expected negative gap clamped to 0, got %v", *rows[2].Lastvd)
	}
	if *rows[3].Lastvd != 100 {
		t.Fatalf("expected extreme gap clamped to 100, got %v", *rows[3].Lastvd)
	}
}

func TestDeriveLatenessWindows(t *testing.T) {
	gap := func(d int) *int { return &d }
	rows := []models.FeatureRow{
		targetRow("a", "2022-01-01", gap(10), 0),
		targetRow("a", "2022-02-15", gap(40), 1),
		targetRow("a", "2022-04-20", gap(0), 0),
		targetRow("a", "2022-05-25", nil, 0),
	}
	deriveLateness(rows)

	// Row 1 has the only observation so far: its own lastvd of 10.
	if rows[1].LatenessLast3 == nil || *rows[1].LatenessLast3 != 10 {
		t.Fatalf("expected single-observation mean 10, got %v", rows[1].LatenessLast3)
	}

	// Row 3 sees lastvd values 10, 40, 0 in its 3-window.
	if got := *rows[3].LatenessLast3; got < 16.6 || got > 16.7 {
		t.Fatalf("expected mean ~16.67, got %v", got)
	}
	if *rows[3].LateLast3 != 2 {
		t.Fatalf("expected 2 late visits in window, got %d", *rows[3].LateLast3)
	}
	if *rows[3].Late30Last3 != 1 {
		t.Fatalf("expected 1 very late visit in window, got %d", *rows[3].Late30Last3)
	}
	if *rows[3].LatenessLast10 != *rows[3].LatenessLast3 {
		t.Fatalf("expected identical means while history is short")
	}
}

func TestDeriveLatenessEmptyWindow(t *testing.T) {
	rows := []models.FeatureRow{targetRow("a", "2022-01-01", nil, 0)}
	deriveLateness(rows)
	if rows[0].LatenessLast3 != nil || rows[0].LateLast5 != nil {
		t.Fatalf("expected no aggregates without observations, got %+v", rows[0])
	}
}

func TestAttachVisitsBackwardAsOf(t *testing.T) {
	rows := []models.FeatureRow{
		targetRow("a", "2022-01-01", nil, 0),
		targetRow("a", "2022-03-01", nil, 0),
	}
	visits := []models.VisitFeatures{
		{Key: "a", VisitDate: day("2022-01-01"), Age: 30},
		{Key: "a", VisitDate: day("2022-02-15"), Age: 31},
		{Key: "a", VisitDate: day("2022-06-01"), Age: 32},
	}
	attachVisits(rows, visits)

	if rows[0].Visit == nil || rows[0].Visit.Age != 30 {
		t.Fatalf("expected same-day visit attached, got %+v", rows[0].Visit)
	}
	if rows[1].Visit == nil || rows[1].Visit.Age != 31 {
		t.Fatalf("expected most recent prior visit attached, got %+v", rows[1].Visit)
	}
}
