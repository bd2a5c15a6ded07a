package target

import (
	"reflect"
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

func visit(key, date, nad string, flag int) models.Visit {
	return models.Visit{
		Key:               key,
		SiteCode:          "1234",
		VisitDate:         day(date),
		NAD:               day(nad),
		NADImputationFlag: flag,
	}
}

func dispense(key, date, nad string, flag int) models.Dispense {
	return models.Dispense{
		Key:               key,
		SiteCode:          "1234",
		DispenseDate:      day(date),
		NAD:               day(nad),
		NADImputationFlag: flag,
	}
}

func activePatient(key string) models.Demographics {
	return models.Demographics{Key: key, ARTOutcome: "active"}
}

func TestBuildLabelsReturnWithinGrace(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-01-31", 0),
		visit("a", "2022-02-05", "2022-03-07", 0),
	}
	out := Build(visits, nil, []models.Demographics{activePatient("a")})
	if len(out) != 1 {
		t.Fatalf("expected 1 labeled row (terminal unresolved), got %d", len(out))
	}
	row := out[0]
	if row.ActualReturnDate == nil || !row.ActualReturnDate.Equal(day("2022-02-05")) {
		t.Fatalf("unexpected return date %v", row.ActualReturnDate)
	}
	if row.VisitGapDays == nil || *row.VisitGapDays != 5 {
		t.Fatalf("expected gap 5, got %v", row.VisitGapDays)
	}
	if row.IIT != 0 {
		t.Fatalf("expected retained label, got IIT=%d", row.IIT)
	}
}

func TestBuildLabelsLateReturnAsInterruption(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-01-31", 0),
		visit("a", "2022-03-15", "2022-04-14", 0),
	}
	out := Build(visits, nil, []models.Demographics{activePatient("a")})
	if len(out) != 1 {
		t.Fatalf("expected 1 labeled row, got %d", len(out))
	}
	if gap := *out[0].VisitGapDays; gap != 43 {
		t.Fatalf("expected gap 43, got %d", gap)
	}
	if out[0].IIT != 1 {
		t.Fatalf("expected interruption label, got IIT=%d", out[0].IIT)
	}
}

func TestBuildResolvesSameDayCollision(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-02-10", 0),
		visit("a", "2022-06-01", "2022-07-01", 0),
	}
	dispenses := []models.Dispense{
		dispense("a", "2022-01-01", "2022-01-20", 1),
	}
	out := Build(visits, dispenses, []models.Demographics{activePatient("a")})
	if len(out) != 1 {
		t.Fatalf("expected 1 labeled row, got %d", len(out))
	}
	// Non-imputed clinical NAD wins the collision.
	if !out[0].NAD.Equal(day("2022-02-10")) || out[0].NADImputationFlag != 0 {
		t.Fatalf("unexpected collision winner %+v", out[0])
	}
}

func TestBuildDropsStandalonePharmacyRows(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-01-31", 0),
		visit("a", "2022-06-01", "2022-07-01", 0),
	}
	dispenses := []models.Dispense{
		dispense("a", "2022-03-01", "2022-03-31", 0),
	}
	out := Build(visits, dispenses, []models.Demographics{activePatient("a")})
	for _, row := range out {
		if row.VisitDate.Equal(day("2022-03-01")) {
			t.Fatalf("expected standalone pharmacy row dropped, got %+v", row)
		}
	}
	// The dropped dispense does not close the gap either: the return is the
	// next clinical visit.
	if len(out) == 0 || out[0].ActualReturnDate == nil || !out[0].ActualReturnDate.Equal(day("2022-06-01")) {
		t.Fatalf("expected next clinical visit as the return, got %+v", out)
	}
	if out[0].IIT != 1 {
		t.Fatalf("expected gap past grace labeled as interruption, got %+v", out[0])
	}
}

func TestBuildCorrectsShrinkingNAD(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-03-01", 0),
		visit("a", "2022-02-01", "2022-02-15", 0),
		visit("a", "2022-08-01", "2022-09-01", 0),
	}
	out := Build(visits, nil, []models.Demographics{activePatient("a")})
	var second models.TargetRow
	for _, row := range out {
		if row.VisitDate.Equal(day("2022-02-01")) {
			second = row
		}
	}
	if !second.NAD.Equal(day("2022-03-01")) || second.NADImputationFlag != 1 {
		t.Fatalf("expected NAD raised to running max and flagged, got %+v", second)
	}
}

func TestBuildCensorsUnresolvedTerminalRow(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-06-01", "2022-07-01", 0),
	}
	out := Build(visits, nil, []models.Demographics{activePatient("a")})
	if len(out) != 0 {
		t.Fatalf("expected unresolved single visit dropped, got %+v", out)
	}
}

func TestBuildLabelsResolvedTerminalRow(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-01-31", 0),
		// Another patient keeps the site reporting long past a's due date.
		visit("b", "2022-12-01", "2022-12-31", 0),
	}
	out := Build(visits, nil, []models.Demographics{activePatient("a"), activePatient("b")})
	var found bool
	for _, row := range out {
		if row.Key == "a" {
			found = true
			if row.IIT != 1 || row.ActualReturnDate != nil {
				t.Fatalf("expected silent terminal row labeled IIT, got %+v", row)
			}
		}
	}
	if !found {
		t.Fatal("expected patient a's terminal row to be labeled")
	}
}

func TestBuildExcludesExplainedOutcomes(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-01-31", 0),
		visit("b", "2022-12-01", "2022-12-31", 0),
	}
	dems := []models.Demographics{
		{Key: "a", ARTOutcome: "died"},
		activePatient("b"),
	}
	out := Build(visits, nil, dems)
	for _, row := range out {
		if row.Key == "a" {
			t.Fatalf("expected deceased patient's terminal row dropped, got %+v", row)
		}
	}
}

func TestBuildIsDeterministicUnderInputOrder(t *testing.T) {
	visits := []models.Visit{
		visit("a", "2022-01-01", "2022-01-31", 0),
		visit("a", "2022-02-05", "2022-03-07", 0),
		visit("b", "2022-01-15", "2022-02-14", 0),
		visit("b", "2022-04-01", "2022-05-01", 0),
	}
	dispenses := []models.Dispense{
		dispense("a", "2022-01-01", "2022-01-25", 1),
		dispense("b", "2022-03-01", "2022-03-31", 0),
	}
	dems := []models.Demographics{activePatient("a"), activePatient("b")}

	forward := Build(visits, dispenses, dems)

	reversedVisits := make([]models.Visit, len(visits))
	for i, v := range visits {
		reversedVisits[len(visits)-1-i] = v
	}
	reversedDispenses := make([]models.Dispense, len(dispenses))
	for i, d := range dispenses {
		reversedDispenses[len(dispenses)-1-i] = d
	}
	backward := Build(reversedVisits, reversedDispenses, dems)

	if !reflect.DeepEqual(forward, backward) {
		t.Fatalf("expected order-independent output:\n%+v\nvs\n%+v", forward, backward)
	}
}
