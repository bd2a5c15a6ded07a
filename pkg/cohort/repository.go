package cohort

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// Repository reads the four raw warehouse streams. Every value comes back
// as a string; parsing and validation belong to the clean package. Column
// matching is case-insensitive because warehouse procedures are not
// consistent about casing.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Each stream has a cohort-wide procedure and a single-patient variant
// keyed by (hashed patient identifier, site code).
const (
	procVisits              = "CALL sp_iitml_get_visits()"
	procPatientVisits       = "CALL sp_iitml_get_patient_visits(?, ?)"
	procPharmacy            = "CALL sp_iitml_get_pharmacy()"
	procPatientPharmacy     = "CALL sp_iitml_get_patient_pharmacy(?, ?)"
	procLab                 = "CALL sp_iitml_get_lab()"
	procPatientLab          = "CALL sp_iitml_get_patient_lab(?, ?)"
	procDemographics        = "CALL sp_iitml_get_demographics()"
	procPatientDemographics = "CALL sp_iitml_get_patient_demographics(?, ?)"
)

func (r *Repository) FetchVisits(ctx context.Context, patientPKHash, siteCode string) ([]models.VisitRow, error) {
	records, err := r.fetch(ctx, "visits", procVisits, procPatientVisits, patientPKHash, siteCode,
		[]string{"patientpkhash", "sitecode", "visitdate", "nextappointmentdate"})
	if err != nil {
		return nil, err
	}
	rows := make([]models.VisitRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.VisitRow{
			PatientPKHash:       rec["patientpkhash"],
			SiteCode:            rec["sitecode"],
			VisitDate:           rec["visitdate"],
			NextAppointmentDate: rec["nextappointmentdate"],
			VisitType:           rec["visittype"],
			VisitBy:             rec["visitby"],
			TCAReason:           rec["tcareason"],
			WHOStage:            rec["whostage"],
			Adherence:           rec["adherence"],
			CurrentRegimen:      rec["currentregimen"],
			StabilityAssessment: rec["stabilityassessment"],
			DifferentiatedCare:  rec["differentiatedcare"],
			Pregnant:            rec["pregnant"],
			Breastfeeding:       rec["breastfeeding"],
			Height:              rec["height"],
			Weight:              rec["weight"],
			EMR:                 rec["emr"],
		})
	}
	return rows, nil
}

func (r *Repository) FetchPharmacy(ctx context.Context, patientPKHash, siteCode string) ([]models.PharmacyRow, error) {
	records, err := r.fetch(ctx, "pharmacy", procPharmacy, procPatientPharmacy, patientPKHash, siteCode,
		[]string{"patientpkhash", "sitecode", "dispensedate", "expectedreturn", "treatmenttype"})
	if err != nil {
		return nil, err
	}
	rows := make([]models.PharmacyRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.PharmacyRow{
			PatientPKHash:  rec["patientpkhash"],
			SiteCode:       rec["sitecode"],
			DispenseDate:   rec["dispensedate"],
			ExpectedReturn: rec["expectedreturn"],
			TreatmentType:  rec["treatmenttype"],
			Drug:           rec["drug"],
		})
	}
	return rows, nil
}

func (r *Repository) FetchLab(ctx context.Context, patientPKHash, siteCode string) ([]models.LabRow, error) {
	records, err := r.fetch(ctx, "lab", procLab, procPatientLab, patientPKHash, siteCode,
		[]string{"patientpkhash", "sitecode", "orderedbydate", "testname", "testresult"})
	if err != nil {
		return nil, err
	}
	rows := make([]models.LabRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.LabRow{
			PatientPKHash: rec["patientpkhash"],
			SiteCode:      rec["sitecode"],
			OrderedByDate: rec["orderedbydate"],
			TestName:      rec["testname"],
			TestResult:    rec["testresult"],
		})
	}
	return rows, nil
}

func (r *Repository) FetchDemographics(ctx context.Context, patientPKHash, siteCode string) ([]models.DemographicsRow, error) {
	records, err := r.fetch(ctx, "demographics", procDemographics, procPatientDemographics, patientPKHash, siteCode,
		[]string{"patientpkhash", "sitecode", "artoutcomedescription", "startartdate", "dob"})
	if err != nil {
		return nil, err
	}
	rows := make([]models.DemographicsRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.DemographicsRow{
			PatientPKHash:         rec["patientpkhash"],
			SiteCode:              rec["sitecode"],
			Sex:                   rec["sex"],
			MaritalStatus:         rec["maritalstatus"],
			EducationLevel:        rec["educationlevel"],
			Occupation:            rec["occupation"],
			ARTOutcomeDescription: rec["artoutcomedescription"],
			StartARTDate:          rec["startartdate"],
			DOB:                   rec["dob"],
		})
	}
	return rows, nil
}

// fetch runs the cohort or patient variant of a stream procedure and
// materializes every row as a lowercase-column map of strings. Missing
// required columns fail the whole read with an error naming the stream
// and the column, so schema drift surfaces immediately instead of as
// silently empty features.
func (r *Repository) fetch(ctx context.Context, stream, cohortProc, patientProc, patientPKHash, siteCode string, required []string) ([]map[string]string, error) {
	query := cohortProc
	var args []interface{}
	if patientPKHash != "" {
		query = patientProc
		args = []interface{}{patientPKHash, siteCode}
	}

	rows, err := r.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("fetch %s stream: %w", stream, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("fetch %s stream columns: %w", stream, err)
	}
	for i := range columns {
		columns[i] = strings.ToLower(strings.TrimSpace(columns[i]))
	}
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		seen[col] = struct{}{}
	}
	for _, col := range required {
		if _, ok := seen[col]; !ok {
			return nil, fmt.Errorf("%s stream is missing required column %q", stream, col)
		}
	}

	var records []map[string]string
	values := make([]sql.NullString, len(columns))
	scan := make([]interface{}, len(columns))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scan %s stream row: %w", stream, err)
		}
		rec := make(map[string]string, len(columns))
		for i, col := range columns {
			if values[i].Valid {
				rec[col] = values[i].String
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s stream: %w", stream, err)
	}
	return records, nil
}
