package models

import (
	"time"

	"github.com/google/uuid"
)

// PatientKey builds the cohort-wide patient identifier from the hashed
// patient identifier and the reporting site code. The same patient at two
// sites is tracked as two independent care timelines.
func PatientKey(patientPKHash, siteCode string) string {
	return patientPKHash + siteCode
}

/**************************
 ****** Raw streams  ******
 **************************/

// Raw rows come off the warehouse as strings; the clean package owns all
// parsing and never fails a batch on a malformed cell.

type VisitRow struct {
	PatientPKHash       string `json:"patientpkhash"`
	SiteCode            string `json:"sitecode"`
	VisitDate           string `json:"visitdate"`
	NextAppointmentDate string `json:"nextappointmentdate"`
	VisitType           string `json:"visittype"`
	VisitBy             string `json:"visitby"`
	TCAReason           string `json:"tcareason"`
	WHOStage            string `json:"whostage"`
	Adherence           string `json:"adherence"`
	CurrentRegimen      string `json:"currentregimen"`
	StabilityAssessment string `json:"stabilityassessment"`
	DifferentiatedCare  string `json:"differentiatedcare"`
	Pregnant            string `json:"pregnant"`
	Breastfeeding       string `json:"breastfeeding"`
	Height              string `json:"height"`
	Weight              string `json:"weight"`
	EMR                 string `json:"emr"`
}

type PharmacyRow struct {
	PatientPKHash  string `json:"patientpkhash"`
	SiteCode       string `json:"sitecode"`
	DispenseDate   string `json:"dispensedate"`
	ExpectedReturn string `json:"expectedreturn"`
	TreatmentType  string `json:"treatmenttype"`
	Drug           string `json:"drug"`
}

type LabRow struct {
	PatientPKHash string `json:"patientpkhash"`
	SiteCode      string `json:"sitecode"`
	OrderedByDate string `json:"orderedbydate"`
	TestName      string `json:"testname"`
	TestResult    string `json:"testresult"`
}

type DemographicsRow struct {
	PatientPKHash         string `json:"patientpkhash"`
	SiteCode              string `json:"sitecode"`
	Sex                   string `json:"sex"`
	MaritalStatus         string `json:"maritalstatus"`
	EducationLevel        string `json:"educationlevel"`
	Occupation            string `json:"occupation"`
	ARTOutcomeDescription string `json:"artoutcomedescription"`
	StartARTDate          string `json:"startartdate"`
	DOB                   string `json:"dob"`
}

/**************************
 ***** Cleaned streams ****
 **************************/

type Demographics struct {
	Key            string     `json:"key"`
	Sex            string     `json:"sex"`
	MaritalStatus  string     `json:"maritalstatus"`
	EducationLevel string     `json:"educationlevel"`
	Occupation     string     `json:"occupation"`
	ARTOutcome     string     `json:"artoutcome"`
	StartARTDate   *time.Time `json:"startartdate,omitempty"`
	DOB            *time.Time `json:"dob,omitempty"`
}

// Visit is one deduplicated clinical touchpoint with its resolved
// next-appointment date plus the raw payload the feature stage consumes.
type Visit struct {
	Key               string    `json:"key"`
	SiteCode          string    `json:"sitecode"`
	VisitDate         time.Time `json:"visitdate"`
	NAD               time.Time `json:"nad"`
	NADImputationFlag int       `json:"nad_imputation_flag"`

	VisitType           string   `json:"visittype"`
	VisitBy             string   `json:"visitby"`
	TCAReason           string   `json:"tcareason"`
	WHOStage            string   `json:"whostage"`
	Adherence           string   `json:"adherence"`
	CurrentRegimen      string   `json:"currentregimen"`
	StabilityAssessment string   `json:"stabilityassessment"`
	DifferentiatedCare  string   `json:"differentiatedcare"`
	Pregnant            string   `json:"pregnant"`
	Breastfeeding       string   `json:"breastfeeding"`
	Height              *float64 `json:"height,omitempty"`
	Weight              *float64 `json:"weight,omitempty"`
	EMR                 string   `json:"emr"`

	// joined from demographics on key
	Sex            string     `json:"sex"`
	MaritalStatus  string     `json:"maritalstatus"`
	EducationLevel string     `json:"educationlevel"`
	Occupation     string     `json:"occupation"`
	StartARTDate   *time.Time `json:"startartdate,omitempty"`
	DOB            *time.Time `json:"dob,omitempty"`
}

// Dispense is one deduplicated pharmacy touchpoint.
type Dispense struct {
	Key               string    `json:"key"`
	SiteCode          string    `json:"sitecode"`
	DispenseDate      time.Time `json:"dispensedate"`
	NAD               time.Time `json:"nad"`
	NADImputationFlag int       `json:"nad_imputation_flag"`
	TreatmentType     string    `json:"treatmenttype"`
	Drug              string    `json:"drug"`
}

// LabResult is one deduplicated lab observation reduced to its category.
// TestName is either "VL" or "CD4" after cleaning.
type LabResult struct {
	Key           string    `json:"key"`
	SiteCode      string    `json:"sitecode"`
	OrderedByDate time.Time `json:"orderedbydate"`
	TestName      string    `json:"testname"`
	Category      string    `json:"testresultcat"`
}

/**************************
 ****** Target table ******
 **************************/

// TargetRow is one labeled touchpoint. The terminal touchpoint per key is
// either labeled through the censoring rule or absent from the table.
type TargetRow struct {
	Key               string     `json:"key"`
	SiteCode          string     `json:"sitecode"`
	VisitDate         time.Time  `json:"visitdate"`
	NAD               time.Time  `json:"nad"`
	NADImputationFlag int        `json:"nad_imputation_flag"`
	ActualReturnDate  *time.Time `json:"actualreturndate,omitempty"`
	VisitGapDays      *int       `json:"visitdiff,omitempty"`
	IIT               int        `json:"iit"`
}

/**************************
 ***** Feature output *****
 **************************/

// VisitFeatures is the fully derived per-visit feature block.
type VisitFeatures struct {
	Key               string    `json:"key"`
	SiteCode          string    `json:"sitecode"`
	VisitDate         time.Time `json:"visitdate"`
	NAD               time.Time `json:"nad"`
	NADImputationFlag int       `json:"nad_imputation_flag"`

	Unscheduled          int      `json:"unscheduled"`
	Adherence            *int     `json:"adherence,omitempty"`
	WHOStage             string   `json:"whostage"`
	StabilityAssessment  *int     `json:"stabilityassessment,omitempty"`
	DifferentiatedCare   string   `json:"differentiatedcare"`
	Sex                  int      `json:"sex"`
	Age                  float64  `json:"age"`
	Pregnant             *int     `json:"pregnant,omitempty"`
	PregnantMissing      int      `json:"pregnant_missing"`
	Breastfeeding        *int     `json:"breastfeeding,omitempty"`
	BreastfeedingMissing int      `json:"breastfeeding_missing"`
	BMI                  string   `json:"bmi"`
	RegimenSwitch        *int     `json:"regimen_switch,omitempty"`
	MaritalStatus        string   `json:"maritalstatus"`
	EducationLevel       string   `json:"educationlevel"`
	Occupation           string   `json:"occupation"`
	EMR                  string   `json:"emr"`
	VisitBy              string   `json:"visitby"`
	TCAReason            string   `json:"tcareason"`

	StartARTDate *time.Time `json:"startartdate,omitempty"`

	Month                 int     `json:"month"`
	DayOfWeek             int     `json:"dayofweek"`
	IsFriday              int     `json:"is_friday"`
	DaysToNextAppointment int     `json:"daystonextappointment"`
	TimeOnART             float64 `json:"timeonart"`
	TimeAtFacility        float64 `json:"timeatfacility"`
	FirstVisit            int     `json:"firstvisit"`
}

// FeatureRow is the final engine output: one TargetRow extended with every
// temporally derived column, sorted by (key, visitdate).
type FeatureRow struct {
	TargetRow

	CascadeStatus      string   `json:"cascadestatus"`
	MonthsSinceRestart *float64 `json:"monthssincerestart,omitempty"`

	Lastvd *float64 `json:"lastvd,omitempty"`
	Late   *int     `json:"late,omitempty"`
	Late14 *int     `json:"late14,omitempty"`
	Late30 *int     `json:"late30,omitempty"`

	LatenessLast3  *float64 `json:"lateness_last3,omitempty"`
	LatenessLast5  *float64 `json:"lateness_last5,omitempty"`
	LatenessLast10 *float64 `json:"lateness_last10,omitempty"`
	LateLast3      *int     `json:"late_last3,omitempty"`
	LateLast5      *int     `json:"late_last5,omitempty"`
	LateLast10     *int     `json:"late_last10,omitempty"`
	Late14Last3    *int     `json:"late14_last3,omitempty"`
	Late14Last5    *int     `json:"late14_last5,omitempty"`
	Late14Last10   *int     `json:"late14_last10,omitempty"`
	Late30Last3    *int     `json:"late30_last3,omitempty"`
	Late30Last5    *int     `json:"late30_last5,omitempty"`
	Late30Last10   *int     `json:"late30_last10,omitempty"`

	Visit *VisitFeatures `json:"visit,omitempty"`

	OptimizedHIVRegimen *int   `json:"optimizedhivregimen,omitempty"`
	LastDrug            string `json:"last_drug,omitempty"`

	MostRecentVL  string `json:"most_recent_vl"`
	MostRecentCD4 string `json:"most_recent_cd4,omitempty"`
	AHD           int    `json:"ahd"`

	RollingWeightedNoShow   *float64 `json:"rolling_weighted_noshow,omitempty"`
	RollingWeightedDaysLate *float64 `json:"rolling_weighted_dayslate,omitempty"`
}

/**************************
 ****** Service types *****
 **************************/

// Event is the envelope published to the stage topic after each pipeline step.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

type InferenceRequest struct {
	PatientPKHash string `json:"ppk"`
	SiteCode      string `json:"sc"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
}

type InferenceResponse struct {
	Key       string       `json:"key"`
	SiteCode  string       `json:"sitecode"`
	RowCount  int          `json:"row_count"`
	Features  []FeatureRow `json:"features"`
	Latency   string       `json:"latency"`
	Generated time.Time    `json:"generated_at"`
}

type RetrainJob struct {
	ID           uuid.UUID              `json:"id"`
	StartDate    string                 `json:"start_date"`
	EndDate      string                 `json:"end_date"`
	Status       string                 `json:"status"`
	RowCount     int                    `json:"row_count"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	RequestedBy  string                 `json:"requested_by,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}
