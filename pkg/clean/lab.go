package clean

import (
	"sort"
	"strings"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

const (
	TestVL  = "VL"
	TestCD4 = "CD4"

	CategorySuppressed    = "suppressed"
	CategoryNonSuppressed = "nonsuppressed"
	CategoryNoAHD         = "NoAHD"
	CategoryYesAHD        = "YesAHD"
)

// normalizeTestName maps the free-text lab test name onto VL / CD4.
// CD4 percentage tests are not absolute counts and are excluded; anything
// that is neither a CD4 count nor a viral load is discarded.
func normalizeTestName(name string) string {
	name = lower(name)
	if strings.Contains(name, "cd4") && !strings.Contains(name, "%") && !strings.Contains(name, "percent") {
		return TestCD4
	}
	if strings.Contains(name, "viral") || strings.Contains(name, "vl") {
		return TestVL
	}
	return ""
}

// classifyResult buckets a numeric result for the given test. The nil return
// means the row carries no usable category and is dropped. A missing numeric
// VL is treated as below threshold, matching long-standing program
// convention.
func classifyResult(test string, value *float64) string {
	switch test {
	case TestVL:
		if value == nil || *value < 200 {
			return CategorySuppressed
		}
		return CategoryNonSuppressed
	case TestCD4:
		if value == nil {
			return ""
		}
		if *value < 200 {
			return CategoryNoAHD
		}
		return CategoryYesAHD
	}
	return ""
}

type labObservation struct {
	key      string
	siteCode string
	date     time.Time
	test     string
	value    *float64
	category string
}

// CleanLab reduces the lab stream to one categorized VL/CD4 observation per
// (key, orderedbydate, testname). Tied groups resolve by the
// numeric-agreement rules: a single parseable numeric wins outright,
// unanimous categories collapse to one row, and disagreeing groups are
// dropped as unreliable.
func CleanLab(rows []models.LabRow, start time.Time) []models.LabResult {
	if len(rows) == 0 {
		return []models.LabResult{}
	}

	obs := make([]labObservation, 0, len(rows))
	for _, row := range rows {
		if row.PatientPKHash == "" {
			continue
		}
		test := normalizeTestName(row.TestName)
		if test == "" {
			continue
		}
		orderedBy := ParseLongDate(row.OrderedByDate)
		if orderedBy == nil || orderedBy.Before(start) {
			continue
		}
		value := parseFloat(row.TestResult)
		category := classifyResult(test, value)
		if category == "" {
			continue
		}
		obs = append(obs, labObservation{
			key:      models.PatientKey(row.PatientPKHash, row.SiteCode),
			siteCode: strings.TrimSpace(row.SiteCode),
			date:     *orderedBy,
			test:     test,
			value:    value,
			category: category,
		})
	}

	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if a.key != b.key {
			return a.key < b.key
		}
		if !a.date.Equal(b.date) {
			return a.date.Before(b.date)
		}
		return a.test < b.test
	})

	results := make([]models.LabResult, 0, len(obs))
	for start := 0; start < len(obs); {
		end := start + 1
		for end < len(obs) && sameLabGroup(obs[start], obs[end]) {
			end++
		}
		if resolved, ok := resolveLabGroup(obs[start:end]); ok {
			results = append(results, resolved)
		}
		start = end
	}
	return results
}

func sameLabGroup(a, b labObservation) bool {
	return a.key == b.key && a.date.Equal(b.date) && a.test == b.test
}

func resolveLabGroup(group []labObservation) (models.LabResult, bool) {
	if len(group) == 0 {
		return models.LabResult{}, false
	}

	numeric := make([]labObservation, 0, len(group))
	for _, o := range group {
		if o.value != nil {
			numeric = append(numeric, o)
		}
	}

	pick := func(o labObservation) (models.LabResult, bool) {
		return models.LabResult{
			Key:           o.key,
			SiteCode:      o.siteCode,
			OrderedByDate: o.date,
			TestName:      o.test,
			Category:      o.category,
		}, true
	}

	if len(group) == 1 {
		return pick(group[0])
	}
	// exactly one parseable numeric result resolves the tie
	if len(numeric) == 1 {
		return pick(numeric[0])
	}
	// unanimous categories collapse to one representative row
	agreed := group[0].category
	for _, o := range group[1:] {
		if o.category != agreed {
			return models.LabResult{}, false
		}
	}
	return pick(group[0])
}
