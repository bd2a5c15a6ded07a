package features

import (
	"sort"
	"sync"

	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

// Engine derives temporal features from labeled touchpoints. Each patient
// timeline is independent of every other, so timelines are processed in
// parallel up to Workers at a time; output ordering never depends on
// scheduling.
type Engine struct {
	Workers int
}

func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{Workers: workers}
}

// Run expands target rows into feature rows. Per timeline it derives the
// care-cascade status, lateness history and rolling windows, then attaches
// the most recent visit, pharmacy and lab context as-of each touchpoint.
// Site-level rolling aggregates are derived last since they cut across
// timelines.
func (e *Engine) Run(targets []models.TargetRow, visits []models.VisitFeatures, dispenses []models.Dispense, labs []models.LabResult) []models.FeatureRow {
	if len(targets) == 0 {
		return []models.FeatureRow{}
	}

	keys, partitions := partitionTargets(targets)
	visitsByKey := groupVisits(visits)
	dispensesByKey := groupDispenses(dispenses)
	labsByKey := groupLabs(labs)

	results := make([][]models.FeatureRow, len(keys))
	sem := make(chan struct{}, e.Workers)
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			sem <- struct{}{}
			defer func() {
				<-sem
				wg.Done()
			}()
			results[i] = deriveTimeline(partitions[key], visitsByKey[key], dispensesByKey[key], labsByKey[key])
		}(i, key)
	}
	wg.Wait()

	total := 0
	for _, part := range results {
		total += len(part)
	}
	rows := make([]models.FeatureRow, 0, total)
	for _, part := range results {
		rows = append(rows, part...)
	}

	attachSiteFeatures(rows)

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].VisitDate.Before(rows[j].VisitDate)
	})
	return rows
}

// deriveTimeline runs every per-patient derivation over one timeline. The
// input rows are already date-ascending and the context slices are sorted
// by date, which the two-pointer joins rely on.
func deriveTimeline(targets []models.TargetRow, visits []models.VisitFeatures, dispenses []models.Dispense, labs []models.LabResult) []models.FeatureRow {
	rows := make([]models.FeatureRow, len(targets))
	for i, t := range targets {
		rows[i] = models.FeatureRow{TargetRow: t}
	}

	deriveCascade(rows)
	deriveLateness(rows)
	attachVisits(rows, visits)
	attachPharmacy(rows, dispenses)
	attachLabs(rows, labs)
	return rows
}

// partitionTargets splits the target table into per-key date-ascending
// slices and returns the keys in lexical order so the concatenation of the
// partitions is stable regardless of worker scheduling.
func partitionTargets(targets []models.TargetRow) ([]string, map[string][]models.TargetRow) {
	partitions := make(map[string][]models.TargetRow)
	for _, t := range targets {
		partitions[t.Key] = append(partitions[t.Key], t)
	}
	keys := make([]string, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
		part := partitions[key]
		sort.SliceStable(part, func(i, j int) bool {
			return part[i].VisitDate.Before(part[j].VisitDate)
		})
	}
	sort.Strings(keys)
	return keys, partitions
}

func groupVisits(visits []models.VisitFeatures) map[string][]models.VisitFeatures {
	grouped := make(map[string][]models.VisitFeatures)
	for _, v := range visits {
		grouped[v.Key] = append(grouped[v.Key], v)
	}
	for key := range grouped {
		part := grouped[key]
		sort.SliceStable(part, func(i, j int) bool {
			return part[i].VisitDate.Before(part[j].VisitDate)
		})
	}
	return grouped
}

func groupDispenses(dispenses []models.Dispense) map[string][]models.Dispense {
	grouped := make(map[string][]models.Dispense)
	for _, d := range dispenses {
		grouped[d.Key] = append(grouped[d.Key], d)
	}
	for key := range grouped {
		part := grouped[key]
		sort.SliceStable(part, func(i, j int) bool {
			return part[i].DispenseDate.Before(part[j].DispenseDate)
		})
	}
	return grouped
}

func groupLabs(labs []models.LabResult) map[string][]models.LabResult {
	grouped := make(map[string][]models.LabResult)
	for _, l := range labs {
		grouped[l.Key] = append(grouped[l.Key], l)
	}
	for key := range grouped {
		part := grouped[key]
		sort.SliceStable(part, func(i, j int) bool {
			return part[i].OrderedByDate.Before(part[j].OrderedByDate)
		})
	}
	return grouped
}
