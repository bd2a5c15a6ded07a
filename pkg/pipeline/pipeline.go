// Package pipeline sequences the stages that turn raw warehouse streams
// into labeled, feature-complete patient timelines.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kenyahmis/iit-engine/pkg/clean"
	"github.com/kenyahmis/iit-engine/pkg/cohort"
	"github.com/kenyahmis/iit-engine/pkg/common/kafka"
	"github.com/kenyahmis/iit-engine/pkg/common/logger"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
	"github.com/kenyahmis/iit-engine/pkg/features"
	"github.com/kenyahmis/iit-engine/pkg/storage"
	"github.com/kenyahmis/iit-engine/pkg/target"
)

const (
	StageClean    = "pipeline.stage.clean"
	StageVisits   = "pipeline.stage.visit_features"
	StageTarget   = "pipeline.stage.target"
	StageFeatures = "pipeline.stage.temporal_features"
	StageStore    = "pipeline.stage.store"
)

// Pipeline wires the warehouse readers, the derivation stages and the
// feature store. Producer and store are optional so the same pipeline can
// run headless in tests and single-patient mode.
type Pipeline struct {
	repo     *cohort.Repository
	store    *storage.FeatureStore
	producer *kafka.Producer
	workers  int
	source   string
}

func New(repo *cohort.Repository, store *storage.FeatureStore, producer *kafka.Producer, workers int, source string) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		repo:     repo,
		store:    store,
		producer: producer,
		workers:  workers,
		source:   source,
	}
}

// RunCohort derives features for the whole cohort between start and end
// and persists them to the feature store. A zero end means unbounded.
func (p *Pipeline) RunCohort(ctx context.Context, start, end time.Time) ([]models.FeatureRow, error) {
	rows, err := p.run(ctx, "", "", start, end)
	if err != nil {
		return nil, err
	}
	if p.store != nil {
		if err := p.store.SaveCohort(ctx, rows); err != nil {
			return nil, err
		}
		if err := p.store.MaterializeHot(ctx, rows); err != nil {
			return nil, err
		}
		p.emit(ctx, StageStore, map[string]interface{}{"rows": len(rows)})
	}
	return rows, nil
}

// RunPatient derives features for one (hashed identifier, site) timeline
// without touching the feature store.
func (p *Pipeline) RunPatient(ctx context.Context, patientPKHash, siteCode string, start, end time.Time) ([]models.FeatureRow, error) {
	return p.run(ctx, patientPKHash, siteCode, start, end)
}

func (p *Pipeline) run(ctx context.Context, patientPKHash, siteCode string, start, end time.Time) ([]models.FeatureRow, error) {
	began := time.Now()

	demRows, err := p.repo.FetchDemographics(ctx, patientPKHash, siteCode)
	if err != nil {
		return nil, p.fail(ctx, StageClean, err)
	}
	visitRows, err := p.repo.FetchVisits(ctx, patientPKHash, siteCode)
	if err != nil {
		return nil, p.fail(ctx, StageClean, err)
	}
	pharmacyRows, err := p.repo.FetchPharmacy(ctx, patientPKHash, siteCode)
	if err != nil {
		return nil, p.fail(ctx, StageClean, err)
	}
	labRows, err := p.repo.FetchLab(ctx, patientPKHash, siteCode)
	if err != nil {
		return nil, p.fail(ctx, StageClean, err)
	}

	dems := clean.CleanDemographics(demRows)
	visits := clean.CleanVisits(visitRows, dems, start, end)
	dispenses := clean.CleanPharmacy(pharmacyRows, start, end)
	labs := clean.CleanLab(labRows, start)
	p.emit(ctx, StageClean, map[string]interface{}{
		"demographics": len(dems),
		"visits":       len(visits),
		"dispenses":    len(dispenses),
		"labs":         len(labs),
	})

	visitFeatures := features.PrepVisitFeatures(visits)
	features.PrepScheduleFeatures(visitFeatures)
	p.emit(ctx, StageVisits, map[string]interface{}{"rows": len(visitFeatures)})

	targets := target.Build(visits, dispenses, dems)
	p.emit(ctx, StageTarget, map[string]interface{}{"rows": len(targets)})

	engine := features.NewEngine(p.workers)
	rows := engine.Run(targets, visitFeatures, dispenses, labs)
	p.emit(ctx, StageFeatures, map[string]interface{}{"rows": len(rows)})

	logger.Log.WithFields(map[string]interface{}{
		"rows":    len(rows),
		"elapsed": time.Since(began).String(),
	}).Info("Pipeline run complete")
	return rows, nil
}

// emit publishes a stage event. Failures are logged and swallowed: the
// event stream observes the pipeline, it never gates it.
func (p *Pipeline) emit(ctx context.Context, stage string, data map[string]interface{}) {
	if p.producer == nil {
		return
	}
	if err := p.producer.PublishEvent(ctx, stage, p.source, data); err != nil {
		logger.Log.WithError(err).WithField("stage", stage).Warn("Failed to publish stage event")
	}
}

func (p *Pipeline) fail(ctx context.Context, stage string, err error) error {
	p.emit(ctx, stage+".failed", map[string]interface{}{"error": err.Error()})
	return fmt.Errorf("%s: %w", stage, err)
}
