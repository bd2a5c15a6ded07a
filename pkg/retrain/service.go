// Package retrain manages cohort refresh jobs: each job replays the full
// derivation pipeline over a date range and republishes the feature store
// so the next model training round sees current data.
package retrain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kenyahmis/iit-engine/pkg/clean"
	"github.com/kenyahmis/iit-engine/pkg/common/logger"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
	"github.com/kenyahmis/iit-engine/pkg/pipeline"
)

type Service struct {
	repo      *Repository
	pipeline  *pipeline.Pipeline
	workerSem chan struct{}
}

func NewService(repo *Repository, pl *pipeline.Pipeline, maxWorkers int) *Service {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Service{
		repo:      repo,
		pipeline:  pl,
		workerSem: make(chan struct{}, maxWorkers),
	}
}

// Create records the job and starts it in the background. The worker
// semaphore keeps concurrent cohort replays bounded; a full replay is
// warehouse-heavy and two at once buy nothing.
func (s *Service) Create(ctx context.Context, input CreateJobInput) (models.RetrainJob, error) {
	start, end, err := parseRange(input.StartDate, input.EndDate)
	if err != nil {
		return models.RetrainJob{}, err
	}

	jobID := uuid.New()
	job := &JobModel{
		ID:          jobID,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return models.RetrainJob{}, err
	}
	go s.run(jobID, start, end)
	return toDomain(job), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.RetrainJob, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.RetrainJob{}, err
	}
	return toDomain(job), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.RetrainJob, error) {
	jobs, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]models.RetrainJob, 0, len(jobs))
	for _, job := range jobs {
		copy := job
		results = append(results, toDomain(&copy))
	}
	return results, nil
}

func (s *Service) run(jobID uuid.UUID, start, end time.Time) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	ctx := context.Background()
	began := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, jobID, StatusRunning, 0, nil, ""); err != nil {
		logger.Log.WithError(err).Error("Failed to mark retrain job running")
	}
	if err := s.repo.SetTimestamps(ctx, jobID, &began, nil); err != nil {
		logger.Log.WithError(err).Error("Failed to set retrain start timestamp")
	}

	rows, err := s.pipeline.RunCohort(ctx, start, end)
	if err != nil {
		s.failJob(ctx, jobID, err)
		return
	}

	metrics := cohortMetrics(rows)
	metrics["duration_seconds"] = time.Since(began).Seconds()
	if err := s.repo.UpdateStatus(ctx, jobID, StatusCompleted, len(rows), metrics, ""); err != nil {
		logger.Log.WithError(err).Error("Failed to mark retrain job complete")
	}
	completed := time.Now().UTC()
	if err := s.repo.SetTimestamps(ctx, jobID, nil, &completed); err != nil {
		logger.Log.WithError(err).Error("Failed to set retrain completion timestamp")
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	logger.Log.WithError(err).Error("Retrain job failed")
	_ = s.repo.UpdateStatus(ctx, jobID, StatusFailed, 0, nil, err.Error())
	completed := time.Now().UTC()
	_ = s.repo.SetTimestamps(ctx, jobID, nil, &completed)
}

// cohortMetrics summarizes the extract for the training team: volume,
// distinct timelines and label balance.
func cohortMetrics(rows []models.FeatureRow) map[string]interface{} {
	patients := make(map[string]struct{}, len(rows))
	interruptions := 0
	for _, row := range rows {
		patients[row.Key] = struct{}{}
		if row.IIT == 1 {
			interruptions++
		}
	}
	metrics := map[string]interface{}{
		"rows":     len(rows),
		"patients": len(patients),
	}
	if len(rows) > 0 {
		metrics["iit_rate"] = float64(interruptions) / float64(len(rows))
	}
	return metrics
}

func parseRange(startDate, endDate string) (time.Time, time.Time, error) {
	var start, end time.Time
	if startDate != "" {
		parsed, err := clean.ParseDay(startDate)
		if err != nil {
			return start, end, fmt.Errorf("invalid start_date %q: %w", startDate, err)
		}
		start = parsed
	}
	if endDate != "" {
		parsed, err := clean.ParseDay(endDate)
		if err != nil {
			return start, end, fmt.Errorf("invalid end_date %q: %w", endDate, err)
		}
		end = parsed
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("end_date %s precedes start_date %s", endDate, startDate)
	}
	return start, end, nil
}

func toDomain(job *JobModel) models.RetrainJob {
	result := models.RetrainJob{
		ID:           job.ID,
		StartDate:    job.StartDate,
		EndDate:      job.EndDate,
		Status:       job.Status,
		RowCount:     job.RowCount,
		ErrorMessage: job.ErrorMessage,
		RequestedBy:  job.RequestedBy,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Metrics != nil {
		result.Metrics = map[string]interface{}(job.Metrics)
	}
	return result
}
