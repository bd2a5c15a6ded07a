package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kenyahmis/iit-engine/pkg/common/logger"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
)

var ErrFeaturesNotFound = errors.New("features not found")

// FeatureStore persists derived feature rows twice: the full history in
// MySQL for training extracts, and the latest row per patient in Redis
// for low-latency scoring.
type FeatureStore struct {
	db        *gorm.DB
	redis     *redis.Client
	keyPrefix string
	cacheTTL  time.Duration
}

func NewFeatureStore(db *gorm.DB, redisClient *redis.Client, keyPrefix string, cacheTTL time.Duration) *FeatureStore {
	return &FeatureStore{
		db:        db,
		redis:     redisClient,
		keyPrefix: keyPrefix,
		cacheTTL:  cacheTTL,
	}
}

// featureRowModel is the offline table. The derived columns live in a JSON
// payload so schema changes in the feature set never need a migration.
type featureRowModel struct {
	Key       string         `gorm:"column:patient_key;primaryKey;size:128"`
	SiteCode  string         `gorm:"column:site_code;size:32;index"`
	VisitDate time.Time      `gorm:"column:visit_date;primaryKey"`
	IIT       int            `gorm:"column:iit"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (featureRowModel) TableName() string {
	return "iitml_feature_rows"
}

func (s *FeatureStore) AutoMigrate() error {
	return s.db.AutoMigrate(&featureRowModel{})
}

// SaveCohort upserts every feature row into the offline table.
func (s *FeatureStore) SaveCohort(ctx context.Context, rows []models.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([]featureRowModel, 0, len(rows))
	now := time.Now().UTC()
	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode feature row for %s: %w", row.Key, err)
		}
		batch = append(batch, featureRowModel{
			Key:       row.Key,
			SiteCode:  row.SiteCode,
			VisitDate: row.VisitDate,
			IIT:       row.IIT,
			Payload:   datatypes.JSON(payload),
			UpdatedAt: now,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_key"}, {Name: "visit_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"site_code", "iit", "payload", "updated_at"}),
	}).CreateInBatches(batch, 500).Error
	if err != nil {
		return fmt.Errorf("save cohort features: %w", err)
	}
	logger.Log.WithField("rows", len(batch)).Info("Saved cohort features")
	return nil
}

// LoadCohort reads the offline rows for a training extract, in stable
// (key, visit date) order.
func (s *FeatureStore) LoadCohort(ctx context.Context, start, end time.Time) ([]models.FeatureRow, error) {
	query := s.db.WithContext(ctx).Model(&featureRowModel{})
	if !start.IsZero() {
		query = query.Where("visit_date >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("visit_date <= ?", end)
	}
	var entries []featureRowModel
	if err := query.Order("patient_key asc, visit_date asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load cohort features: %w", err)
	}
	rows := make([]models.FeatureRow, 0, len(entries))
	for _, entry := range entries {
		var row models.FeatureRow
		if err := json.Unmarshal(entry.Payload, &row); err != nil {
			return nil, fmt.Errorf("decode feature row for %s: %w", entry.Key, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MaterializeHot caches the most recent feature row per patient so the
// inference service can score without touching the warehouse.
func (s *FeatureStore) MaterializeHot(ctx context.Context, rows []models.FeatureRow) error {
	if s.redis == nil {
		return nil
	}
	latest := make(map[string]models.FeatureRow, len(rows))
	for _, row := range rows {
		current, ok := latest[row.Key]
		if !ok || row.VisitDate.After(current.VisitDate) {
			latest[row.Key] = row
		}
	}
	for key, row := range latest {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode hot features for %s: %w", key, err)
		}
		if err := s.redis.Set(ctx, s.hotKey(key), data, s.cacheTTL).Err(); err != nil {
			return fmt.Errorf("cache hot features for %s: %w", key, err)
		}
	}
	logger.Log.WithField("patients", len(latest)).Info("Materialized hot features")
	return nil
}

// GetHot returns the cached latest feature row for one patient.
func (s *FeatureStore) GetHot(ctx context.Context, key string) (models.FeatureRow, error) {
	var row models.FeatureRow
	if s.redis == nil {
		return row, ErrFeaturesNotFound
	}
	data, err := s.redis.Get(ctx, s.hotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return row, ErrFeaturesNotFound
	}
	if err != nil {
		return row, fmt.Errorf("read hot features for %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return row, fmt.Errorf("decode hot features for %s: %w", key, err)
	}
	return row, nil
}

func (s *FeatureStore) hotKey(key string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, key)
}
