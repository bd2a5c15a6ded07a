package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/kenyahmis/iit-engine/pkg/clean"
	"github.com/kenyahmis/iit-engine/pkg/cohort"
	"github.com/kenyahmis/iit-engine/pkg/common/config"
	"github.com/kenyahmis/iit-engine/pkg/common/database"
	"github.com/kenyahmis/iit-engine/pkg/common/kafka"
	"github.com/kenyahmis/iit-engine/pkg/common/logger"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
	"github.com/kenyahmis/iit-engine/pkg/pipeline"
	"github.com/kenyahmis/iit-engine/pkg/storage"
)

type InferenceService struct {
	pipeline     *pipeline.Pipeline
	featureStore *storage.FeatureStore
	cfg          *config.Config
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetMySQL()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to MySQL")
	}

	featureStore := storage.NewFeatureStore(db, database.GetRedis(), cfg.FeatureOnlinePrefix, cfg.FeatureCacheTTL)
	if err := featureStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate feature store table")
	}

	producer := kafka.NewProducer(cfg.KafkaStageTopic)
	defer producer.Close()

	service := &InferenceService{
		pipeline:     pipeline.New(cohort.NewRepository(db), nil, producer, cfg.PipelineWorkers, "inference-service"),
		featureStore: featureStore,
		cfg:          cfg,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/inference", service.handleInference).Methods("POST")
	router.HandleFunc("/api/v1/features/{key}", service.handleGetHotFeatures).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Inference Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Inference Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	database.CloseMySQL()
	database.CloseRedis()
	logger.Log.Info("Inference Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// handleInference derives the full feature timeline for one patient on
// demand. Dates default to the configured pipeline window.
func (s *InferenceService) handleInference(w http.ResponseWriter, r *http.Request) {
	var req models.InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.PatientPKHash == "" || req.SiteCode == "" {
		http.Error(w, "ppk and sc are required", http.StatusBadRequest)
		return
	}

	start, end, err := s.window(req.StartDate, req.EndDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	began := time.Now()
	rows, err := s.pipeline.RunPatient(r.Context(), req.PatientPKHash, req.SiteCode, start, end)
	if err != nil {
		logger.Log.WithError(err).Error("Inference pipeline failed")
		http.Error(w, "Feature derivation failed", http.StatusInternalServerError)
		return
	}

	resp := models.InferenceResponse{
		Key:       models.PatientKey(req.PatientPKHash, req.SiteCode),
		SiteCode:  req.SiteCode,
		RowCount:  len(rows),
		Features:  rows,
		Latency:   time.Since(began).String(),
		Generated: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleGetHotFeatures serves the cached latest feature row for a patient
// key without recomputing anything.
func (s *InferenceService) handleGetHotFeatures(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	row, err := s.featureStore.GetHot(r.Context(), key)
	if errors.Is(err, storage.ErrFeaturesNotFound) {
		http.Error(w, "Features not cached", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("Hot feature lookup failed")
		http.Error(w, "Feature lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(row)
}

func (s *InferenceService) window(startDate, endDate string) (time.Time, time.Time, error) {
	if startDate == "" {
		startDate = s.cfg.PipelineStartDate
	}
	if endDate == "" {
		endDate = s.cfg.PipelineEndDate
	}

	var start, end time.Time
	if startDate != "" {
		parsed, err := clean.ParseDay(startDate)
		if err != nil {
			return start, end, fmt.Errorf("invalid start_date %q", startDate)
		}
		start = parsed
	}
	if endDate != "" {
		parsed, err := clean.ParseDay(endDate)
		if err != nil {
			return start, end, fmt.Errorf("invalid end_date %q", endDate)
		}
		end = parsed
	}
	return start, end, nil
}
