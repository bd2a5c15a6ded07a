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

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kenyahmis/iit-engine/pkg/cohort"
	"github.com/kenyahmis/iit-engine/pkg/common/config"
	"github.com/kenyahmis/iit-engine/pkg/common/database"
	"github.com/kenyahmis/iit-engine/pkg/common/kafka"
	"github.com/kenyahmis/iit-engine/pkg/common/logger"
	"github.com/kenyahmis/iit-engine/pkg/common/models"
	"github.com/kenyahmis/iit-engine/pkg/pipeline"
	"github.com/kenyahmis/iit-engine/pkg/retrain"
	"github.com/kenyahmis/iit-engine/pkg/storage"
)

type RetrainService struct {
	service *retrain.Service
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetMySQL()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to MySQL")
	}

	repo := retrain.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate retrain jobs table")
	}

	featureStore := storage.NewFeatureStore(db, database.GetRedis(), cfg.FeatureOnlinePrefix, cfg.FeatureCacheTTL)
	if err := featureStore.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate feature store table")
	}

	stageProducer := kafka.NewProducer(cfg.KafkaStageTopic)
	defer stageProducer.Close()
	dlqProducer := kafka.NewProducer(cfg.KafkaDLQTopic)
	defer dlqProducer.Close()

	pl := pipeline.New(cohort.NewRepository(db), featureStore, stageProducer, cfg.PipelineWorkers, "retrain-service")
	service := &RetrainService{
		service: retrain.NewService(repo, pl, cfg.RetrainMaxWorkers),
	}

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer(cfg.RetrainTopic, cfg.KafkaGroupID)
	go service.consumeRetrainRequests(consumerCtx, consumer, dlqProducer)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/retrain/jobs", service.handleCreateJob).Methods("POST")
	router.HandleFunc("/api/v1/retrain/jobs", service.handleListJobs).Methods("GET")
	router.HandleFunc("/api/v1/retrain/jobs/{id}", service.handleGetJob).Methods("GET")

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
		}).Info("Retrain Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Retrain Service...")
	cancelConsumer()
	consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	database.CloseMySQL()
	database.CloseRedis()
	logger.Log.Info("Retrain Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *RetrainService) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req retrain.CreateJobInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	job, err := s.service.Create(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (s *RetrainService) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.service.Get(r.Context(), id)
	if errors.Is(err, retrain.ErrJobNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *RetrainService) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.List(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// consumeRetrainRequests accepts retrain jobs off the request topic.
// Malformed or rejected requests go to the DLQ so the topic never wedges
// on a bad message.
func (s *RetrainService) consumeRetrainRequests(ctx context.Context, consumer *kafka.Consumer, dlq *kafka.Producer) {
	err := consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
		input := retrain.CreateJobInput{
			StartDate:   stringField(event.Data, "start_date"),
			EndDate:     stringField(event.Data, "end_date"),
			RequestedBy: stringField(event.Data, "requested_by"),
		}
		if _, err := s.service.Create(ctx, input); err != nil {
			logger.Log.WithError(err).WithField("event_id", event.ID).Warn("Rejected retrain request")
			if dlqErr := dlq.PublishEvent(ctx, "retrain.request.rejected", "retrain-service", map[string]interface{}{
				"event_id": event.ID,
				"error":    err.Error(),
				"request":  event.Data,
			}); dlqErr != nil {
				logger.Log.WithError(dlqErr).Error("Failed to publish to DLQ")
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("Retrain consumer stopped")
	}
}

func stringField(data map[string]interface{}, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}
