package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/config"
	"github.com/lalloyce/optifluenceLMS/internal/handler"
	"github.com/lalloyce/optifluenceLMS/internal/integrations/centralbank"
	"github.com/lalloyce/optifluenceLMS/internal/middleware"
	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/notification"
	"github.com/lalloyce/optifluenceLMS/internal/repayment"
	"github.com/lalloyce/optifluenceLMS/internal/repository"
	"github.com/lalloyce/optifluenceLMS/internal/risk"
	"github.com/lalloyce/optifluenceLMS/internal/schedule"
	"github.com/lalloyce/optifluenceLMS/internal/service"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	gen := schedule.NewGenerator(logger)
	engine := risk.NewEngine(repo, logger)

	var dispatcher notification.Dispatcher = notification.NopDispatcher{}
	if cfg.SMTPHost != "" {
		dispatcher = notification.NewEmailDispatcher(cfg, logger)
	}

	configRecords, err := repo.ProductConfigs(context.Background())
	if err != nil {
		logger.Fatalf("Failed to load product configs: %v", err)
	}
	configs := models.NewProductConfigSet(configRecords)

	detector := risk.NewDetector(repo, repo, dispatcher, logger)
	proc := repayment.NewProcessor(repo, gen, logger)
	bankClient := centralbank.NewClient(cfg, logger)
	svc := service.NewService(repo, configs, bankClient, engine, detector, logger)
	h := handler.NewHandler(svc, proc, detector, repo, logger)

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/payments/mpesa/callback", h.MpesaCallback).Methods("POST")
	r.HandleFunc("/key-rate", func(w http.ResponseWriter, r *http.Request) {
		rate, err := bankClient.PolicyRate()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get key rate: %v", err), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"key_rate": rate.String()})
	}).Methods("GET")

	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.ActorMiddleware(cfg))
	authRouter.HandleFunc("/applications", h.SubmitApplication).Methods("POST")
	authRouter.HandleFunc("/applications/{id}", h.GetApplication).Methods("GET")
	authRouter.HandleFunc("/applications/{id}/approve", h.ApproveApplication).Methods("POST")
	authRouter.HandleFunc("/applications/{id}/reject", h.RejectApplication).Methods("POST")
	authRouter.HandleFunc("/loans/{id}", h.GetLoan).Methods("GET")
	authRouter.HandleFunc("/loans/{id}/balance", h.GetBalance).Methods("GET")
	authRouter.HandleFunc("/loans/{id}/disburse", h.Disburse).Methods("POST")
	authRouter.HandleFunc("/loans/{id}/schedule", h.RegenerateSchedule).Methods("POST")
	authRouter.HandleFunc("/loans/{id}/repayments", h.ProcessPayment).Methods("POST")
	authRouter.HandleFunc("/loans/{id}/waivers", h.WaivePenalty).Methods("POST")
	authRouter.HandleFunc("/transactions/{reference}/reverse", h.ReverseTransaction).Methods("POST")
	authRouter.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	authRouter.HandleFunc("/alerts/summary", h.AlertSummary).Methods("GET")
	authRouter.HandleFunc("/alerts/{id}/resolve", h.ResolveAlert).Methods("POST")

	// Scheduled jobs
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SummaryCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		summary, err := detector.ActiveAlertSummary(ctx)
		if err != nil {
			logger.Errorf("Daily risk summary failed: %v", err)
			return
		}
		dispatcher.DailySummary(summary.TotalActive, summary.BySeverity, summary.ByType)
		logger.Infof("Daily risk summary sent: %d active alerts", summary.TotalActive)
	}); err != nil {
		logger.Fatalf("Invalid summary cron spec: %v", err)
	}
	if _, err := scheduler.AddFunc(cfg.OverdueCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		marked, err := repo.MarkOverdueInstallments(ctx, time.Now())
		if err != nil {
			logger.Errorf("Overdue sweep failed: %v", err)
			return
		}
		logger.Infof("Overdue sweep marked %d installments", marked)
	}); err != nil {
		logger.Fatalf("Invalid overdue cron spec: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
