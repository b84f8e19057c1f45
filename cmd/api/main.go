package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"caseflow/api/internal/app"
	"caseflow/api/internal/authpw"
	"caseflow/api/internal/calendar"
	"caseflow/api/internal/config"
	"caseflow/api/internal/email"
	"caseflow/api/internal/files"
	"caseflow/api/internal/mq"
	"caseflow/api/internal/notify"
	"caseflow/api/internal/search"
	"caseflow/api/internal/session"
	"caseflow/api/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer sessions.Close()

	authpwService := authpw.NewService(dataStore)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		logger.Info("smtp not configured, invite and deadline emails disabled")
	}

	calendarService := calendar.NewService(db)

	var events notify.EventPublisher
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		producer, err := mq.NewProducer(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("rabbitmq connection failed", zap.Error(err))
		}
		defer producer.Close()
		events = producer
	}

	dispatcher := notify.NewDispatcher(emailService, calendarService, events, logger)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	var service *app.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileService, err := files.NewService(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("minio connection failed", zap.Error(err))
		}
		service = app.New(cfg, dataStore, sessions, authpwService, dispatcher, searchService, fileService, logger)
	} else {
		logger.Info("minio not configured, document uploads disabled")
		service = app.New(cfg, dataStore, sessions, authpwService, dispatcher, searchService, nil, logger)
	}

	reminderCtx, stopReminders := context.WithCancel(ctx)
	defer stopReminders()
	go dispatcher.RunDeadlineReminders(reminderCtx, calendarService, dataStore, time.Hour, 48*time.Hour, cfg.AppBaseURL)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("caseflow api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopReminders()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown error", zap.Error(err))
	}
}
