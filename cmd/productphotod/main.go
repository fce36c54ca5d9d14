// Command productphotod runs the product photo pipeline service: the
// webhook ingress, job management API, and the background processor
// loop that drives jobs through the image pipeline.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adhtanjung/productphoto/internal/background"
	"github.com/adhtanjung/productphoto/internal/compositor"
	"github.com/adhtanjung/productphoto/internal/config"
	"github.com/adhtanjung/productphoto/internal/database"
	"github.com/adhtanjung/productphoto/internal/derivative"
	"github.com/adhtanjung/productphoto/internal/handlers"
	"github.com/adhtanjung/productphoto/internal/jobstore"
	"github.com/adhtanjung/productphoto/internal/logger"
	"github.com/adhtanjung/productphoto/internal/manifest"
	"github.com/adhtanjung/productphoto/internal/objectstore"
	"github.com/adhtanjung/productphoto/internal/observability"
	"github.com/adhtanjung/productphoto/internal/processor"
	"github.com/adhtanjung/productphoto/internal/router"
	"github.com/adhtanjung/productphoto/internal/segmentation"
	"github.com/adhtanjung/productphoto/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config: ", err)
	}

	log := logger.Init("productphotod", cfg.Env, logger.ParseLevelFromEnv())

	shutdownOTel, err := observability.InitOTel(context.Background(), "productphotod")
	if err != nil {
		log.Warn("failed to initialize OpenTelemetry", "error", err)
	} else {
		defer func() {
			if err := shutdownOTel(context.Background()); err != nil {
				log.Error("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	objects, err := objectstore.New(objectstore.Config{
		Bucket:          cfg.ObjectStoreBucket,
		Region:          cfg.ObjectStoreRegion,
		Endpoint:        cfg.ObjectStoreEndpoint,
		AccessKeyID:     cfg.ObjectStoreAccessKeyID,
		SecretAccessKey: cfg.ObjectStoreSecretAccessKey,
		PublicBaseURL:   cfg.ObjectStorePublicBaseURL,
	})
	if err != nil {
		log.Error("failed to construct object store", "error", err)
		os.Exit(1)
	}

	store := jobstore.New(db)

	segClient := segmentation.NewHTTPClient(segmentation.Config{
		Endpoint: cfg.SegmentationEndpoint,
		APIKey:   cfg.SegmentationAPIKey,
		CostUSD:  cfg.SegmentationCostUSD,
		Timeout:  30 * time.Second,
	})
	synth := background.NewSolidGradientSynthesizer()
	comp := compositor.New(objects)
	derivEng := derivative.New(objects)
	manifestB := manifest.New(objects, time.Duration(cfg.PresignTTLSeconds)*time.Second)

	proc := processor.New(
		processor.Config{
			PollInterval:      time.Duration(cfg.PollIntervalMs) * time.Millisecond,
			Concurrency:       cfg.Concurrency,
			Theme:             cfg.DefaultTheme,
			BackgroundCostUSD: cfg.BackgroundCostUSD,
			DownloadTimeout:   time.Duration(cfg.DownloadTimeoutMs) * time.Millisecond,
		},
		store, objects, segClient, synth, comp, derivEng, manifestB, log,
	)
	proc.Start(context.Background())
	defer proc.Stop()

	ing := webhook.New(webhook.Config{
		Secret:          cfg.WebhookSecret,
		SignatureHeader: cfg.WebhookSignatureHeader,
		MaxBytes:        cfg.WebhookMaxBytes,
		SkipVerify:      cfg.WebhookSkipVerify,
		IsProduction:    cfg.IsProduction(),
		MaxImagesPerSKU: cfg.MaxImagesPerSKU,
		DefaultTheme:    cfg.DefaultTheme,
	}, store)

	jobsHandler := handlers.NewJobsHandler(store, objects, time.Duration(cfg.PresignTTLSeconds)*time.Second, cfg.MaxRetries)
	processorHandler := handlers.NewProcessorHandler(proc)

	r := router.Setup(router.Deps{
		DB:        db,
		Cfg:       cfg,
		Ingress:   ing,
		Jobs:      jobsHandler,
		Processor: processorHandler,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	server := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		log.Info("server starting", "port", port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("server exited")
}
