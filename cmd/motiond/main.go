package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/your-org/motionwatch/internal/auth"
	"github.com/your-org/motionwatch/internal/capture"
	"github.com/your-org/motionwatch/internal/dispatch"
	"github.com/your-org/motionwatch/internal/hub"
	"github.com/your-org/motionwatch/internal/motion"
	"github.com/your-org/motionwatch/internal/notify"
	"github.com/your-org/motionwatch/internal/retention"
	"github.com/your-org/motionwatch/pkg/config"
	"github.com/your-org/motionwatch/pkg/detector"
	"github.com/your-org/motionwatch/pkg/framesource"
	"github.com/your-org/motionwatch/pkg/kafka"
	"github.com/your-org/motionwatch/pkg/logger"
	"github.com/your-org/motionwatch/pkg/storage/eventstore"
	"github.com/your-org/motionwatch/pkg/storage/objectstore"
	"github.com/your-org/motionwatch/pkg/tracing"
	"github.com/your-org/motionwatch/pkg/vision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel,
		logger.WithEncoding(cfg.App.LogFormat),
		logger.WithService(cfg.App.Name, cfg.App.Environment, cfg.App.Version),
	)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	blobs, err := objectstore.New(ctx, objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Dir:       cfg.Storage.Dir,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	store, err := eventstore.Open(ctx, cfg.Database.Path, eventstore.Options{Blobs: blobs})
	if err != nil {
		logr.Fatal("open event store", zap.Error(err))
	}

	authSvc, err := auth.NewService(ctx, store.DB(), auth.Config{
		Secret:          cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.TokenTTL,
		DefaultUsername: cfg.Auth.DefaultUsername,
		DefaultPassword: cfg.Auth.DefaultPassword,
		BcryptCost:      cfg.Auth.BcryptCost,
	}, logr)
	if err != nil {
		logr.Fatal("init auth", zap.Error(err))
	}

	sink, err := buildSink(cfg)
	if err != nil {
		logr.Fatal("init notification sink", zap.Error(err))
	}
	queue := notify.New(notify.Params{
		Sink:         sink,
		Logger:       logr,
		Capacity:     cfg.Notify.QueueSize,
		Timeout:      cfg.Notify.Timeout,
		PollInterval: cfg.Notify.PollInterval,
	})
	queue.Start()

	broadcast := hub.New(logr)
	params := motion.Params{
		Store:          store,
		Blobs:          blobs,
		Hub:            broadcast,
		Logger:         logr,
		Sources:        cfg.Events.Sources,
		Zones:          cfg.Events.Zones,
		Severities:     cfg.Events.Severities,
		HighSeverity:   cfg.Events.HighSeverity,
		PlaceholderURL: cfg.Events.PlaceholderURL,
		DefaultLimit:   cfg.Events.Limit,
		RetentionDays:  cfg.Retention.Days,
	}
	if queue != nil {
		params.Notifier = queue
	}
	service, err := motion.NewService(params)
	if err != nil {
		logr.Fatal("init event service", zap.Error(err))
	}

	loop := dispatch.New(logr)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil {
			logr.Error("dispatch loop exited", zap.Error(err))
		}
	}()

	var frames *capture.Loop
	if cfg.Camera.Enabled {
		frames, err = buildCapture(cfg, loop, service, logr)
		if err != nil {
			logr.Fatal("init capture loop", zap.Error(err))
		}
		if err := frames.Start(ctx); err != nil {
			logr.Fatal("start capture loop", zap.Error(err))
		}
	}

	sweeper := retention.New(service, retention.Config{
		RetentionDays: cfg.Retention.Days,
		Interval:      cfg.Retention.Interval,
	}, logr)
	sweeper.Start(ctx)

	handlerParams := motion.HandlerParams{
		Service:        service,
		Auth:           authSvc,
		Dispatcher:     loop,
		Hub:            broadcast,
		Logger:         logr,
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		WSWriteTimeout: cfg.HTTP.WSWriteTimeout,
	}
	if frames != nil {
		handlerParams.Frames = frames
	}
	handler := motion.NewHTTPHandler(handlerParams)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if frames != nil {
			if err := frames.Stop(cfg.Camera.StopTimeout); err != nil {
				logr.Warn("capture loop shutdown", zap.Error(err))
			}
		}
		sweeper.Stop()
		queue.Stop(cfg.Notify.Timeout)
		<-loopDone
		if err := store.Close(); err != nil {
			logr.Error("close event store", zap.Error(err))
		}
		if err := blobs.Close(); err != nil {
			logr.Error("close object store", zap.Error(err))
		}
	}()

	logr.Info("motion service starting",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.Bool("camera", cfg.Camera.Enabled),
		zap.Bool("notifications", queue != nil),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
	<-shutdownDone
	logr.Info("motion service stopped")
}

func buildSink(cfg *config.Config) (notify.Sink, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Notify.Sink))
	if kind == "" && cfg.Notify.WebhookURL != "" {
		kind = "webhook"
	}
	switch kind {
	case "", "none":
		return nil, nil
	case "webhook":
		if cfg.Notify.WebhookURL == "" {
			return nil, errors.New("webhook sink requires NOTIFY_WEBHOOK_URL")
		}
		return notify.NewWebhookSink(cfg.Notify.WebhookURL, &http.Client{Timeout: cfg.Notify.Timeout}), nil
	case "kafka":
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafka.RequiredAcksFromString(cfg.Kafka.RequiredAcks),
			MaxAttempts:  cfg.Kafka.Retries,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		return notify.NewKafkaSink(producer), nil
	case "nats":
		sink, err := notify.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported notification sink: %s", kind)
	}
}

func buildCapture(cfg *config.Config, loop *dispatch.Loop, service *motion.Service, logr *zap.Logger) (*capture.Loop, error) {
	src, err := framesource.New(framesource.Config{
		Kind:    cfg.Camera.Source,
		URL:     cfg.Camera.URL,
		Width:   cfg.Camera.Width,
		Height:  cfg.Camera.Height,
		Timeout: cfg.Camera.FetchTimeout,
	})
	if err != nil {
		return nil, err
	}

	params := capture.Params{
		Source:                src,
		Submitter:             loop,
		Events:                service,
		Preprocess:            vision.Preprocessor(cfg.Camera.BlurRadius),
		Motion:                vision.HasMotion,
		Logger:                logr,
		SourceName:            cfg.Camera.EventSource,
		Message:               cfg.Camera.EventMessage,
		FrameInterval:         cfg.Camera.FrameInterval,
		RetryDelay:            cfg.Camera.RetryDelay,
		Threshold:             cfg.Camera.MotionThreshold,
		MinArea:               cfg.Camera.MinArea,
		BaselineRefreshFrames: cfg.Camera.BaselineRefreshFrames,
		JPEGQuality:           cfg.Camera.JPEGQuality,
	}
	if cfg.Detection.Enabled {
		det, err := detector.NewHTTP(detector.Config{
			Endpoint:      cfg.Detection.Endpoint,
			Timeout:       cfg.Detection.Timeout,
			MinConfidence: cfg.Detection.MinConfidence,
			MaxDetections: cfg.Detection.MaxDetections,
			JPEGQuality:   cfg.Camera.JPEGQuality,
		})
		if err != nil {
			return nil, fmt.Errorf("init detector: %w", err)
		}
		params.Detector = det
	}
	return capture.New(params)
}
