// whisperd is an HTTP server for audio transcription. It fronts a shared
// whisper engine with an admission-controlled worker pool and a validation
// pipeline, plus an optional RabbitMQ ingest path.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"whisperd/internal/config"
	"whisperd/internal/engine"
	"whisperd/internal/logging"
	"whisperd/internal/model"
	"whisperd/internal/rabbitmq"
	"whisperd/internal/server"
	"whisperd/internal/service"
	"whisperd/internal/validator"
	"whisperd/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	godotenv.Load() // Ignore error, ENV vars take precedence

	cfg, err := config.Load(config.FindConfigFile())
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	logger.Info("whisperd starting",
		zap.Int("workers", cfg.Pool.Workers),
		zap.Int("max_concurrent", cfg.Pool.MaxConcurrent),
		zap.String("model", cfg.Transcription.Model))

	probe := validator.NewFFProbe(cfg.Transcription.FFProbePath)
	v := validator.New(
		cfg.Transcription.MaxFileSize,
		cfg.Transcription.MaxDuration,
		cfg.Transcription.AllowedFormats,
		probe,
		logger,
	)

	handle := model.NewHandle(
		cfg.Transcription.Model,
		model.FileLoader(cfg.Transcription.Model, cfg.Transcription.ModelDir),
		logger,
	)
	eng := engine.NewWhisperCLI(cfg.Transcription.WhisperBin, logger)

	pool := worker.NewPool(cfg.Pool.Workers, cfg.Pool.MaxConcurrent, handle, eng, logger)
	pool.Start()
	defer pool.Stop(shutdownTimeout)

	svc := service.New(v, pool, cfg.Transcription.DumpAudioDir, cfg.Transcription.TmpDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AMQP.Enabled {
		conn, err := rabbitmq.Connect(cfg.AMQP.URL, logger)
		if err != nil {
			logger.Fatal("rabbitmq connect failed", zap.Error(err))
		}
		defer conn.Close()

		consumer, err := rabbitmq.NewConsumer(conn, cfg.Pool.MaxConcurrent, logger)
		if err != nil {
			logger.Fatal("consumer setup failed", zap.Error(err))
		}
		defer consumer.Close()

		producer, err := rabbitmq.NewProducer(conn, cfg.Transcription.Model, logger)
		if err != nil {
			logger.Fatal("producer setup failed", zap.Error(err))
		}
		defer producer.Close()

		deliveries, err := consumer.Consume()
		if err != nil {
			logger.Fatal("consume failed", zap.Error(err))
		}
		go rabbitmq.NewIngest(svc, producer, logger).Run(ctx, deliveries)
	}

	srv := server.New(svc, pool, handle, cfg.Transcription.MaxFileSize, cfg.Transcription.AllowedFormats, logger)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
}
