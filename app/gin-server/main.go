package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/meetbot/config"
	"github.com/yoockh/meetbot/internal/api/handlers"
	"github.com/yoockh/meetbot/internal/api/middleware"
	"github.com/yoockh/meetbot/internal/api/routes"
	"github.com/yoockh/meetbot/internal/cache"
	"github.com/yoockh/meetbot/internal/logger"
	"github.com/yoockh/meetbot/internal/metrics"
	"github.com/yoockh/meetbot/internal/notify"
	"github.com/yoockh/meetbot/internal/orchestrator"
	"github.com/yoockh/meetbot/internal/pipeline"
	"github.com/yoockh/meetbot/internal/providers/bot"
	"github.com/yoockh/meetbot/internal/providers/llm"
	"github.com/yoockh/meetbot/internal/providers/stt"
	"github.com/yoockh/meetbot/internal/recording"
	"github.com/yoockh/meetbot/internal/registry"
	boltrepo "github.com/yoockh/meetbot/internal/repositories/bolt"
	mongorepo "github.com/yoockh/meetbot/internal/repositories/mongo"
	pgrepo "github.com/yoockh/meetbot/internal/repositories/postgres"
	"github.com/yoockh/meetbot/internal/services"
	"github.com/yoockh/meetbot/internal/storage"
	"github.com/yoockh/meetbot/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg, err := config.LoadBot()
	if err != nil {
		log.WithError(err).Fatal("bot config")
	}
	m := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backends are optional; a missing env var disables the feature that needs it.
	enabled := func(name string, err error) bool {
		switch {
		case err == nil:
			log.WithField("backend", name).Info("connected")
			return true
		case errors.Is(err, config.ErrNotConfigured):
			log.WithField("backend", name).Info("not configured, disabled")
			return false
		default:
			log.WithError(err).WithField("backend", name).Fatal("init failed")
			return false
		}
	}
	redisOK := enabled("redis", config.InitRedis())
	mongoOK := enabled("mongo", config.InitMongo())
	if mongoOK {
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("mongo indexes")
		}
	}
	pgOK := enabled("postgres", config.InitPostgres())
	if pgOK {
		if err := config.MigratePostgres(); err != nil {
			log.WithError(err).Fatal("transcript migration")
		}
	}

	// session snapshots and chunk metadata
	var store registry.Store
	var chunks orchestrator.ChunkRecorder
	switch {
	case mongoOK:
		db := config.MongoClient.Database(config.MongoDBName())
		store = mongorepo.NewSessionRepo(db)
		chunks = mongorepo.NewChunkRepo(db, 0)
	case cfg.StateFile != "":
		bs, err := boltrepo.Open(cfg.StateFile)
		if err != nil {
			log.WithError(err).Fatal("open state file")
		}
		defer bs.Close()
		store = bs
	}
	reg := registry.New(cfg.MaxConcurrentSessions, registry.WithStore(store, log))

	// merged recordings
	var archive, staging storage.Uploader
	switch {
	case cfg.ArchiveBucket != "":
		gcs, err := storage.NewGCSUploader(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.WithError(err).Fatal("gcs client")
		}
		defer gcs.Close()
		archive, staging = gcs, gcs
	case cfg.ArchiveDir != "":
		archive = storage.LocalUploader{Root: cfg.ArchiveDir}
	}

	var transcriber stt.Transcriber
	switch cfg.STTProvider {
	case "http":
		transcriber = stt.NewHTTPService(cfg.STTURL)
	case "google":
		gs, err := stt.NewGoogleSpeech(ctx, cfg.STTLanguage, staging)
		if err != nil {
			log.WithError(err).Fatal("speech client")
		}
		defer gs.Close()
		transcriber = gs
	}

	var merger pipeline.Merger = pipeline.ConcatMerger{}
	if cfg.ChunkFormat != "pcm" {
		merger = pipeline.FFmpegMerger{Binary: cfg.FFmpegBinary}
	}

	var hub *recording.Hub
	var audio recording.Source
	switch cfg.AudioSource {
	case "websocket":
		hub = recording.NewHub()
		audio = hub
	case "ffmpeg":
		audio = &recording.CommandSource{
			Binary: cfg.FFmpegBinary,
			Device: cfg.CaptureDevice,
			Format: cfg.CaptureFormat,
		}
	}

	// lifecycle events
	var notifiers notify.Multi
	var webhook *notify.WebhookClient
	if cfg.WebhookURL != "" {
		webhook = notify.NewWebhookClient(cfg.WebhookURL, cfg.WebhookSecret, m)
	}
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var pool *workers.WebhookWorkerPool
	var asyncWebhook *notify.WebhookNotifier
	switch {
	case redisOK:
		notifiers = append(notifiers, notify.NewStreamNotifier(config.RedisClient, cfg.EventStream, log, m))
		if webhook != nil {
			pool = &workers.WebhookWorkerPool{
				Redis:      config.RedisClient,
				Webhook:    webhook,
				NumWorkers: cfg.WebhookWorkers,
				Logger:     log,
				Stream:     cfg.EventStream,
			}
			if err := pool.Start(workerCtx); err != nil {
				log.WithError(err).Fatal("webhook workers")
			}
		}
	case webhook != nil:
		asyncWebhook = notify.NewWebhookNotifier(webhook, cfg.WebhookWorkers, 256, log, m)
		notifiers = append(notifiers, asyncWebhook)
	}
	if len(notifiers) == 0 {
		log.Warn("no event channel configured, lifecycle events are dropped")
	}

	// transcript archive
	var transcripts services.TranscriptService
	if pgOK {
		var c cache.Cache = cache.NewMemoryCache()
		if redisOK {
			c = cache.NewRedisCache(config.RedisClient, "meetbot:")
		}
		var summarizer llm.Provider
		if cfg.VertexProject != "" {
			v, err := llm.NewVertexGemini(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
			if err != nil {
				log.WithError(err).Warn("vertex client, summaries disabled")
			} else {
				defer v.Close()
				summarizer = v
			}
		}
		transcripts = services.NewTranscriptService(pgrepo.NewTranscriptRepo(config.PostgresDB), c, summarizer, log)
	}

	orch := orchestrator.New(orchestrator.Config{
		JoinTimeout:        cfg.JoinTimeout,
		MaxSessionDuration: cfg.MaxSessionDuration,
		DisplayName:        cfg.DisplayName,
	}, orchestrator.Deps{
		Registry: reg,
		Driver:   bot.NewHTTPDriver(cfg.BotWorkerURL, cfg.BotWorkerToken, log),
		Chunker: recording.NewChunker(recording.Config{
			Dir:      cfg.RecordingsDir,
			Interval: cfg.ChunkInterval,
			Ext:      cfg.ChunkFormat,
		}, log),
		Audio: audio,
		Pipeline: &pipeline.Pipeline{
			Ext:          cfg.ChunkFormat,
			Merger:       merger,
			Transcriber:  transcriber,
			Archive:      archive,
			RetainChunks: cfg.RetainChunks,
			Log:          log,
			Metrics:      m,
		},
		Notifier:    notifiers,
		Chunks:      chunks,
		Transcripts: transcripts,
		Log:         log,
		Metrics:     m,
	})

	if n, err := orch.Restore(ctx); err != nil {
		log.WithError(err).Warn("restoring sessions")
	} else if n > 0 {
		log.WithField("interrupted", n).Warn("sessions from the previous run were interrupted")
	}

	persistCtx, stopPersist := context.WithCancel(context.Background())
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		reg.RunPersistence(persistCtx)
	}()

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		Session: handlers.NewSessionHandler(orch, transcripts),
		Bot:     handlers.NewBotHandler(orch),
		WS:      handlers.NewWSHandler(orch, hub, config.RedisClient, log),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "max_sessions": cfg.MaxConcurrentSessions}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("sessions did not finish before the deadline")
	}
	if hub != nil {
		hub.Close()
	}

	stopPersist()
	<-persistDone

	if asyncWebhook != nil {
		asyncWebhook.Close()
	}
	stopWorkers()
	if pool != nil {
		pool.Wait()
	}

	if config.RedisClient != nil {
		_ = config.RedisClient.Close()
	}
	if config.MongoClient != nil {
		_ = config.MongoClient.Disconnect(shutdownCtx)
	}
	log.Info("bye")
}
