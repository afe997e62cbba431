package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/config"
	"github.com/bookmark-reading/Lon03/persist"
	"github.com/bookmark-reading/Lon03/scorer"
	"github.com/bookmark-reading/Lon03/session"
	"github.com/bookmark-reading/Lon03/store"
	"github.com/bookmark-reading/Lon03/stt"
	"github.com/bookmark-reading/Lon03/timeline"
	"github.com/bookmark-reading/Lon03/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file found, using environment variables")
	}
	cfg := config.Load()
	log := logrus.WithField("component", "main")

	if cfg.DeepgramAPIKey == "" || cfg.OpenAIAPIKey == "" {
		log.Fatal("DEEPGRAM_API_KEY and OPEN_AI_API_KEY must be set")
	}

	sqliteStore, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		log.WithError(err).Fatal("store open failed")
	}
	defer sqliteStore.Close()

	pipeline := persist.NewPipeline(sqliteStore, persist.Options{
		QueueSize:              cfg.QueueSize,
		WorkerCount:            cfg.WorkerCount,
		ChunkBatchSize:         cfg.ChunkBatchSize,
		TranscriptionBatchSize: cfg.TranscriptionBatchSize,
		FlushInterval:          cfg.FlushInterval,
		RecordTTL:              cfg.RecordTTL(),
		ImmediateHelpEvents:    cfg.ImmediateHelpEvents,
		ImmediateBatchMetrics:  cfg.ImmediateBatchMetrics,
		ImmediateSummaries:     cfg.ImmediateSummaries,
	})
	pipeline.Start()

	scorerClient, err := scorer.NewClient(cfg.OpenAIAPIKey, cfg.ScorerModel, cfg.ScorerTimeout)
	if err != nil {
		log.WithError(err).Fatal("scorer init failed")
	}
	sttClient, err := stt.NewClient(cfg.DeepgramAPIKey)
	if err != nil {
		log.WithError(err).Fatal("recognizer init failed")
	}

	// TTS is optional: without a key, help messages go out text-only.
	var synth session.Synthesizer
	if cfg.ElevenLabsAPIKey != "" {
		ttsClient, err := tts.NewClient(cfg.ElevenLabsAPIKey, cfg.TTSVoiceID, cfg.TTSModelID)
		if err != nil {
			log.WithError(err).Fatal("tts init failed")
		}
		synth = ttsClient
	} else {
		log.Warn("ELEVEN_LABS_API_KEY not set, help audio disabled")
	}

	timelineStore := timeline.NewStore()

	// Housekeeping: evict old in-memory sessions and purge expired
	// durable records once an hour.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				timelineStore.Evict(time.Duration(cfg.SessionMaxAgeHours) * time.Hour)
				if _, err := sqliteStore.PurgeExpired(sweepCtx, time.Now()); err != nil {
					log.WithError(err).Warn("TTL purge failed")
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	sessionOpts := session.Options{
		BatchInterval: time.Duration(cfg.BatchIntervalSeconds) * time.Second,
		RetainAudio:   cfg.RetainAudioPayload,
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"queue_depth": pipeline.QueueDepth(),
		})
	})

	// Read-back of a persisted session: metadata, batches and summary.
	reader := persist.NewReader(sqliteStore)
	app.Get("/sessions/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid session id"})
		}
		ctx := c.Context()
		sess, found, err := reader.Session(ctx, id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
		}
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown session"})
		}
		chunks, err := reader.Chunks(ctx, id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
		}
		transcriptions, err := reader.Transcriptions(ctx, id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
		}
		batches, err := reader.BatchMetrics(ctx, id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
		}
		summary, _, err := reader.Summary(ctx, id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
		}
		return c.JSON(fiber.Map{
			"session":        sess,
			"chunk_count":    len(chunks),
			"transcriptions": transcriptions,
			"batch_metrics":  batches,
			"summary":        summary,
		})
	})

	// A student's session history, for the post-session review screens.
	app.Get("/students/:id/sessions", func(c *fiber.Ctx) error {
		studentID := c.Params("id")
		if studentID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing student id"})
		}
		sessions, err := reader.StudentSessions(c.Context(), studentID, c.QueryInt("limit"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store read failed"})
		}
		return c.JSON(fiber.Map{
			"student_id": studentID,
			"sessions":   sessions,
		})
	})

	app.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/stream", websocket.New(func(ws *websocket.Conn) {
		h := session.NewHandler(ws, timelineStore, pipeline, scorerClient, synth, sttClient, sessionOpts)
		log.WithField("client", h.ClientID()).Info("client connected")
		h.Run(context.Background())
		log.WithField("client", h.ClientID()).Info("client disconnected")
	}))

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	stopSweep()
	if err := app.Shutdown(); err != nil {
		log.WithError(err).Warn("server shutdown failed")
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pipeline.Stop(drainCtx)
}
