package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/jarvis/internal/audio"
	"github.com/sjawhar/jarvis/internal/chat"
	"github.com/sjawhar/jarvis/internal/config"
	"github.com/sjawhar/jarvis/internal/gdrive"
	"github.com/sjawhar/jarvis/internal/hologram"
	"github.com/sjawhar/jarvis/internal/live"
	"github.com/sjawhar/jarvis/internal/llm"
	"github.com/sjawhar/jarvis/internal/metrics"
	"github.com/sjawhar/jarvis/internal/profile"
	"github.com/sjawhar/jarvis/internal/server"
	"github.com/sjawhar/jarvis/internal/session"
	"github.com/sjawhar/jarvis/internal/storage"
)

// The HUD build is copied into static/ before compiling. Without it the
// server answers with the recovery page.
//
//go:embed all:static
var staticFiles embed.FS

const outputFramesPerBuffer = 1024

func main() {
	log.Println("jarvis: starting")

	cfg, warnings, err := config.Load(envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static assets init failed: %v", err)
	}

	m := metrics.New()
	hub := server.NewHub()

	projector := hologram.NewProjector(newImageGenerator(cfg), hologram.WithObserver(hub), hologram.WithMetrics(m))

	profiles, err := profile.NewManager(store, profile.WithObserver(hub))
	if err != nil {
		log.Fatalf("profile init failed: %v", err)
	}

	chatService := chat.NewService(chat.Config{
		Store:     store,
		Client:    newChatClient(cfg),
		Projector: hologram.NewTool(projector, profiles.Theme),
		Observer:  hub,
		Metrics:   m,
		Window:    cfg.HistoryWindow,
	})

	deps := server.Deps{
		Profiles:   profiles,
		Chat:       chatService,
		Projection: projector,
		VoiceLog:   store,
		Metrics:    m.Handler(),
		Warnings:   func() []string { return warnings },
	}

	terminate, err := audio.Init()
	if err != nil {
		log.Printf("warning: audio unavailable, voice disabled: %v", err)
	} else {
		defer terminate()
		voice := newVoiceController(cfg, store, hub, chat.NewVoiceSink(chatService, profiles.Identity), m)
		profiles.SetVoice(voice)
		deps.Voice = voice
	}

	handler, err := server.Handler(assets, hub, deps)
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	var uploader chat.Uploader
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			uploader = syncer
		}
	}
	exporter := chat.NewExporter(chatService, store, storage.NewWriter(cfg.ExportDir), uploader, cfg.ParsedExportInterval())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx, cfg.ListenAddr, handler)
	})
	g.Go(func() error {
		return exporter.Run(ctx)
	})

	hub.Logf("SYSTEMS_ONLINE")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("jarvis: %v", err)
	}
	log.Println("jarvis: shutting down")

	// Stopping voice flushes the pending turn into the transcript, so it
	// must happen before the last export.
	if deps.Voice != nil {
		_ = deps.Voice.Stop()
	}
	if cfg.ParsedExportInterval() > 0 {
		if err := exporter.ExportOnce(); err != nil {
			log.Printf("warning: final export failed: %v", err)
		}
	}
}

func newChatClient(cfg config.Config) llm.Client {
	provider, model, err := llm.ParseModel(cfg.ChatModel)
	if err != nil {
		return nil
	}
	key := cfg.APIKey(provider)
	if key == "" {
		return nil
	}
	client, err := llm.NewClient(provider, key, model)
	if err != nil {
		log.Printf("warning: chat client unavailable: %v", err)
		return nil
	}
	return client
}

func newImageGenerator(cfg config.Config) llm.ImageGenerator {
	provider, model, err := llm.ParseModel(cfg.ImageModel)
	if err != nil || cfg.APIKey(provider) == "" {
		return nil
	}
	images, err := llm.NewImageGenerator(provider, cfg.APIKey(provider), model)
	if err != nil {
		log.Printf("warning: image model unavailable: %v", err)
		return nil
	}
	return images
}

func newVoiceController(cfg config.Config, store *storage.SQLiteStore, hub *server.Hub, sink *chat.VoiceSink, m *metrics.Metrics) *session.Controller {
	var recorder session.Recorder
	if cfg.RecordVoice {
		recorder = audio.NewRecorder(cfg.AudioDir, cfg.CaptureSampleRate)
	}

	liveCfg := live.Config{
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.LiveModel,
		BaseURL:      cfg.LiveBaseURL,
		Instructions: chat.SystemInstruction,
		Tools:        []live.Tool{hologram.LiveTool()},
	}

	return session.NewController(session.Config{
		OpenInput: func() (session.Input, error) {
			src, err := audio.OpenSource(cfg.CaptureSampleRate, cfg.CaptureBlockSize)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		OpenOutput: func() (session.Output, error) {
			out, err := audio.OpenOutput(cfg.PlaybackSampleRate, outputFramesPerBuffer)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
		Dial: func(ctx context.Context, h live.Handlers) (session.Transport, error) {
			if liveCfg.APIKey == "" {
				return nil, errors.New("gemini api key not configured")
			}
			client, err := live.Dial(ctx, liveCfg, h)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		CaptureRate:  cfg.CaptureSampleRate,
		PlaybackRate: cfg.PlaybackSampleRate,
		Sink:         sink,
		Observer:     hub,
		Tools:        sink,
		Recorder:     recorder,
		Store:        store,
		Metrics:      m,
	})
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
