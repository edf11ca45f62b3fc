package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mensis/room-scribe/internal/config"
	"github.com/mensis/room-scribe/internal/delivery"
	"github.com/mensis/room-scribe/internal/gdrive"
	"github.com/mensis/room-scribe/internal/server"
	"github.com/mensis/room-scribe/internal/session"
	"github.com/mensis/room-scribe/internal/storage"
	"github.com/mensis/room-scribe/internal/transcribe"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	os.Exit(run(os.Args[1:], logger))
}

// run wires the worker and blocks until shutdown. It returns the process
// exit code so deferred cleanup runs on every path.
func run(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("room-scribe", flag.ContinueOnError)
	configPath := fs.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "path to YAML config file")
	room := fs.String("room", "", "room name to transcribe (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger.Info("room-scribe: starting")

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "err", err)
		return 1
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	if *room != "" {
		cfg.Room = *room
	}

	files := storage.NewFileStore(cfg.TranscriptsDir, cfg.SpeechDir)

	ledger, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("session ledger init failed", "err", err)
		return 1
	}
	defer func() { _ = ledger.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub()
	idle := make(chan struct{}, 1)
	var sess *session.Session
	if cfg.Room != "" {
		sess, err = newSession(ctx, cfg, files, ledger, hub, idle, logger)
		if err != nil {
			logger.Error("session init failed", "room", cfg.Room, "err", err)
			return 1
		}
	}

	handler, err := server.Handler(server.Deps{
		Transcripts: files,
		Sessions:    ledger,
		Hub:         hub,
		Metrics:     promhttp.Handler(),
	})
	if err != nil {
		logger.Error("build http handler failed", "err", err)
		return 1
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()
	logger.Info("transcript API listening", "addr", cfg.ListenAddr)

	var stopSTT func()
	if sess != nil {
		sess.Start()
		if cfg.DeepgramAPIKey != "" {
			stopSTT = startTranscription(ctx, cfg, sess, logger)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
		logger.Info("room-scribe: shutting down")
	case <-idle:
		logger.Info("room-scribe: idle timeout reached, shutting down")
	}
	cancel()

	if stopSTT != nil {
		stopSTT()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ParsedDeliveryTimeout()+5*time.Second)
	defer shutdownCancel()

	code := 0
	if sess != nil {
		if err := sess.Shutdown(shutdownCtx); err != nil {
			logger.Error("session shutdown failed", "room", sess.Room(), "err", err)
			code = 1
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "err", err)
	}
	return code
}

func newSession(
	ctx context.Context,
	cfg config.Config,
	files *storage.FileStore,
	ledger *storage.SQLiteStore,
	hub *server.Hub,
	idle chan<- struct{},
	logger *slog.Logger,
) (*session.Session, error) {
	detector := session.NewDetector(cfg.ParsedIdleTimeout())
	detector.OnIdle(func() {
		select {
		case idle <- struct{}{}:
		default:
		}
	})

	opts := session.Options{
		Room:  cfg.Room,
		PID:   os.Getpid(),
		Files: files,
		Deliverer: delivery.New(delivery.Options{
			URL:                cfg.DeliveryURL,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Timeout:            cfg.ParsedDeliveryTimeout(),
		}),
		Ledger:   ledger,
		Hub:      hub,
		Detector: detector,
		Logger:   logger,
	}

	if cfg.GDriveFolderID != "" {
		syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			logger.Warn("gdrive archive disabled", "err", err)
		} else {
			opts.Archiver = syncer
		}
	}

	return session.New(opts)
}

// startTranscription opens the microphone and streams it to Deepgram. It
// degrades to API-only mode when audio or the provider is unavailable and
// returns a func that stops whatever was started.
func startTranscription(ctx context.Context, cfg config.Config, sess *session.Session, logger *slog.Logger) func() {
	microphone.Initialize()

	var mic *microphone.Microphone
	var err error
	selectedSampleRate := 16000
	for _, rate := range cfg.SampleRateCandidates() {
		mic, err = microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
		if err != nil {
			logger.Warn("microphone open failed", "rate", rate, "err", err)
			continue
		}
		selectedSampleRate = rate
		break
	}

	if mic == nil {
		logger.Warn("microphone unavailable, running API only")
		return func() { microphone.Teardown() }
	}
	if err := mic.Start(); err != nil {
		logger.Warn("microphone start failed, running API only", "rate", selectedSampleRate, "err", err)
		return func() { microphone.Teardown() }
	}
	logger.Info("microphone started", "rate", selectedSampleRate)

	client.Init(client.InitLib{LogLevel: client.LogLevelDefault})

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       cfg.DeepgramModel,
		Language:    cfg.DeepgramLanguage,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  selectedSampleRate,
		Channels:    1,
	}

	callback := transcribe.Callback{Handler: sess, Logger: logger.With("room", sess.Room())}
	dgClient, err := client.NewWSUsingCallback(ctx, cfg.DeepgramAPIKey, cOptions, tOptions, callback)
	if err != nil {
		logger.Warn("deepgram client unavailable, running API only", "err", err)
		_ = mic.Stop()
		return func() { microphone.Teardown() }
	}
	if ok := dgClient.Connect(); !ok {
		logger.Warn("deepgram connect failed, running API only")
		_ = mic.Stop()
		return func() { microphone.Teardown() }
	}

	go streamMicWithRetry(ctx, mic, dgClient, time.Sleep, func(format string, args ...any) {
		logger.Warn(fmt.Sprintf(format, args...))
	})

	return func() {
		dgClient.Stop()
		_ = mic.Stop()
		microphone.Teardown()
	}
}

type micStreamer interface {
	Stream(writer io.Writer) error
}

func streamMicWithRetry(
	ctx context.Context,
	streamer micStreamer,
	writer io.Writer,
	wait func(time.Duration),
	logf func(string, ...any),
) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := streamer.Stream(writer)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			logf("mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		logf("mic stream error: %v", err)
		return
	}
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
