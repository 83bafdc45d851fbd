package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xpanvictor/cortado/internal/config"
	"github.com/xpanvictor/cortado/internal/live/console"
	"github.com/xpanvictor/cortado/internal/live/datasource"
	"github.com/xpanvictor/cortado/internal/live/instructions"
	"github.com/xpanvictor/cortado/internal/live/session"
	"github.com/xpanvictor/cortado/internal/live/toolcall"
	"github.com/xpanvictor/cortado/internal/live/ui"
	"github.com/xpanvictor/cortado/internal/metrics"
	"github.com/xpanvictor/cortado/pkg/Logger"
	"github.com/xpanvictor/cortado/pkg/io/capture"
	"github.com/xpanvictor/cortado/pkg/io/device"
	"github.com/xpanvictor/cortado/pkg/io/device/portaudio"
	"github.com/xpanvictor/cortado/pkg/io/pcm"
	"github.com/xpanvictor/cortado/pkg/io/playback"
	"golang.org/x/sync/errgroup"
)

// Terminal front-end for a live voice session with the analytics agent.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default config_<env>.yaml)")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := Logger.New(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorf("live session ended with error: %v", err)
		os.Exit(1)
	}
	logger.Info("bye")
}

func run(ctx context.Context, cfg *config.Settings, logger *Logger.Logger) error {
	ds, err := buildDatasource(cfg.Datasource)
	if err != nil {
		return err
	}

	fetcher := instructions.NewFetcher(cfg.Instructions.BaseURL, &http.Client{Timeout: 15 * time.Second})
	instruction, err := fetcher.Fetch(ctx, cfg.Instructions.Page)
	if err != nil {
		logger.Warnf("no system instruction for page %s: %v", cfg.Instructions.Page, err)
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	player := playback.New(playback.Config{
		FrameSize:     cfg.Audio.FrameSize,
		SampleRate:    cfg.Audio.OutputSampleRate,
		BufferSeconds: cfg.Audio.BufferSeconds,
		Volume:        cfg.Audio.Volume,
	}, logger)
	speaker := portaudio.NewSpeaker(cfg.Audio.OutputSampleRate, cfg.Audio.OutputChannels, logger)
	if err := speaker.Start(player); err != nil {
		logger.Errorf("speaker unavailable, answers will be text only: %v", err)
	}
	defer func() { _ = speaker.Close() }()

	sess, err := session.New(session.Config{
		URL:               cfg.Live.URL,
		APIKey:            cfg.Live.APIKey,
		Model:             cfg.Live.Model,
		Voice:             cfg.Live.Voice,
		Language:          cfg.Live.Language,
		SilenceDurationMs: cfg.Live.SilenceDurationMs,
		DialTimeout:       cfg.Live.DialTimeout,
		ReconnectMin:      cfg.Live.ReconnectMin,
		ReconnectMax:      cfg.Live.ReconnectMax,
	}, session.Deps{
		Adapter:      ui.NewLogging(logger),
		User:         ui.User{Email: cfg.Agent.Email, AvatarURL: cfg.Agent.AvatarURL},
		Player:       player,
		Datasource:   ds,
		Instructions: instruction,
		Agent: toolcall.Config{
			StreamURL:      cfg.Agent.StreamURL,
			PythonAnalysis: cfg.Agent.PythonAnalysis,
		},
		Metrics: metrics.NewLive(prometheus.DefaultRegisterer),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	mic := portaudio.NewMicrophone(cfg.Audio.InputSampleRate, cfg.Audio.CaptureFrames, logger)
	streamer := capture.New(capture.Config{Interval: cfg.Audio.CaptureInterval}, mic, func(chunk pcm.Chunk) {
		// drops while reconnecting are logged by the session
		_ = sess.SendAudio(chunk)
	}, logger)
	defer streamer.StopStreaming()

	fe := &frontEnd{sess: sess, streamer: streamer, player: player}
	if cfg.Agent.Email != "" {
		logger.Infof("asking the analytics agent as %s", cfg.Agent.Email)
	}
	fmt.Println(console.Help)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		defer sess.Close()
		return console.Run(gctx, os.Stdin, os.Stdout, fe, logger)
	})
	return g.Wait()
}

func buildDatasource(cfg config.DatasourceConfig) (datasource.Descriptor, error) {
	if len(cfg.Tables) > 0 {
		return datasource.FromTables(cfg.Tables)
	}
	return datasource.FromExplore(cfg.LookerInstanceURI, cfg.LookMLModel, cfg.Explore)
}

// frontEnd binds console commands to the session and the audio devices.
type frontEnd struct {
	sess     *session.Session
	streamer *capture.Streamer
	player   *playback.Engine

	mu sync.Mutex
}

func (f *frontEnd) Ask(text string) error { return f.sess.SendText(text) }

func (f *frontEnd) Cancel() { f.sess.CancelCortado() }

func (f *frontEnd) SetPythonAnalysis(enabled bool) { f.sess.SetPythonAnalysis(enabled) }

func (f *frontEnd) SetVolume(percent int) { f.player.SetVolume(percent) }

func (f *frontEnd) ToggleMic(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamer.Streaming() {
		f.streamer.StopStreaming()
		return false, nil
	}
	if err := f.streamer.StartStreaming(ctx); err != nil {
		if errors.Is(err, device.ErrPermission) {
			return false, fmt.Errorf("access denied, check the system microphone permissions: %w", err)
		}
		return false, err
	}
	return true, nil
}
