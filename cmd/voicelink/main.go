package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/soundpath/voicelink/pkg/config"
	"github.com/soundpath/voicelink/pkg/devices"
	"github.com/soundpath/voicelink/pkg/events"
	"github.com/soundpath/voicelink/pkg/logger"
	"github.com/soundpath/voicelink/pkg/protocol"
	"github.com/soundpath/voicelink/pkg/session"
)

func main() {
	listDevices := flag.Bool("list-devices", false, "print audio devices and exit")
	trigger := flag.Bool("trigger", false, "start capture immediately instead of waiting for a wake word")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	audioCtx, err := devices.NewContext(logger.Lg)
	if err != nil {
		logger.Fatal("audio context init failed", zap.Error(err))
	}
	defer audioCtx.Free()

	if *listDevices {
		if err := devices.PrintAllDevices(os.Stdout, audioCtx); err != nil {
			logger.Fatal("device enumeration failed", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel, err := protocol.Dial(ctx, cfg.Server.URL, cfg.Server.DialTimeout, logger.Lg)
	if err != nil {
		logger.Fatal("voice channel dial failed", zap.Error(err))
	}
	defer channel.Close()

	bus := events.Default()
	controller, err := session.NewController(session.Options{
		Capture:          devices.NewMicCapture(audioCtx, logger.Lg),
		Playback:         devices.NewSpeakerPlayback(audioCtx, logger.Lg),
		Channel:          channel,
		Continuous:       cfg.Session.Continuous,
		AcquireTimeout:   cfg.Session.AcquireTimeout,
		FrameRetries:     cfg.Session.FrameRetries,
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         cfg.Audio.Channels,
		FrameDuration:    cfg.Audio.FrameDuration,
		Encoding:         cfg.Audio.Encoding,
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		AutoGainControl:  cfg.Audio.AutoGainControl,
		Logger:           logger.Lg,
		Bus:              bus,
	})
	if err != nil {
		logger.Fatal("controller init failed", zap.Error(err))
	}
	defer controller.Close()

	bus.Subscribe(events.TopicStateChanged, func(event events.Event) error {
		logger.Info("session state changed", zap.Any("state", event.Data["state"]))
		return nil
	})
	bus.Subscribe(events.TopicError, func(event events.Event) error {
		logger.Warn("session error",
			zap.Any("kind", event.Data["kind"]),
			zap.Any("message", event.Data["message"]),
			zap.Any("hint", event.Data["hint"]))
		return nil
	})

	if err := channel.Start(controller.HandleIncomingEvent); err != nil {
		logger.Fatal("channel start failed", zap.Error(err))
	}

	logger.Info("voicelink started",
		zap.String("server", cfg.Server.URL),
		zap.String("session", channel.SessionID()),
		zap.Bool("continuous", cfg.Session.Continuous))

	switch {
	case *trigger:
		if err := controller.TriggerManual(ctx, session.SourceUI); err != nil {
			logger.Warn("initial trigger failed", zap.Error(err))
		}
	case cfg.Session.Continuous:
		// Continuous sessions listen from startup without a trigger.
		if err := controller.StartCapture(ctx); err != nil {
			logger.Warn("initial capture failed", zap.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	_ = controller.StopCapture()
}
