// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// palaver-call is a headless call endpoint for development and
// diagnostics: it connects to the backend as one user, answers
// incoming video calls (or places one), and logs the call lifecycle.
//
// Wait for calls, answering automatically:
//
//	palaver-call --config palaver.yaml --user u1 --persona p1 --auto-accept
//
// Place a call:
//
//	palaver-call --config palaver.yaml --user u1 --persona p1 \
//	    --conversation conv-1 --callee-user u2 --callee-persona p2
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/palaver-chat/palaver/backend"
	"github.com/palaver-chat/palaver/call"
	"github.com/palaver-chat/palaver/ledger"
	"github.com/palaver-chat/palaver/lib/config"
	"github.com/palaver-chat/palaver/lib/identity"
	"github.com/palaver-chat/palaver/lib/version"
	"github.com/palaver-chat/palaver/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		userID        string
		personaID     string
		conversation  string
		calleeUser    string
		calleePersona string
		autoAccept    bool
	)

	flagSet := pflag.NewFlagSet("palaver-call", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to palaver.yaml (default: $PALAVER_CONFIG)")
	flagSet.StringVar(&userID, "user", "", "local user ID")
	flagSet.StringVar(&personaID, "persona", "", "local persona ID")
	flagSet.StringVar(&conversation, "conversation", "", "conversation to call into (placing mode)")
	flagSet.StringVar(&calleeUser, "callee-user", "", "callee user ID (placing mode)")
	flagSet.StringVar(&calleePersona, "callee-persona", "", "callee persona ID (placing mode)")
	flagSet.BoolVar(&autoAccept, "auto-accept", false, "answer incoming calls without asking")

	// Handle --version before flag parsing to match other Palaver binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("palaver-call")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if userID == "" || personaID == "" {
		return fmt.Errorf("--user and --persona are required")
	}
	placing := conversation != ""
	if placing && (calleeUser == "" || calleePersona == "") {
		return fmt.Errorf("placing a call needs --callee-user and --callee-persona")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	self, err := identity.New(userID, personaID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:     cfg.Backend.BaseURL,
		APIKey:      cfg.Backend.APIKey,
		AccessToken: cfg.Backend.AccessToken,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	realtime, err := backend.DialRealtime(ctx, backend.RealtimeConfig{
		URL:         cfg.Backend.RealtimeURL,
		BaseURL:     cfg.Backend.BaseURL,
		APIKey:      cfg.Backend.APIKey,
		AccessToken: cfg.Backend.AccessToken,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer realtime.Close()

	channel, err := signaling.NewChannel(signaling.ChannelConfig{
		Self:      self,
		Transport: signaling.NewRealtimeTransport(realtime),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer channel.Close()

	media, err := call.NewDeviceSource(logger)
	if err != nil {
		return err
	}
	calls := ledger.NewClient(backendClient, logger)

	var engine *call.Engine
	engine, err = call.NewEngine(call.EngineConfig{
		Self:        self,
		Channel:     channel,
		Ledger:      calls,
		Media:       media,
		ICEServers:  iceServers(cfg.Call.STUNServers),
		RingTimeout: cfg.Call.RingTimeout,
		Logger:      logger,
		OnIncomingCall: func(record *ledger.CallRecord) {
			logger.Info("incoming call",
				"call_id", record.ID,
				"caller", record.CallerUserID,
				"conversation_id", record.ConversationID)
			if autoAccept {
				go acceptSoon(ctx, engine, logger)
			}
		},
		OnStateChange: func(state call.State) {
			logger.Info("call state", "state", state)
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			logger.Info("remote media", "kind", track.Kind().String())
		},
		OnError: func(callErr *call.CallError) {
			logger.Error("call failed", "code", callErr.Code, "error", callErr.Err)
		},
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	feed, err := ledger.OpenRealtimeFeed(ctx, realtime, userID, logger)
	if err != nil {
		return err
	}
	defer feed.Close()

	watcher, err := ledger.NewWatcher(ledger.WatcherConfig{
		UserID:       userID,
		Store:        calls,
		Feed:         feed.Changes(),
		PollInterval: cfg.Call.PollInterval,
		Logger:       logger,
		OnIncoming:   engine.HandleRecordInsert,
		OnChange:     engine.HandleRecordUpdate,
		OnDelete:     engine.HandleRecordDelete,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("call watcher stopped", "error", err)
		}
	}()

	if placing {
		callee, err := identity.New(calleeUser, calleePersona)
		if err != nil {
			return err
		}
		if err := engine.StartCall(ctx, conversation, callee); err != nil {
			return err
		}
		logger.Info("call placed, waiting", "conversation_id", conversation)
	} else {
		logger.Info("waiting for incoming calls", "user", userID)
	}

	<-ctx.Done()

	// Hang up cleanly so the peer's record settles instead of ringing
	// out.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.EndCall(shutdownCtx); err != nil {
		logger.Warn("hangup on shutdown failed", "error", err)
	}
	return nil
}

// acceptSoon answers shortly after the ring so the caller's side sees
// a visible ringing phase.
func acceptSoon(ctx context.Context, engine *call.Engine, logger *slog.Logger) {
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	if err := engine.AcceptCall(ctx); err != nil {
		logger.Error("auto-accept failed", "error", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

func iceServers(stunURLs []string) []webrtc.ICEServer {
	if len(stunURLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: stunURLs}}
}
