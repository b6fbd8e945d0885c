package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"telecare/internal/core/domain"
	"telecare/internal/infrastructure/avatar"
	webrtcinfra "telecare/internal/infrastructure/webrtc"
	"telecare/internal/rtc"
	"telecare/pkg/config"
	"telecare/pkg/logger"
	"telecare/pkg/utils"
)

// Headless consultation client: joins a room through the signaling server,
// negotiates the peer connection and runs until interrupted or the call ends.
func main() {
	var (
		serverURL = flag.String("server", "ws://localhost:8080/ws", "signaling server websocket URL")
		roomID    = flag.String("room", "", "consultation room id (required)")
		userID    = flag.String("user", "", "participant id (generated from the role when empty)")
		roleName  = flag.String("role", "patient", "participant role: doctor or patient")
		token     = flag.String("token", "", "consultation token when the server requires auth")
	)
	flag.Parse()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: call -room room_<id> [-role doctor|patient] [-server ws://host/ws] [-token ...]")
		os.Exit(2)
	}
	role := domain.Role(*roleName)
	if role != domain.RoleDoctor && role != domain.RolePatient {
		fmt.Fprintf(os.Stderr, "unknown role %q, expected doctor or patient\n", *roleName)
		os.Exit(2)
	}
	if *userID == "" {
		*userID = utils.NewUserID(string(role))
	}

	configPath := os.Getenv("TELECARE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	session, err := webrtcinfra.NewSession(webrtcinfra.ConfigFrom(cfg), log)
	if err != nil {
		log.Fatalw("failed to create media session", "error", err)
	}
	devices := webrtcinfra.NewDevices(log)

	avatarClient := avatar.NewClient(avatar.Config{
		BaseURL:        cfg.Avatar.BaseURL,
		APIKey:         cfg.Avatar.APIKey,
		DefaultAvatar:  cfg.Avatar.DefaultAvatar,
		DefaultVoice:   cfg.Avatar.DefaultVoice,
		RequestTimeout: cfg.Avatar.RequestTimeout,
		PollInterval:   cfg.Avatar.PollInterval,
		PollAttempts:   cfg.Avatar.PollAttempts,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rtc.Dial(ctx, *serverURL, *token, log)
	if err != nil {
		log.Fatalw("failed to connect to signaling server", "server", *serverURL, "error", err)
	}

	call := rtc.NewCall(
		rtc.CallConfigFrom(cfg, domain.RoomID(*roomID), domain.UserID(*userID), role),
		client, session, devices, avatarClient, log)

	call.OnChatMessage(func(from domain.UserID, msg domain.ChatMessagePayload) {
		log.Infow("chat", "from", from, "text", msg.Text)
	})
	call.OnLowBandwidthAlert(func(alert domain.LowBandwidthPayload) {
		log.Warnw("low bandwidth in room",
			"user_id", alert.UserID, "kbps", alert.BandwidthKbps,
			"recommendation", alert.Recommendation)
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("hanging up")
		call.Hangup()
		cancel()
	}()

	log.Infow("joining consultation",
		"room_id", *roomID, "user_id", *userID, "role", role, "server", *serverURL)
	if err := call.Start(ctx); err != nil {
		log.Fatalw("call ended with error", "error", err)
	}
	log.Infow("call ended", "state", call.State())
}
