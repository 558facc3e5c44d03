package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"godrop/config"
	"godrop/node"
	"godrop/storage"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while loading config")
	}
	dataDir := filepath.Dir(cfgPath)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while opening database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("database close error")
		}
	}()

	app, err := node.New(node.Options{
		DeviceName:    cfg.DeviceName,
		HTTPPort:      cfg.HTTPPort,
		DiscoveryPort: config.DiscoveryPort,
		DownloadDir:   cfg.DownloadDir,
		Store:         store,
		Logger:        &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while building node")
	}
	if err := app.Start(); err != nil {
		logger.Fatal().Err(err).Msg("startup failed while starting node")
	}
	defer app.Stop()

	fmt.Printf("Device ID:       %s\n", app.DeviceID())
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Local Address:   %s\n", node.LocalIP())
	fmt.Printf("HTTP Port:       %d\n", app.HTTPPort())
	fmt.Printf("Discovery Port:  %d\n", app.DiscoveryPort())
	fmt.Printf("Download Dir:    %s\n", app.DownloadDir())
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Database File:   %s\n", dbPath)

	go logNodeEvents(&logger, app.Events())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

func logNodeEvents(logger *zerolog.Logger, events <-chan node.Event) {
	for event := range events {
		switch event.Type {
		case node.EventDeviceFound:
			logger.Info().
				Str("device_id", event.Device.DeviceID).
				Str("device_name", event.Device.DeviceName).
				Str("address", event.Device.Address).
				Int("http_port", event.Device.HTTPPort).
				Msg("device available")
		case node.EventFileReceived:
			logger.Info().
				Str("file_id", event.File.FileID).
				Str("filename", event.File.Filename).
				Int64("size", event.File.Filesize).
				Str("path", event.File.StoredPath).
				Msg("file received")
		case node.EventFileSent:
			logger.Info().
				Str("file_id", event.File.FileID).
				Str("filename", event.File.Filename).
				Str("peer", event.File.PeerName).
				Msg("file sent")
		default:
			logger.Debug().Str("type", string(event.Type)).Msg("node event")
		}
	}
}
