// Command optionsd runs the bitcoin options node, its oracle price feeder,
// or an archive replay, depending on the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/sbtcoptions/internal/app"
	"github.com/alanyoungcy/sbtcoptions/internal/config"
	"github.com/alanyoungcy/sbtcoptions/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (node, feeder, replay)")
	encryptKey := flag.String("encrypt-key", "", "encrypt OPTIONSD_KEY_HEX with OPTIONSD_KEY_PASSWORD into this file and exit")
	flag.Parse()

	if *encryptKey != "" {
		if err := writeEncryptedKey(*encryptKey); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("optionsd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("optionsd stopped")
}

// writeEncryptedKey produces the key file read by feeder.encrypted_key_path.
func writeEncryptedKey(path string) error {
	keyHex, password := os.Getenv("OPTIONSD_KEY_HEX"), os.Getenv("OPTIONSD_KEY_PASSWORD")
	if keyHex == "" || password == "" {
		return errors.New("OPTIONSD_KEY_HEX and OPTIONSD_KEY_PASSWORD must be set")
	}
	data, err := crypto.EncryptKey(keyHex, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
