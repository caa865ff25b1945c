package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ChatGPT-CN/chat-ai/internal/chatstate"
	"github.com/ChatGPT-CN/chat-ai/internal/client"
	"github.com/ChatGPT-CN/chat-ai/internal/config"
	"github.com/ChatGPT-CN/chat-ai/internal/crypto"
	"github.com/ChatGPT-CN/chat-ai/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, storage.Options{
		AutoMigrate:   cfg.Store.AutoMigrate,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		KeyPrefix:     cfg.Store.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := kv.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("close store: %w", cerr)).ErrorOrNil()
		}
	}()

	stateCfg := chatstate.Config{
		KV:              kv,
		Logger:          log.Logger,
		DefaultProvider: cfg.DefaultProvider,
	}
	if cfg.Crypto.Enabled() {
		manager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			return fmt.Errorf("init crypto: %w", err)
		}
		stateCfg.Sealer = manager
		log.Debug().Str("key_id", manager.CurrentKeyID()).Msg("credential sealing enabled")
	}

	store := chatstate.New(stateCfg)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := store.Reseal(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to reseal stored credentials")
	}

	log.Info().
		Str("relay", cfg.RelayURL).
		Str("store", cfg.Store.Driver).
		Bool("sealed", cfg.Crypto.Enabled()).
		Msg("chat client ready")

	c := client.New(cfg.RelayURL, cfg.Timeout).WithChatPath(cfg.ChatPath)
	return newShell(store, c, os.Stdout, log.Logger).run(ctx, os.Stdin)
}

// setupLogger writes to stderr so log lines stay out of the conversation.
func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}
