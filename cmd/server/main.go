package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/config"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/httpapi"
	"kasirledger/backend/internal/logger"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/service"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/store/memory"
	pgstore "kasirledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.DBAutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				log.Fatal().Err(err).Msg("apply schema")
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("repository", "postgres").Msg("storage ready")
	} else {
		repo = memory.NewSeeded()
		log.Info().Str("repository", "memory").Msg("storage ready")
	}

	var (
		dedup      cache.Deduper = cache.NoopDeduper{}
		publishers events.Fanout
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisDedup := cache.NewRedisDeduper(client, cache.DefaultDedupTTL)
		if err := redisDedup.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, webhook dedup and redis events disabled")
			_ = client.Close()
		} else {
			dedup = redisDedup
			publishers = append(publishers, events.NewRedisPublisher(client, cfg.RedisChannel))
			closers = append(closers, client.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis ready")
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		publishers = append(publishers, events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka publisher ready")
	}
	var publisher events.Publisher = events.Noop{}
	if len(publishers) > 0 {
		publisher = publishers
		// publishers flush before the redis client they may share is closed
		closers = append([]func() error{publishers.Close}, closers...)
	}

	providers, err := payment.New(payment.Config{
		Provider:    cfg.Payment.Provider,
		Env:         cfg.Env,
		HTTPTimeout: time.Duration(cfg.Payment.HTTPTimeoutSeconds) * time.Second,
		Midtrans: payment.MidtransConfig{
			ServerKey:  cfg.Payment.MidtransServerKey,
			BaseURL:    cfg.Payment.MidtransBaseURL,
			Production: cfg.Payment.MidtransProduction,
		},
		Xendit: payment.XenditConfig{
			SecretKey:     cfg.Payment.XenditSecretKey,
			BaseURL:       cfg.Payment.XenditBaseURL,
			CallbackToken: cfg.Payment.XenditCallbackToken,
			WebhookSecret: cfg.Payment.XenditWebhookSecret,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("payment provider")
	}
	log.Info().Str("gateway", providers.Gateway.Name()).Msg("payment gateway ready")

	svc := service.New(repo, providers, publisher, dedup, service.Config{
		DefaultOutletID: cfg.DefaultOutletID,
		DefaultTaxRate:  cfg.DefaultTaxRate,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("env", cfg.Env).Msg("ledger backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	log.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.IsProduction() && cfg.Payment.Provider == payment.ProviderMidtrans && cfg.Payment.MidtransServerKey == "" {
		return fmt.Errorf("MIDTRANS_SERVER_KEY must be set when the midtrans gateway is active in production")
	}
	if cfg.IsProduction() && cfg.Payment.Provider == payment.ProviderXendit && (cfg.Payment.XenditSecretKey == "" || cfg.Payment.XenditCallbackToken == "") {
		return fmt.Errorf("XENDIT_SECRET_KEY and XENDIT_CALLBACK_TOKEN must be set when the xendit gateway is active in production")
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential, or on a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
