// marketd runs the marketplace HTTP daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/Aynn-Network/marketplace_layer/internal/app"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/httpapi"
	"github.com/Aynn-Network/marketplace_layer/internal/app/storage/postgres"
	"github.com/Aynn-Network/marketplace_layer/internal/config"
	"github.com/Aynn-Network/marketplace_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/marketd.yaml", "path to the YAML configuration")
	envPath := flag.String("env", "", "optional .env file loaded before the configuration")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			logger.NewDefault("marketd").WithError(err).Fatal("load env file")
		}
	} else {
		// Best effort: a local .env is optional.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("marketd").WithError(err).Fatal("load configuration")
	}

	log := logger.New("marketd", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	listingFee, err := market.ParseAmount(cfg.Royalty.ListingFee)
	if err != nil {
		log.WithError(err).Fatal("parse listing fee")
	}
	offerFee, err := market.ParseAmount(cfg.Royalty.OfferFee)
	if err != nil {
		log.WithError(err).Fatal("parse offer fee")
	}

	opts := app.Options{
		Owner:         cfg.Owner,
		Account:       cfg.Account,
		WorkerAccount: cfg.WorkerAccount,
		Attestant:     cfg.Attestant,
		Royalty: domain.Config{
			Recipient:      cfg.Royalty.Recipient,
			MarketplaceBps: cfg.Royalty.MarketplaceBps,
			ListingFee:     listingFee,
			OfferFee:       offerFee,
		},
	}

	var stores app.Stores
	if cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			cancel()
			log.WithError(err).Fatal("connect postgres")
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.WithError(err).Fatal("ensure schema")
		}
		cancel()
		defer db.Close()
		stores.Listings = postgres.NewListingStore(db, cfg.Owner)
		stores.Offers = postgres.NewOfferStore(db, cfg.Owner)
		log.Info("using postgres stores")
	}

	application, err := app.New(opts, stores, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewHandler(application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("listen", cfg.Listen).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
}
