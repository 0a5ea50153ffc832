package app

import (
	"context"
	"fmt"

	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/events"
	"github.com/Aynn-Network/marketplace_layer/internal/app/services/marketplace"
	royaltysvc "github.com/Aynn-Network/marketplace_layer/internal/app/services/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/services/transmitter"
	"github.com/Aynn-Network/marketplace_layer/internal/app/storage"
	"github.com/Aynn-Network/marketplace_layer/internal/app/system"
	"github.com/Aynn-Network/marketplace_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation, owned by the configured owner.
type Stores struct {
	Listings storage.ListingStore
	Offers   storage.OfferStore
}

// Options configures the marketplace deployment: the identities its
// components act under, the initial fee schedule and the chain
// capabilities it trades through.
type Options struct {
	// Owner administers every component.
	Owner string
	// Account holds marketplace currency escrow and asset custody.
	// Defaults to the owner.
	Account string
	// WorkerAccount is the batch worker's identity. Defaults to Account.
	WorkerAccount string
	// RouterAccount is the identity the router uses on transmitters.
	// Defaults to Account.
	RouterAccount string
	// TransmitterOperator is the account asset owners approve on their
	// asset contracts. Defaults to Account.
	TransmitterOperator string
	// Attestant may sign fee overrides. Empty disables overrides.
	Attestant string
	// Royalty is the initial fee schedule.
	Royalty domain.Config

	// Registry and Ledger are the chain capabilities. Nil values
	// default to in-process implementations, which suit tests and
	// standalone deployments only.
	Registry chain.AssetRegistry
	Ledger   chain.CurrencyLedger
}

// Application ties the marketplace services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Market      *marketplace.Service
	Batch       *marketplace.BatchWorker
	Fees        *royaltysvc.Engine
	Router      *transmitter.Router
	Transmitter *transmitter.Universal
	Listings    storage.ListingStore
	Offers      storage.OfferStore
	Events      *events.Log
	Registry    chain.AssetRegistry
	Ledger      chain.CurrencyLedger
}

// New builds a fully initialised application: stores, transmitter path,
// fee engine, marketplace service and batch worker, with capability
// grants wired between them.
func New(opts Options, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Owner == "" {
		return nil, fmt.Errorf("owner account is required")
	}
	if opts.Account == "" {
		opts.Account = opts.Owner
	}
	if opts.WorkerAccount == "" {
		opts.WorkerAccount = opts.Account
	}
	if opts.RouterAccount == "" {
		opts.RouterAccount = opts.Account
	}
	if opts.TransmitterOperator == "" {
		opts.TransmitterOperator = opts.Account
	}
	if opts.Registry == nil {
		log.Warn("no asset registry configured; using in-process registry")
		opts.Registry = chain.NewMemoryRegistry()
	}
	if opts.Ledger == nil {
		log.Warn("no currency ledger configured; using in-process ledger")
		opts.Ledger = chain.NewMemoryLedger()
	}
	if stores.Listings == nil {
		stores.Listings = storage.NewListingMemory(opts.Owner)
	}
	if stores.Offers == nil {
		stores.Offers = storage.NewOfferMemory(opts.Owner)
	}

	fees, err := royaltysvc.NewEngine(opts.Owner, opts.Royalty, opts.Registry, log.WithField("service", "royalty"))
	if err != nil {
		return nil, fmt.Errorf("build fee engine: %w", err)
	}
	if opts.Attestant != "" {
		if err := fees.SetAttestant(opts.Owner, opts.Attestant); err != nil {
			return nil, fmt.Errorf("set attestant: %w", err)
		}
	}

	universal := transmitter.NewUniversal(opts.Owner, opts.TransmitterOperator, opts.Registry, log.WithField("service", "transmitter"))
	router := transmitter.NewRouter(opts.Owner, opts.RouterAccount)
	if err := router.SetTransmitter(opts.Owner, transmitter.DefaultClass, universal); err != nil {
		return nil, fmt.Errorf("bind transmitter: %w", err)
	}

	eventLog := events.NewLog(0)
	market, err := marketplace.New(opts.Owner, opts.Account, marketplace.Deps{
		Listings: stores.Listings,
		Offers:   stores.Offers,
		Router:   router,
		Fees:     fees,
		Ledger:   opts.Ledger,
		Events:   eventLog,
	}, log.WithField("service", "marketplace"))
	if err != nil {
		return nil, fmt.Errorf("build marketplace: %w", err)
	}
	worker := marketplace.NewBatchWorker(market, opts.WorkerAccount, log.WithField("service", "batch"))

	// Capability grants: the marketplace account mutates the stores and
	// drives the router; the router drives the transmitter; the batch
	// worker holds the same grants as the marketplace account.
	ctx := context.Background()
	for subject, grants := range map[string][]func() error{
		"market": {
			func() error { return stores.Listings.Allow(ctx, opts.Owner, opts.Account, true) },
			func() error { return stores.Offers.Allow(ctx, opts.Owner, opts.Account, true) },
			func() error { return router.Allow(opts.Owner, opts.Account, true) },
		},
		"router": {
			func() error { return universal.Allow(opts.Owner, opts.RouterAccount, true) },
		},
		"worker": {
			func() error { return stores.Listings.Allow(ctx, opts.Owner, opts.WorkerAccount, true) },
			func() error { return stores.Offers.Allow(ctx, opts.Owner, opts.WorkerAccount, true) },
			func() error { return router.Allow(opts.Owner, opts.WorkerAccount, true) },
		},
	} {
		for _, grant := range grants {
			if err := grant(); err != nil {
				return nil, fmt.Errorf("wire %s grants: %w", subject, err)
			}
		}
	}

	manager := system.NewManager()
	for _, name := range []string{"marketplace", "royalty", "transmitter"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Market:      market,
		Batch:       worker,
		Fees:        fees,
		Router:      router,
		Transmitter: universal,
		Listings:    stores.Listings,
		Offers:      stores.Offers,
		Events:      eventLog,
		Registry:    opts.Registry,
		Ledger:      opts.Ledger,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
