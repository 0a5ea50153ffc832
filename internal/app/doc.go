// Package app composes the marketplace services into a running
// application.
//
// # Architecture Role
//
// The app package sits above the domain and service layers and wires
// them together: it builds the stores, the transmitter path, the fee
// engine, the marketplace service and the batch worker, grants the
// capabilities they need on each other, and manages their lifecycle.
// It holds no business logic of its own - that belongs in
// internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── access/             # Capability registry shared by gated components
//	├── chain/              # Asset-registry and currency-ledger capabilities
//	├── domain/             # Domain models (pure data structures)
//	│   ├── listing/        # Listings
//	│   ├── offer/          # Offers
//	│   ├── market/         # Amount parsing and basis-point math
//	│   └── royalty/        # Fee schedules and signed overrides
//	├── storage/            # Store interfaces and in-memory implementation
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/
//	│   ├── marketplace/    # Listing, offer and purchase flows; batch worker
//	│   ├── royalty/        # Fee computation and override verification
//	│   └── transmitter/    # Asset transfer execution and routing
//	├── httpapi/            # HTTP API handlers and routing
//	├── events/             # Marketplace event log
//	├── system/             # Service lifecycle management
//	└── metrics/            # Application metrics
//
// # Dependency Direction
//
//	cmd/marketd
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services (business logic)
//	      │           │
//	      │           └──► internal/app/chain (capability interfaces)
//	      │
//	      ├──► internal/app/storage (persistence)
//	      │
//	      └──► internal/app/httpapi (external access)
//
// # Adding a New Domain
//
// When adding a new domain (e.g. "auctions"):
//
//  1. Create domain models in internal/app/domain/auctions/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/ and storage/postgres/
//  4. Create the service in internal/app/services/auctions/
//  5. Wire it in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
