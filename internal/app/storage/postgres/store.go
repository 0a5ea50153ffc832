// Package postgres implements the storage interfaces on PostgreSQL.
// Enumeration mirrors the in-memory store: each record keeps a slot
// number per enumeration group and deletes swap the highest slot into
// the hole, so counts stay dense and order is not stable.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	_ "github.com/lib/pq"

	"github.com/Aynn-Network/marketplace_layer/internal/app/access"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
	"github.com/Aynn-Network/marketplace_layer/internal/app/storage"
)

var (
	_ storage.ListingStore = (*ListingStore)(nil)
	_ storage.OfferStore   = (*OfferStore)(nil)
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the marketplace tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_listings (
			asset_contract TEXT NOT NULL,
			asset_id BIGINT NOT NULL,
			seller TEXT NOT NULL,
			holder TEXT NOT NULL,
			unit_price NUMERIC(78,0) NOT NULL,
			remaining BIGINT NOT NULL,
			sold BOOLEAN NOT NULL DEFAULT FALSE,
			slot BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (asset_contract, asset_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS market_listings_slot
			ON market_listings (asset_contract, slot)`,
		`CREATE TABLE IF NOT EXISTS market_offers (
			asset_contract TEXT NOT NULL,
			asset_id BIGINT NOT NULL,
			offerer TEXT NOT NULL,
			unit_price NUMERIC(78,0) NOT NULL,
			quantity BIGINT NOT NULL,
			accepted BOOLEAN NOT NULL DEFAULT FALSE,
			slot BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (asset_contract, asset_id, offerer)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS market_offers_slot
			ON market_offers (asset_contract, asset_id, slot)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ListingStore persists listings in the market_listings table.
type ListingStore struct {
	db  *sql.DB
	acl *access.Registry
}

// NewListingStore wraps db in a capability-gated listing store.
func NewListingStore(db *sql.DB, owner string) *ListingStore {
	return &ListingStore{db: db, acl: access.NewRegistry(owner)}
}

func (s *ListingStore) Allow(_ context.Context, caller, subject string, allowed bool) error {
	return s.acl.Grant(caller, subject, allowed)
}

func (s *ListingStore) IsAllowed(_ context.Context, subject string) (bool, error) {
	return s.acl.IsAllowed(subject), nil
}

func (s *ListingStore) Create(ctx context.Context, caller string, rec listing.Listing) error {
	if err := s.acl.Require(caller); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO market_listings
				(asset_contract, asset_id, seller, holder, unit_price, remaining, sold, slot, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7,
				(SELECT COALESCE(MAX(slot)+1, 0) FROM market_listings WHERE asset_contract = $1),
				$8, $9)
			ON CONFLICT (asset_contract, asset_id) DO UPDATE SET
				seller = EXCLUDED.seller,
				holder = EXCLUDED.holder,
				unit_price = EXCLUDED.unit_price,
				remaining = EXCLUDED.remaining,
				sold = EXCLUDED.sold,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`,
			norm(rec.AssetContract), int64(rec.AssetID), norm(rec.Seller), norm(rec.Holder),
			amountText(rec.UnitPrice), int64(rec.Remaining), rec.Sold,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("create listing: %w", err)
		}
		return nil
	})
}

func (s *ListingStore) Update(ctx context.Context, caller string, rec listing.Listing) error {
	if err := s.acl.Require(caller); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE market_listings SET
			seller = $3, holder = $4, unit_price = $5, remaining = $6, sold = $7, updated_at = $8
		WHERE asset_contract = $1 AND asset_id = $2`,
		norm(rec.AssetContract), int64(rec.AssetID), norm(rec.Seller), norm(rec.Holder),
		amountText(rec.UnitPrice), int64(rec.Remaining), rec.Sold, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return requireRow(res)
}

func (s *ListingStore) Delete(ctx context.Context, caller, assetContract string, assetID uint64) error {
	if err := s.acl.Require(caller); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var slot int64
		err := tx.QueryRowContext(ctx, `
			DELETE FROM market_listings WHERE asset_contract = $1 AND asset_id = $2 RETURNING slot`,
			norm(assetContract), int64(assetID)).Scan(&slot)
		if errors.Is(err, sql.ErrNoRows) {
			return market.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete listing: %w", err)
		}
		// Move the highest slot into the hole.
		_, err = tx.ExecContext(ctx, `
			UPDATE market_listings SET slot = $2
			WHERE asset_contract = $1
			  AND slot = (SELECT MAX(slot) FROM market_listings WHERE asset_contract = $1)
			  AND slot > $2`,
			norm(assetContract), slot)
		if err != nil {
			return fmt.Errorf("compact listing slots: %w", err)
		}
		return nil
	})
}

func (s *ListingStore) Get(ctx context.Context, assetContract string, assetID uint64) (listing.Listing, error) {
	rec, err := scanListing(s.db.QueryRowContext(ctx, `
		SELECT asset_contract, asset_id, seller, holder, unit_price, remaining, sold, created_at, updated_at
		FROM market_listings WHERE asset_contract = $1 AND asset_id = $2`,
		norm(assetContract), int64(assetID)))
	if errors.Is(err, sql.ErrNoRows) {
		return listing.Listing{}, nil
	}
	return rec, err
}

func (s *ListingStore) GetByIndex(ctx context.Context, assetContract string, index int) (listing.Listing, error) {
	rec, err := scanListing(s.db.QueryRowContext(ctx, `
		SELECT asset_contract, asset_id, seller, holder, unit_price, remaining, sold, created_at, updated_at
		FROM market_listings WHERE asset_contract = $1 AND slot = $2`,
		norm(assetContract), int64(index)))
	if errors.Is(err, sql.ErrNoRows) {
		return listing.Listing{}, market.ErrNotFound
	}
	return rec, err
}

func (s *ListingStore) Count(ctx context.Context, assetContract string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM market_listings WHERE asset_contract = $1`,
		norm(assetContract)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

// OfferStore persists offers in the market_offers table.
type OfferStore struct {
	db  *sql.DB
	acl *access.Registry
}

// NewOfferStore wraps db in a capability-gated offer store.
func NewOfferStore(db *sql.DB, owner string) *OfferStore {
	return &OfferStore{db: db, acl: access.NewRegistry(owner)}
}

func (s *OfferStore) Allow(_ context.Context, caller, subject string, allowed bool) error {
	return s.acl.Grant(caller, subject, allowed)
}

func (s *OfferStore) IsAllowed(_ context.Context, subject string) (bool, error) {
	return s.acl.IsAllowed(subject), nil
}

func (s *OfferStore) Create(ctx context.Context, caller string, rec offer.Offer) error {
	if err := s.acl.Require(caller); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO market_offers
				(asset_contract, asset_id, offerer, unit_price, quantity, accepted, slot, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6,
				(SELECT COALESCE(MAX(slot)+1, 0) FROM market_offers WHERE asset_contract = $1 AND asset_id = $2),
				$7, $8)
			ON CONFLICT (asset_contract, asset_id, offerer) DO UPDATE SET
				unit_price = EXCLUDED.unit_price,
				quantity = EXCLUDED.quantity,
				accepted = EXCLUDED.accepted,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`,
			norm(rec.AssetContract), int64(rec.AssetID), norm(rec.Offerer),
			amountText(rec.UnitPrice), int64(rec.Quantity), rec.Accepted,
			rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		return nil
	})
}

func (s *OfferStore) Update(ctx context.Context, caller string, rec offer.Offer) error {
	if err := s.acl.Require(caller); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE market_offers SET unit_price = $4, quantity = $5, accepted = $6, updated_at = $7
		WHERE asset_contract = $1 AND asset_id = $2 AND offerer = $3`,
		norm(rec.AssetContract), int64(rec.AssetID), norm(rec.Offerer),
		amountText(rec.UnitPrice), int64(rec.Quantity), rec.Accepted, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	return requireRow(res)
}

func (s *OfferStore) Delete(ctx context.Context, caller, assetContract string, assetID uint64, offerer string) error {
	if err := s.acl.Require(caller); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var slot int64
		err := tx.QueryRowContext(ctx, `
			DELETE FROM market_offers
			WHERE asset_contract = $1 AND asset_id = $2 AND offerer = $3 RETURNING slot`,
			norm(assetContract), int64(assetID), norm(offerer)).Scan(&slot)
		if errors.Is(err, sql.ErrNoRows) {
			return market.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete offer: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE market_offers SET slot = $3
			WHERE asset_contract = $1 AND asset_id = $2
			  AND slot = (SELECT MAX(slot) FROM market_offers WHERE asset_contract = $1 AND asset_id = $2)
			  AND slot > $3`,
			norm(assetContract), int64(assetID), slot)
		if err != nil {
			return fmt.Errorf("compact offer slots: %w", err)
		}
		return nil
	})
}

func (s *OfferStore) Get(ctx context.Context, assetContract string, assetID uint64, offerer string) (offer.Offer, error) {
	rec, err := scanOffer(s.db.QueryRowContext(ctx, `
		SELECT asset_contract, asset_id, offerer, unit_price, quantity, accepted, created_at, updated_at
		FROM market_offers WHERE asset_contract = $1 AND asset_id = $2 AND offerer = $3`,
		norm(assetContract), int64(assetID), norm(offerer)))
	if errors.Is(err, sql.ErrNoRows) {
		return offer.Offer{}, nil
	}
	return rec, err
}

func (s *OfferStore) GetByIndex(ctx context.Context, assetContract string, assetID uint64, index int) (offer.Offer, error) {
	rec, err := scanOffer(s.db.QueryRowContext(ctx, `
		SELECT asset_contract, asset_id, offerer, unit_price, quantity, accepted, created_at, updated_at
		FROM market_offers WHERE asset_contract = $1 AND asset_id = $2 AND slot = $3`,
		norm(assetContract), int64(assetID), int64(index)))
	if errors.Is(err, sql.ErrNoRows) {
		return offer.Offer{}, market.ErrNotFound
	}
	return rec, err
}

func (s *OfferStore) Count(ctx context.Context, assetContract string, assetID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM market_offers WHERE asset_contract = $1 AND asset_id = $2`,
		norm(assetContract), int64(assetID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count offers: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (listing.Listing, error) {
	var (
		rec       listing.Listing
		assetID   int64
		remaining int64
		price     string
		created   time.Time
		updated   time.Time
	)
	err := row.Scan(&rec.AssetContract, &assetID, &rec.Seller, &rec.Holder,
		&price, &remaining, &rec.Sold, &created, &updated)
	if err != nil {
		return listing.Listing{}, err
	}
	rec.AssetID = uint64(assetID)
	rec.Remaining = uint64(remaining)
	rec.UnitPrice, err = parseAmount(price)
	if err != nil {
		return listing.Listing{}, err
	}
	rec.CreatedAt = created.UTC()
	rec.UpdatedAt = updated.UTC()
	return rec, nil
}

func scanOffer(row rowScanner) (offer.Offer, error) {
	var (
		rec      offer.Offer
		assetID  int64
		quantity int64
		price    string
		created  time.Time
		updated  time.Time
	)
	err := row.Scan(&rec.AssetContract, &assetID, &rec.Offerer,
		&price, &quantity, &rec.Accepted, &created, &updated)
	if err != nil {
		return offer.Offer{}, err
	}
	rec.AssetID = uint64(assetID)
	rec.Quantity = uint64(quantity)
	rec.UnitPrice, err = parseAmount(price)
	if err != nil {
		return offer.Offer{}, err
	}
	rec.CreatedAt = created.UTC()
	rec.UpdatedAt = updated.UTC()
	return rec, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return market.ErrNotFound
	}
	return nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q in store", s)
	}
	return v, nil
}

func norm(s string) string {
	return market.Normalize(s)
}
