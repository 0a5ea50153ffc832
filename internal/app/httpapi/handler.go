// Package httpapi exposes the marketplace over REST. Handlers are thin:
// they decode, call the service layer and map the shared error
// taxonomy onto status codes.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/Aynn-Network/marketplace_layer/internal/app"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/events"
	"github.com/Aynn-Network/marketplace_layer/internal/app/metrics"
	"github.com/Aynn-Network/marketplace_layer/internal/app/services/marketplace"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application, audit: newAuditLog(0, nil)}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/events", h.events).Methods(http.MethodGet)

	r.HandleFunc("/listings", h.createListing).Methods(http.MethodPost)
	r.HandleFunc("/listings/{contract}", h.listListings).Methods(http.MethodGet)
	r.HandleFunc("/listings/{contract}/{asset:[0-9]+}", h.getListing).Methods(http.MethodGet)
	r.HandleFunc("/listings/{contract}/{asset:[0-9]+}", h.updateListing).Methods(http.MethodPatch)
	r.HandleFunc("/listings/{contract}/{asset:[0-9]+}", h.deleteListing).Methods(http.MethodDelete)
	r.HandleFunc("/listings/{contract}/{asset:[0-9]+}/purchase", h.purchaseItem).Methods(http.MethodPost)
	r.HandleFunc("/listings/{contract}/{asset:[0-9]+}/quote", h.listingQuote).Methods(http.MethodGet)

	r.HandleFunc("/offers", h.createOffer).Methods(http.MethodPost)
	r.HandleFunc("/offers/{contract}/{asset:[0-9]+}", h.listOffers).Methods(http.MethodGet)
	r.HandleFunc("/offers/{contract}/{asset:[0-9]+}", h.updateOffer).Methods(http.MethodPatch)
	r.HandleFunc("/offers/{contract}/{asset:[0-9]+}", h.deleteOffer).Methods(http.MethodDelete)
	r.HandleFunc("/offers/{contract}/{asset:[0-9]+}/quote", h.offerQuote).Methods(http.MethodGet)
	r.HandleFunc("/offers/{contract}/{asset:[0-9]+}/{offerer}", h.getOffer).Methods(http.MethodGet)
	r.HandleFunc("/offers/{contract}/{asset:[0-9]+}/{offerer}/accept", h.acceptOffer).Methods(http.MethodPost)

	r.HandleFunc("/batch/listings", h.createListingBatch).Methods(http.MethodPost)
	r.HandleFunc("/batch/listings", h.updateListingBatch).Methods(http.MethodPatch)
	r.HandleFunc("/batch/purchases", h.purchaseBatch).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.auditMiddleware)
	admin.HandleFunc("/pause", h.setPaused).Methods(http.MethodPost)
	admin.HandleFunc("/royalties", h.setRoyalties).Methods(http.MethodPost)
	admin.HandleFunc("/royalties", h.getRoyalties).Methods(http.MethodGet)
	admin.HandleFunc("/attestant", h.setAttestant).Methods(http.MethodPost)
	admin.HandleFunc("/withdraw", h.withdrawAll).Methods(http.MethodPost)
	admin.HandleFunc("/grants", h.setGrant).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n %q", raw))
			return
		}
		n = v
	}
	var evs []events.Event
	if t := r.URL.Query().Get("type"); t != "" {
		evs = h.app.Events.RecentByType(events.Type(t), n)
	} else {
		evs = h.app.Events.Recent(n)
	}
	out := make([]eventJSON, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEventJSON(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

type authorizationJSON struct {
	Signer    string `json:"signer,omitempty"`
	Signature string `json:"signature,omitempty"`
	Value     string `json:"value,omitempty"`
	Expiry    int64  `json:"expiry,omitempty"`
}

func (a authorizationJSON) toDomain() (royalty.Authorization, error) {
	if a.Signer == "" && a.Signature == "" {
		return royalty.Authorization{}, nil
	}
	sig, err := hex.DecodeString(a.Signature)
	if err != nil {
		return royalty.Authorization{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	value, err := market.ParseAmount(a.Value)
	if err != nil {
		return royalty.Authorization{}, err
	}
	return royalty.Authorization{
		Signer:    a.Signer,
		Signature: sig,
		Value:     value,
		Expiry:    a.Expiry,
	}, nil
}

func (h *handler) createListing(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller        string             `json:"caller"`
		AssetContract string             `json:"asset_contract"`
		AssetID       uint64             `json:"asset_id"`
		UnitPrice     string             `json:"unit_price"`
		Quantity      uint64             `json:"quantity"`
		Payment       string             `json:"payment"`
		Authorization *authorizationJSON `json:"authorization,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, payment, auth, err := parseEconomics(payload.UnitPrice, payload.Payment, payload.Authorization)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.CreateListing(r.Context(), payload.Caller, payload.AssetContract, payload.AssetID, price, payload.Quantity, auth, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingJSON(rec))
}

func (h *handler) listListings(w http.ResponseWriter, r *http.Request) {
	recs, err := h.app.Market.ListListings(r.Context(), mux.Vars(r)["contract"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]listingJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toListingJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getListing(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.GetListing(r.Context(), contract, assetID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rec.Empty() {
		writeError(w, http.StatusNotFound, market.ErrNotListed)
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(rec))
}

func (h *handler) updateListing(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Caller    string `json:"caller"`
		UnitPrice string `json:"unit_price"`
		Quantity  uint64 `json:"quantity"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := market.ParseAmount(payload.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.UpdateListing(r.Context(), payload.Caller, contract, assetID, price, payload.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(rec))
}

func (h *handler) deleteListing(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("caller query parameter required"))
		return
	}
	if err := h.app.Market.DeleteListing(r.Context(), caller, contract, assetID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) purchaseItem(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Caller        string             `json:"caller"`
		Quantity      uint64             `json:"quantity"`
		Payment       string             `json:"payment"`
		Authorization *authorizationJSON `json:"authorization,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := market.ParseAmount(payload.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	auth, err := parseAuthorization(payload.Authorization)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.PurchaseItem(r.Context(), payload.Caller, contract, assetID, payload.Quantity, auth, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(rec))
}

func (h *handler) listingQuote(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quantity := uint64(1)
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		quantity, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid quantity %q", raw))
			return
		}
	}
	actor := r.URL.Query().Get("actor")
	total, err := h.app.Market.ListingPriceWithRoyalties(r.Context(), actor, contract, assetID, quantity, royalty.Authorization{})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total": total.String()})
}

func (h *handler) createOffer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller        string             `json:"caller"`
		AssetContract string             `json:"asset_contract"`
		AssetID       uint64             `json:"asset_id"`
		UnitPrice     string             `json:"unit_price"`
		Quantity      uint64             `json:"quantity"`
		Payment       string             `json:"payment"`
		Authorization *authorizationJSON `json:"authorization,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, payment, auth, err := parseEconomics(payload.UnitPrice, payload.Payment, payload.Authorization)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.CreateOffer(r.Context(), payload.Caller, payload.AssetContract, payload.AssetID, price, payload.Quantity, auth, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferJSON(rec))
}

func (h *handler) listOffers(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.app.Market.ListOffers(r.Context(), contract, assetID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]offerJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toOfferJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getOffer(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.GetOffer(r.Context(), contract, assetID, mux.Vars(r)["offerer"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rec.Empty() {
		writeError(w, http.StatusNotFound, market.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toOfferJSON(rec))
}

func (h *handler) updateOffer(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Caller    string `json:"caller"`
		UnitPrice string `json:"unit_price"`
		Quantity  uint64 `json:"quantity"`
		Payment   string `json:"payment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := market.ParseAmount(payload.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := market.ParseAmount(payload.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.UpdateOffer(r.Context(), payload.Caller, contract, assetID, price, payload.Quantity, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferJSON(rec))
}

func (h *handler) deleteOffer(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("caller query parameter required"))
		return
	}
	if err := h.app.Market.DeleteOffer(r.Context(), caller, contract, assetID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) offerQuote(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	price, err := market.ParseAmount(q.Get("unit_price"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quantity := uint64(1)
	if raw := q.Get("quantity"); raw != "" {
		quantity, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid quantity %q", raw))
			return
		}
	}
	kind := royalty.KindOffer
	if q.Get("kind") == "proceeds" {
		kind = royalty.KindPurchase
	}
	total, err := h.app.Market.OfferPriceWithRoyalties(r.Context(), q.Get("actor"), contract, assetID, kind, price, quantity, royalty.Authorization{})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total": total.String()})
}

func (h *handler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	contract, assetID, err := pathAsset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Caller        string             `json:"caller"`
		Authorization *authorizationJSON `json:"authorization,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	auth, err := parseAuthorization(payload.Authorization)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Market.AcceptOffer(r.Context(), payload.Caller, contract, assetID, mux.Vars(r)["offerer"], auth)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferJSON(rec))
}

type batchListingItemJSON struct {
	AssetContract string `json:"asset_contract"`
	AssetID       uint64 `json:"asset_id"`
	UnitPrice     string `json:"unit_price"`
	Quantity      uint64 `json:"quantity"`
}

func (h *handler) createListingBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller        string                 `json:"caller"`
		Items         []batchListingItemJSON `json:"items"`
		Payment       string                 `json:"payment"`
		Authorization *authorizationJSON     `json:"authorization,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := parseBatchItems(payload.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := market.ParseAmount(payload.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	auth, err := parseAuthorization(payload.Authorization)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.app.Batch.CreateListingBatch(r.Context(), payload.Caller, items, auth, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]listingJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toListingJSON(rec))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handler) updateListingBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller string                 `json:"caller"`
		Items  []batchListingItemJSON `json:"items"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := parseBatchItems(payload.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.app.Batch.UpdateListingBatch(r.Context(), payload.Caller, items)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]listingJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toListingJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) purchaseBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller string `json:"caller"`
		Items  []struct {
			AssetContract string `json:"asset_contract"`
			AssetID       uint64 `json:"asset_id"`
			Quantity      uint64 `json:"quantity"`
		} `json:"items"`
		Payment       string             `json:"payment"`
		Authorization *authorizationJSON `json:"authorization,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := market.ParseAmount(payload.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	auth, err := parseAuthorization(payload.Authorization)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items := make([]marketplace.PurchaseItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, marketplace.PurchaseItem{
			AssetContract: item.AssetContract,
			AssetID:       item.AssetID,
			Quantity:      item.Quantity,
		})
	}
	recs, err := h.app.Batch.PurchaseItemBatch(r.Context(), payload.Caller, items, auth, payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]listingJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toListingJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) setPaused(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller string `json:"caller"`
		Paused bool   `json:"paused"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Market.SetPaused(payload.Caller, payload.Paused); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": payload.Paused})
}

func (h *handler) getRoyalties(w http.ResponseWriter, _ *http.Request) {
	cfg := h.app.Fees.Config()
	writeJSON(w, http.StatusOK, map[string]string{
		"recipient":       cfg.Recipient,
		"marketplace_bps": strconv.FormatUint(uint64(cfg.MarketplaceBps), 10),
		"listing_fee":     market.Amount(cfg.ListingFee).String(),
		"offer_fee":       market.Amount(cfg.OfferFee).String(),
	})
}

func (h *handler) setRoyalties(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller         string `json:"caller"`
		Recipient      string `json:"recipient"`
		MarketplaceBps uint32 `json:"marketplace_bps"`
		ListingFee     string `json:"listing_fee"`
		OfferFee       string `json:"offer_fee"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	listingFee, err := market.ParseAmount(payload.ListingFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offerFee, err := market.ParseAmount(payload.OfferFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := royalty.Config{
		Recipient:      payload.Recipient,
		MarketplaceBps: payload.MarketplaceBps,
		ListingFee:     listingFee,
		OfferFee:       offerFee,
	}
	if err := h.app.Fees.SetRoyalties(payload.Caller, cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handler) setAttestant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller    string `json:"caller"`
		Attestant string `json:"attestant"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Fees.SetAttestant(payload.Caller, payload.Attestant); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handler) withdrawAll(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller    string `json:"caller"`
		Successor string `json:"successor"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := h.app.Market.WithdrawAll(r.Context(), payload.Caller, payload.Successor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": amount.String()})
}

func (h *handler) setGrant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller    string `json:"caller"`
		Component string `json:"component"`
		Subject   string `json:"subject"`
		Allowed   bool   `json:"allowed"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch payload.Component {
	case "listings":
		err = h.app.Listings.Allow(r.Context(), payload.Caller, payload.Subject, payload.Allowed)
	case "offers":
		err = h.app.Offers.Allow(r.Context(), payload.Caller, payload.Subject, payload.Allowed)
	case "router":
		err = h.app.Router.Allow(payload.Caller, payload.Subject, payload.Allowed)
	case "transmitter":
		err = h.app.Transmitter.Allow(payload.Caller, payload.Subject, payload.Allowed)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown component %q", payload.Component))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type listingJSON struct {
	AssetContract string `json:"asset_contract"`
	AssetID       uint64 `json:"asset_id"`
	Seller        string `json:"seller"`
	Holder        string `json:"holder"`
	UnitPrice     string `json:"unit_price"`
	Remaining     uint64 `json:"remaining"`
	Sold          bool   `json:"sold"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toListingJSON(rec listing.Listing) listingJSON {
	return listingJSON{
		AssetContract: rec.AssetContract,
		AssetID:       rec.AssetID,
		Seller:        rec.Seller,
		Holder:        rec.Holder,
		UnitPrice:     market.Amount(rec.UnitPrice).String(),
		Remaining:     rec.Remaining,
		Sold:          rec.Sold,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339),
	}
}

type offerJSON struct {
	AssetContract string `json:"asset_contract"`
	AssetID       uint64 `json:"asset_id"`
	Offerer       string `json:"offerer"`
	UnitPrice     string `json:"unit_price"`
	Quantity      uint64 `json:"quantity"`
	Accepted      bool   `json:"accepted"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toOfferJSON(rec offer.Offer) offerJSON {
	return offerJSON{
		AssetContract: rec.AssetContract,
		AssetID:       rec.AssetID,
		Offerer:       rec.Offerer,
		UnitPrice:     market.Amount(rec.UnitPrice).String(),
		Quantity:      rec.Quantity,
		Accepted:      rec.Accepted,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339),
	}
}

type eventJSON struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Timestamp     string       `json:"timestamp"`
	AssetContract string       `json:"asset_contract,omitempty"`
	AssetID       uint64       `json:"asset_id,omitempty"`
	Actor         string       `json:"actor,omitempty"`
	Counterparty  string       `json:"counterparty,omitempty"`
	Amount        string       `json:"amount,omitempty"`
	Listing       *listingJSON `json:"listing,omitempty"`
	Offer         *offerJSON   `json:"offer,omitempty"`
}

func toEventJSON(ev events.Event) eventJSON {
	out := eventJSON{
		ID:            ev.ID,
		Type:          string(ev.Type),
		Timestamp:     ev.Timestamp.Format(time.RFC3339Nano),
		AssetContract: ev.AssetContract,
		AssetID:       ev.AssetID,
		Actor:         ev.Actor,
		Counterparty:  ev.Counterparty,
	}
	if ev.Amount != nil {
		out.Amount = ev.Amount.String()
	}
	if ev.Listing != nil {
		l := toListingJSON(*ev.Listing)
		out.Listing = &l
	}
	if ev.Offer != nil {
		o := toOfferJSON(*ev.Offer)
		out.Offer = &o
	}
	return out
}

func pathAsset(r *http.Request) (string, uint64, error) {
	vars := mux.Vars(r)
	assetID, err := strconv.ParseUint(vars["asset"], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid asset id %q", vars["asset"])
	}
	return vars["contract"], assetID, nil
}

func parseAuthorization(a *authorizationJSON) (royalty.Authorization, error) {
	if a == nil {
		return royalty.Authorization{}, nil
	}
	return a.toDomain()
}

func parseEconomics(unitPrice, payment string, a *authorizationJSON) (*big.Int, *big.Int, royalty.Authorization, error) {
	price, err := market.ParseAmount(unitPrice)
	if err != nil {
		return nil, nil, royalty.Authorization{}, err
	}
	pay, err := market.ParseAmount(payment)
	if err != nil {
		return nil, nil, royalty.Authorization{}, err
	}
	auth, err := parseAuthorization(a)
	if err != nil {
		return nil, nil, royalty.Authorization{}, err
	}
	return price, pay, auth, nil
}

func parseBatchItems(items []batchListingItemJSON) ([]marketplace.ListingItem, error) {
	out := make([]marketplace.ListingItem, 0, len(items))
	for i, item := range items {
		price, err := market.ParseAmount(item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, marketplace.ListingItem{
			AssetContract: item.AssetContract,
			AssetID:       item.AssetID,
			UnitPrice:     price,
			Quantity:      item.Quantity,
		})
	}
	return out, nil
}

// writeServiceError maps the shared error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrNotListed), errors.Is(err, market.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, market.ErrNotOwner),
		errors.Is(err, market.ErrRemoteNotAllowed),
		errors.Is(err, market.ErrSellerCannotBuy):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, market.ErrPriceNotMet), errors.Is(err, market.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, market.ErrAlreadyListed), errors.Is(err, market.ErrSold):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, market.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, market.ErrPriceMustBeAboveZero),
		errors.Is(err, market.ErrInvalidAuthorization),
		errors.Is(err, market.ErrNotApproved):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
