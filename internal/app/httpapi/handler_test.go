package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/Aynn-Network/marketplace_layer/internal/app"
	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
)

// newTestApp wires a fully in-process application: alice owns art/1 on
// a single-owner contract with a 5% creator royalty, "owner" runs the
// marketplace and collects fees to "treasury".
func newTestApp(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()

	reg := chain.NewMemoryRegistry()
	reg.RegisterContract("art", chain.StandardSingleOwner, "creator", 500)
	if err := reg.Mint("art", 1, "alice", 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	led := chain.NewMemoryLedger()
	led.Credit("alice", big.NewInt(100_000))
	led.Credit("bob", big.NewInt(100_000))

	application, err := app.New(app.Options{
		Owner:   "owner",
		Account: "market",
		Royalty: domain.Config{
			Recipient:      "treasury",
			MarketplaceBps: 250,
			ListingFee:     big.NewInt(5),
			OfferFee:       big.NewInt(3),
		},
		Registry: reg,
		Ledger:   led,
	}, app.Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	reg.SetApproval("art", "alice", "market", true)
	reg.SetApproval("art", "bob", "market", true)

	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })

	return NewHandler(application), application
}

func marshal(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(raw)
}

func do(t *testing.T, h http.Handler, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandler_ListingLifecycle(t *testing.T) {
	h, _ := newTestApp(t)

	resp := do(t, h, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.Code)
	}

	body := marshal(t, map[string]any{
		"caller":         "alice",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "1000",
		"quantity":       1,
		"payment":        "5",
	})
	resp = do(t, h, http.MethodPost, "/listings", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create listing: expected 201, got %d: %s", resp.Code, resp.Body)
	}
	var created map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal listing: %v", err)
	}
	if created["seller"] != "alice" || created["unit_price"] != "1000" {
		t.Fatalf("unexpected listing: %v", created)
	}

	resp = do(t, h, http.MethodGet, "/listings/art/1/quote", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("quote: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	var quote map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &quote); err != nil {
		t.Fatalf("unmarshal quote: %v", err)
	}
	if quote["total"] != "1075" {
		t.Fatalf("quote total = %s, want 1075", quote["total"])
	}

	body = marshal(t, map[string]any{"caller": "alice", "unit_price": "1200", "quantity": 1})
	resp = do(t, h, http.MethodPatch, "/listings/art/1", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("update listing: expected 200, got %d: %s", resp.Code, resp.Body)
	}

	body = marshal(t, map[string]any{"caller": "bob", "quantity": 1, "payment": "1290"})
	resp = do(t, h, http.MethodPost, "/listings/art/1/purchase", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("purchase: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	var bought map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &bought); err != nil {
		t.Fatalf("unmarshal purchase: %v", err)
	}
	if bought["sold"] != true || bought["holder"] != "bob" {
		t.Fatalf("unexpected purchase result: %v", bought)
	}

	resp = do(t, h, http.MethodGet, "/events?type=item.purchased", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", resp.Code)
	}
	var evs []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &evs); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evs) != 1 || evs[0]["actor"] != "bob" {
		t.Fatalf("unexpected events: %v", evs)
	}
}

func TestHandler_ErrorStatuses(t *testing.T) {
	h, _ := newTestApp(t)

	// Unknown listing.
	resp := do(t, h, http.MethodGet, "/listings/art/42", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing listing: expected 404, got %d", resp.Code)
	}

	// Underpaid listing fee.
	body := marshal(t, map[string]any{
		"caller":         "alice",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "1000",
		"quantity":       1,
		"payment":        "1",
	})
	resp = do(t, h, http.MethodPost, "/listings", body)
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("underpaid: expected 402, got %d: %s", resp.Code, resp.Body)
	}

	// Zero price.
	body = marshal(t, map[string]any{
		"caller":         "alice",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "0",
		"quantity":       1,
		"payment":        "5",
	})
	resp = do(t, h, http.MethodPost, "/listings", body)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("zero price: expected 400, got %d", resp.Code)
	}

	// Unknown JSON fields are rejected.
	body = marshal(t, map[string]any{"caller": "alice", "bogus": true})
	resp = do(t, h, http.MethodPost, "/listings", body)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", resp.Code)
	}

	// Listing then conflicting relist.
	body = marshal(t, map[string]any{
		"caller":         "alice",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "1000",
		"quantity":       1,
		"payment":        "5",
	})
	if resp := do(t, h, http.MethodPost, "/listings", body); resp.Code != http.StatusCreated {
		t.Fatalf("create listing: expected 201, got %d: %s", resp.Code, resp.Body)
	}
	body = marshal(t, map[string]any{
		"caller":         "alice",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "900",
		"quantity":       1,
		"payment":        "5",
	})
	resp = do(t, h, http.MethodPost, "/listings", body)
	if resp.Code != http.StatusConflict {
		t.Fatalf("relist active: expected 409, got %d: %s", resp.Code, resp.Body)
	}

	// Seller buying own listing.
	body = marshal(t, map[string]any{"caller": "alice", "quantity": 1, "payment": "2000"})
	resp = do(t, h, http.MethodPost, "/listings/art/1/purchase", body)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("self purchase: expected 403, got %d", resp.Code)
	}

	// Delete needs a caller.
	resp = do(t, h, http.MethodDelete, "/listings/art/1", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("delete without caller: expected 400, got %d", resp.Code)
	}
	resp = do(t, h, http.MethodDelete, "/listings/art/1?caller=alice", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d: %s", resp.Code, resp.Body)
	}
}

func TestHandler_OfferFlow(t *testing.T) {
	h, _ := newTestApp(t)

	body := marshal(t, map[string]any{
		"caller":         "alice",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "1000",
		"quantity":       1,
		"payment":        "5",
	})
	if resp := do(t, h, http.MethodPost, "/listings", body); resp.Code != http.StatusCreated {
		t.Fatalf("create listing: got %d: %s", resp.Code, resp.Body)
	}

	resp := do(t, h, http.MethodGet, "/offers/art/1/quote?unit_price=900", nil)
	var quote map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &quote); err != nil {
		t.Fatalf("unmarshal quote: %v", err)
	}
	if quote["total"] != "903" {
		t.Fatalf("offer quote = %s, want 903", quote["total"])
	}

	body = marshal(t, map[string]any{
		"caller":         "bob",
		"asset_contract": "art",
		"asset_id":       1,
		"unit_price":     "900",
		"quantity":       1,
		"payment":        "903",
	})
	resp = do(t, h, http.MethodPost, "/offers", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create offer: expected 201, got %d: %s", resp.Code, resp.Body)
	}

	resp = do(t, h, http.MethodGet, "/offers/art/1", nil)
	var offers []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &offers); err != nil {
		t.Fatalf("unmarshal offers: %v", err)
	}
	if len(offers) != 1 || offers[0]["offerer"] != "bob" {
		t.Fatalf("unexpected offers: %v", offers)
	}

	resp = do(t, h, http.MethodGet, "/offers/art/1/quote?unit_price=900&kind=proceeds", nil)
	if err := json.Unmarshal(resp.Body.Bytes(), &quote); err != nil {
		t.Fatalf("unmarshal quote: %v", err)
	}
	if quote["total"] != "833" {
		t.Fatalf("proceeds quote = %s, want 833", quote["total"])
	}

	body = marshal(t, map[string]any{"caller": "alice"})
	resp = do(t, h, http.MethodPost, "/offers/art/1/bob/accept", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	var accepted map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("unmarshal accepted: %v", err)
	}
	if accepted["accepted"] != true {
		t.Fatalf("offer should be accepted: %v", accepted)
	}

	resp = do(t, h, http.MethodGet, "/offers/art/1/bob", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get offer: expected 200, got %d", resp.Code)
	}
}

func TestHandler_Admin(t *testing.T) {
	h, application := newTestApp(t)

	// Pause is owner-gated.
	body := marshal(t, map[string]any{"caller": "bob", "paused": true})
	resp := do(t, h, http.MethodPost, "/admin/pause", body)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("non-owner pause: expected 403, got %d", resp.Code)
	}
	body = marshal(t, map[string]any{"caller": "owner", "paused": true})
	resp = do(t, h, http.MethodPost, "/admin/pause", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	if !application.Market.Paused() {
		t.Fatalf("service should be paused")
	}

	// Fee schedule round-trips.
	body = marshal(t, map[string]any{
		"caller":          "owner",
		"recipient":       "treasury",
		"marketplace_bps": 100,
		"listing_fee":     "7",
		"offer_fee":       "2",
	})
	resp = do(t, h, http.MethodPost, "/admin/royalties", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("set royalties: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	resp = do(t, h, http.MethodGet, "/admin/royalties", nil)
	var cfg map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("unmarshal royalties: %v", err)
	}
	if cfg["marketplace_bps"] != "100" || cfg["listing_fee"] != "7" {
		t.Fatalf("unexpected schedule: %v", cfg)
	}

	// Grants hit the named component.
	body = marshal(t, map[string]any{
		"caller":    "owner",
		"component": "router",
		"subject":   "ops",
		"allowed":   true,
	})
	resp = do(t, h, http.MethodPost, "/admin/grants", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	body = marshal(t, map[string]any{
		"caller":    "owner",
		"component": "bogus",
		"subject":   "ops",
		"allowed":   true,
	})
	resp = do(t, h, http.MethodPost, "/admin/grants", body)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad component: expected 400, got %d", resp.Code)
	}

	// Withdraw moves the marketplace balance.
	body = marshal(t, map[string]any{"caller": "owner", "successor": "successor"})
	resp = do(t, h, http.MethodPost, "/admin/withdraw", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	var withdrawn map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &withdrawn); err != nil {
		t.Fatalf("unmarshal withdraw: %v", err)
	}
	if withdrawn["withdrawn"] != "0" {
		t.Fatalf("withdrawn = %s, want 0", withdrawn["withdrawn"])
	}
}
