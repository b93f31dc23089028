package market_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/custody"
	"github.com/fairmarket/settlement-engine/internal/ledger"
	"github.com/fairmarket/settlement-engine/internal/market"
	"github.com/fairmarket/settlement-engine/internal/model"
	"github.com/fairmarket/settlement-engine/internal/oracle"
	"github.com/fairmarket/settlement-engine/internal/settle"
	"github.com/fairmarket/settlement-engine/internal/store"
)

const (
	seller   = "alice"
	buyer    = "bob"
	admin    = "admin"
	treasury = "treasury"
	operator = "marketplace"
)

var unitScale = decimal.New(1, 18)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	srv    *httptest.Server
	bank   *custody.Bank
	ledger *ledger.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	bank := custody.NewBank()
	art := model.AssetRef{Collection: "gallery", Item: "65678"}
	bank.MintAsset(seller, art, decimal.NewFromInt(30))
	bank.SetAssetApproval(seller, operator, art.Collection, true)
	funds := bank.Currency()

	st := store.NewMemoryStore()
	feed := oracle.NewFixedOracle(map[string]decimal.Decimal{
		"ETH": decimal.New(3000, 8),
		"DAI": decimal.New(1, 8),
	})
	params := settle.NewParams(admin, treasury, 100)
	l := ledger.New(st, bank, operator, nil)

	currencies := []settle.Currency{
		settle.NewNativeCurrency("ETH", unitScale, funds, operator),
		settle.NewTokenCurrency("DAI", unitScale, funds, operator),
	}
	engine := settle.NewEngine(l, st, feed, bank, params, currencies, nil)
	svc := market.NewService(l, engine, params, st)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/offers", svc.ListOffers)
		r.Post("/offers", svc.CreateOffer)
		r.Get("/offers/{offerID}", svc.GetOffer)
		r.Post("/offers/{offerID}/cancel", svc.CancelOffer)
		r.Get("/offers/{offerID}/quote", svc.Quote)
		r.Get("/offers/{offerID}/settlements", svc.ListOfferSettlements)
		r.Post("/offers/{offerID}/purchase", svc.Purchase)
		r.Get("/settlements/{settlementID}", svc.GetSettlement)
		r.Post("/admin/fee", svc.UpdateFee)
		r.Post("/admin/recipient", svc.UpdateRecipient)
		r.Post("/admin/owner", svc.TransferOwnership)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, bank: bank, ledger: l}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
}

// createOffer posts the canonical test offer and returns its id.
func (e *testEnv) createOffer(t *testing.T) uint64 {
	t.Helper()
	resp := e.post(t, "/api/v1/offers", market.CreateOfferRequest{
		Seller:     seller,
		Collection: "gallery",
		Item:       "65678",
		Amount:     decimal.NewFromInt(10),
		USDPrice:   decimal.New(1000, 8),
		TTLSeconds: 120,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create offer: status %d", resp.StatusCode)
	}
	var offer model.Offer
	decodeJSON(t, resp, &offer)
	return offer.ID
}

func TestCreateOffer(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/offers", market.CreateOfferRequest{
		Seller:     seller,
		Collection: "gallery",
		Item:       "65678",
		Amount:     decimal.NewFromInt(10),
		USDPrice:   decimal.New(1000, 8),
		TTLSeconds: 120,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var offer model.Offer
	decodeJSON(t, resp, &offer)
	if offer.ID != 1 || offer.Owner != seller || !offer.Active {
		t.Errorf("unexpected offer: %+v", offer)
	}
}

func TestCreateOffer_MissingFields(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/offers", market.CreateOfferRequest{Seller: seller})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetOffer(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)

	resp := e.get(t, fmt.Sprintf("/api/v1/offers/%d", id))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var offer model.Offer
	decodeJSON(t, resp, &offer)
	if offer.ID != id {
		t.Errorf("id = %d, want %d", offer.ID, id)
	}
}

func TestGetOffer_NotFound(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, "/api/v1/offers/99")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetOffer_InvalidID(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, "/api/v1/offers/abc")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListOffers(t *testing.T) {
	e := newTestEnv(t)
	e.createOffer(t)
	e.createOffer(t)

	resp := e.get(t, "/api/v1/offers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var offers []model.Offer
	decodeJSON(t, resp, &offers)
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	if offers[0].ID != 2 {
		t.Errorf("expected newest first, got id %d", offers[0].ID)
	}
}

func TestCancelOffer(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)

	resp := e.post(t, fmt.Sprintf("/api/v1/offers/%d/cancel", id), market.CancelOfferRequest{Caller: seller})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var offer model.Offer
	getResp := e.get(t, fmt.Sprintf("/api/v1/offers/%d", id))
	decodeJSON(t, getResp, &offer)
	if offer.Active {
		t.Error("offer should be inactive after cancel")
	}
}

func TestCancelOffer_NotOwner(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)

	resp := e.post(t, fmt.Sprintf("/api/v1/offers/%d/cancel", id), market.CancelOfferRequest{Caller: "mallory"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestQuote(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)

	resp := e.get(t, fmt.Sprintf("/api/v1/offers/%d/quote?currency=ETH", id))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Required decimal.Decimal `json:"required"`
	}
	decodeJSON(t, resp, &body)
	if !body.Required.Equal(dec("333333333333333333")) {
		t.Errorf("required = %s", body.Required)
	}
}

func TestQuote_MissingCurrency(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)

	resp := e.get(t, fmt.Sprintf("/api/v1/offers/%d/quote", id))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPurchase(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)
	e.bank.MintFunds(buyer, "ETH", dec("1000000000000000000"))

	resp := e.post(t, fmt.Sprintf("/api/v1/offers/%d/purchase", id), market.PurchaseRequest{
		Buyer:    buyer,
		Currency: "ETH",
		Tendered: dec("400000000000000000"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec model.Settlement
	decodeJSON(t, resp, &rec)
	if rec.OfferID != id || rec.Buyer != buyer || rec.Currency != "ETH" {
		t.Errorf("unexpected receipt: %+v", rec)
	}
	if !rec.Required.Equal(dec("333333333333333333")) {
		t.Errorf("required = %s", rec.Required)
	}

	// Receipt is retrievable by id and listed under the offer.
	getResp := e.get(t, "/api/v1/settlements/"+rec.ID)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("settlement lookup status = %d", getResp.StatusCode)
	}
	var fetched model.Settlement
	decodeJSON(t, getResp, &fetched)
	if fetched.ID != rec.ID {
		t.Errorf("settlement id = %s, want %s", fetched.ID, rec.ID)
	}

	listResp := e.get(t, fmt.Sprintf("/api/v1/offers/%d/settlements", id))
	var records []model.Settlement
	decodeJSON(t, listResp, &records)
	if len(records) != 1 {
		t.Fatalf("expected 1 settlement, got %d", len(records))
	}
}

func TestPurchase_Underpaid(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)
	e.bank.MintFunds(buyer, "ETH", dec("1000000000000000000"))

	resp := e.post(t, fmt.Sprintf("/api/v1/offers/%d/purchase", id), market.PurchaseRequest{
		Buyer:    buyer,
		Currency: "ETH",
		Tendered: dec("1"),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
}

func TestPurchase_CancelledOffer(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)
	e.post(t, fmt.Sprintf("/api/v1/offers/%d/cancel", id), market.CancelOfferRequest{Caller: seller}).Body.Close()

	e.bank.MintFunds(buyer, "ETH", dec("1000000000000000000"))
	resp := e.post(t, fmt.Sprintf("/api/v1/offers/%d/purchase", id), market.PurchaseRequest{
		Buyer:    buyer,
		Currency: "ETH",
		Tendered: dec("1000000000000000000"),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPurchase_UnsupportedCurrency(t *testing.T) {
	e := newTestEnv(t)
	id := e.createOffer(t)

	resp := e.post(t, fmt.Sprintf("/api/v1/offers/%d/purchase", id), market.PurchaseRequest{
		Buyer:    buyer,
		Currency: "DOGE",
		Tendered: dec("1"),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSettlement_NotFound(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, "/api/v1/settlements/no-such-id")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminFee(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/admin/fee", market.UpdateFeeRequest{Caller: "mallory", FeeBps: 50})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner status = %d, want 403", resp.StatusCode)
	}

	resp = e.post(t, "/api/v1/admin/fee", market.UpdateFeeRequest{Caller: admin, FeeBps: 10001})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range status = %d, want 400", resp.StatusCode)
	}

	resp = e.post(t, "/api/v1/admin/fee", market.UpdateFeeRequest{Caller: admin, FeeBps: 50})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminRecipient(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/admin/recipient", market.UpdateRecipientRequest{Caller: admin, Recipient: "vault"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminTransferOwnership(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/admin/owner", market.TransferOwnershipRequest{Caller: admin, NewOwner: "root"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Previous owner lost authority.
	resp = e.post(t, "/api/v1/admin/fee", market.UpdateFeeRequest{Caller: admin, FeeBps: 50})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	resp = e.post(t, "/api/v1/admin/fee", market.UpdateFeeRequest{Caller: "root", FeeBps: 50})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new owner status = %d, want 200", resp.StatusCode)
	}
}
