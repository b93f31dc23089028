// Package market provides the HTTP surface of the settlement engine:
// offer listing and cancellation, quotes, purchases, settlement lookups,
// and the authority-gated admin operations.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/ledger"
	"github.com/fairmarket/settlement-engine/internal/model"
	"github.com/fairmarket/settlement-engine/internal/settle"
	"github.com/fairmarket/settlement-engine/internal/store"
)

// Service handles marketplace HTTP operations.
type Service struct {
	ledger *ledger.Ledger
	engine *settle.Engine
	params *settle.Params
	store  store.Store
}

// NewService creates the HTTP service over the settlement core.
func NewService(l *ledger.Ledger, e *settle.Engine, p *settle.Params, st store.Store) *Service {
	return &Service{ledger: l, engine: e, params: p, store: st}
}

// --- Request/Response types ---

// CreateOfferRequest is the JSON body for POST /offers.
type CreateOfferRequest struct {
	Seller     string          `json:"seller"`
	Collection string          `json:"collection"`
	Item       string          `json:"item"`
	Amount     decimal.Decimal `json:"amount"`
	USDPrice   decimal.Decimal `json:"usd_price"`   // fixed-point, oracle-scaled
	TTLSeconds int64           `json:"ttl_seconds"` // purchasable until now + ttl
}

// CancelOfferRequest is the JSON body for POST /offers/{id}/cancel.
type CancelOfferRequest struct {
	Caller string `json:"caller"`
}

// PurchaseRequest is the JSON body for POST /offers/{id}/purchase.
type PurchaseRequest struct {
	Buyer    string          `json:"buyer"`
	Currency string          `json:"currency"`
	Tendered decimal.Decimal `json:"tendered"` // native-currency tender; ignored for tokens
}

// UpdateFeeRequest is the JSON body for POST /admin/fee.
type UpdateFeeRequest struct {
	Caller string `json:"caller"`
	FeeBps int64  `json:"fee_bps"`
}

// UpdateRecipientRequest is the JSON body for POST /admin/recipient.
type UpdateRecipientRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

// TransferOwnershipRequest is the JSON body for POST /admin/owner.
type TransferOwnershipRequest struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"new_owner"`
}

// --- HTTP Handlers ---

// CreateOffer handles POST /api/v1/offers
func (s *Service) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Seller == "" || req.Collection == "" || req.Item == "" {
		writeError(w, "seller, collection and item are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	asset := model.AssetRef{Collection: req.Collection, Item: req.Item}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	id, err := s.ledger.Create(ctx, req.Seller, asset, req.Amount, req.USDPrice, ttl)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	offer, err := s.ledger.Get(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(offer)
}

// ListOffers handles GET /api/v1/offers
func (s *Service) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.ledger.List(r.Context())
	if err != nil {
		writeError(w, "failed to list offers", http.StatusInternalServerError)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offers)
}

// GetOffer handles GET /api/v1/offers/{offerID}
func (s *Service) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	offer, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offer)
}

// CancelOffer handles POST /api/v1/offers/{offerID}/cancel
func (s *Service) CancelOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	var req CancelOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	if err := s.ledger.Cancel(r.Context(), id, req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": id, "active": false})
}

// Quote handles GET /api/v1/offers/{offerID}/quote?currency=ETH
// Returns the payment currently required in the chosen currency.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		writeError(w, "currency query parameter is required", http.StatusBadRequest)
		return
	}

	required, err := s.engine.Quote(r.Context(), id, currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"offer_id": id,
		"currency": currency,
		"required": required,
	})
}

// Purchase handles POST /api/v1/offers/{offerID}/purchase
// Executes the full settlement and returns the receipt.
func (s *Service) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Buyer == "" {
		writeError(w, "buyer is required", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		writeError(w, "currency is required", http.StatusBadRequest)
		return
	}

	rec, err := s.engine.Purchase(r.Context(), id, req.Currency, req.Buyer, req.Tendered)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// GetSettlement handles GET /api/v1/settlements/{settlementID}
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetSettlement(r.Context(), chi.URLParam(r, "settlementID"))
	if err != nil {
		writeError(w, "settlement not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// ListOfferSettlements handles GET /api/v1/offers/{offerID}/settlements
func (s *Service) ListOfferSettlements(w http.ResponseWriter, r *http.Request) {
	id, ok := offerID(w, r)
	if !ok {
		return
	}

	records, err := s.store.ListSettlementsByOffer(r.Context(), id)
	if err != nil {
		writeError(w, "failed to list settlements", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.Settlement{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// UpdateFee handles POST /api/v1/admin/fee
func (s *Service) UpdateFee(w http.ResponseWriter, r *http.Request) {
	var req UpdateFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.params.UpdateFee(req.Caller, req.FeeBps); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"fee_bps": req.FeeBps})
}

// UpdateRecipient handles POST /api/v1/admin/recipient
func (s *Service) UpdateRecipient(w http.ResponseWriter, r *http.Request) {
	var req UpdateRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.params.UpdateRecipient(req.Caller, req.Recipient); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"recipient": req.Recipient})
}

// TransferOwnership handles POST /api/v1/admin/owner
func (s *Service) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req TransferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.params.TransferOwnership(req.Caller, req.NewOwner); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"owner": req.NewOwner})
}

// --- helpers ---

func offerID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "offerID"), 10, 64)
	if err != nil {
		writeError(w, "invalid offer id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeDomainError maps settlement-core errors onto HTTP status codes.
// Every rejection leaves no partial state behind, so the body carries the
// error verbatim for the caller to act on (re-approve and retry, etc.).
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrOfferNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOfferOwner),
		errors.Is(err, ledger.ErrApprovalRequired),
		errors.Is(err, settle.ErrApprovalRevoked),
		errors.Is(err, settle.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, settle.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, settle.ErrOfferInactive),
		errors.Is(err, settle.ErrOfferExpired),
		errors.Is(err, settle.ErrSelfTrade):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidOffer),
		errors.Is(err, settle.ErrUnsupportedCurrency),
		errors.Is(err, settle.ErrFeeOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, settle.ErrBadPriceFeed):
		status = http.StatusBadGateway
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
