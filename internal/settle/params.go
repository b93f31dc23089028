package settle

import (
	"errors"
	"log/slog"
	"sync"
)

// MaxFeeBasisPoints caps the platform fee at 100% so the seller payout can
// never go negative.
const MaxFeeBasisPoints = 10000

var (
	// ErrNotOwner is returned when a caller other than the configured
	// authority attempts an administrative change.
	ErrNotOwner = errors.New("settle: caller is not the owner")

	// ErrFeeOutOfRange is returned for fee rates outside [0, 10000] basis
	// points.
	ErrFeeOutOfRange = errors.New("settle: fee rate must be between 0 and 10000 basis points")
)

// Params holds the mutable operational parameters of the marketplace: the
// owning authority, the fee recipient, and the fee rate in basis points
// (10000 = 100%). All changes are gated on the owner.
type Params struct {
	mu        sync.RWMutex
	owner     string
	recipient string
	feeBps    int64
}

// NewParams creates the admin configuration. feeBps must already be in
// range; out-of-range initial values are clamped to the cap.
func NewParams(owner, recipient string, feeBps int64) *Params {
	if feeBps < 0 {
		feeBps = 0
	}
	if feeBps > MaxFeeBasisPoints {
		feeBps = MaxFeeBasisPoints
	}
	return &Params{owner: owner, recipient: recipient, feeBps: feeBps}
}

// UpdateFee replaces the fee rate. Only the owner may call it.
func (p *Params) UpdateFee(caller string, feeBps int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrNotOwner
	}
	if feeBps < 0 || feeBps > MaxFeeBasisPoints {
		return ErrFeeOutOfRange
	}
	p.feeBps = feeBps
	slog.Info("fee rate updated", "fee_bps", feeBps)
	return nil
}

// UpdateRecipient replaces the fee recipient. Only the owner may call it.
func (p *Params) UpdateRecipient(caller, recipient string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrNotOwner
	}
	p.recipient = recipient
	slog.Info("fee recipient updated", "recipient", recipient)
	return nil
}

// TransferOwnership hands the owning authority to a new identity. Only the
// current owner may call it.
func (p *Params) TransferOwnership(caller, newOwner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrNotOwner
	}
	p.owner = newOwner
	slog.Info("ownership transferred", "owner", newOwner)
	return nil
}

// Owner returns the current owning authority.
func (p *Params) Owner() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// Snapshot returns the recipient and fee rate as one consistent read.
func (p *Params) Snapshot() (recipient string, feeBps int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recipient, p.feeBps
}
