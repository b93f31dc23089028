package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Offer ids come from a BIGSERIAL sequence, so they are monotonically
// increasing and never reused even across restarts.
//
// Expected schema:
//
//	CREATE TABLE offers (
//	    id         BIGSERIAL PRIMARY KEY,
//	    owner      TEXT NOT NULL,
//	    collection TEXT NOT NULL,
//	    item       TEXT NOT NULL,
//	    amount     NUMERIC NOT NULL,
//	    usd_price  NUMERIC NOT NULL,
//	    deadline   TIMESTAMPTZ NOT NULL,
//	    active     BOOLEAN NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE settlements (
//	    id         TEXT PRIMARY KEY,
//	    offer_id   BIGINT NOT NULL REFERENCES offers(id),
//	    buyer      TEXT NOT NULL,
//	    currency   TEXT NOT NULL,
//	    required   NUMERIC NOT NULL,
//	    fee        NUMERIC NOT NULL,
//	    payout     NUMERIC NOT NULL,
//	    change     NUMERIC NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertOffer(ctx context.Context, o *model.Offer) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO offers (owner, collection, item, amount, usd_price, deadline, active, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)
		 RETURNING id`,
		o.Owner, o.Asset.Collection, o.Asset.Item,
		o.Amount.String(), o.USDPrice.String(),
		o.Deadline, o.Active, o.CreatedAt,
	).Scan(&o.ID)
}

func (s *PostgresStore) GetOffer(ctx context.Context, id uint64) (*model.Offer, error) {
	var o model.Offer
	var amount, usdPrice string

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, collection, item,
		        amount::TEXT, usd_price::TEXT,
		        deadline, active, created_at
		 FROM offers WHERE id = $1`, id).
		Scan(&o.ID, &o.Owner, &o.Asset.Collection, &o.Asset.Item,
			&amount, &usdPrice,
			&o.Deadline, &o.Active, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOfferMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get offer %d: %w", id, err)
	}

	o.Amount, _ = decimal.NewFromString(amount)
	o.USDPrice, _ = decimal.NewFromString(usdPrice)

	return &o, nil
}

func (s *PostgresStore) ListOffers(ctx context.Context) ([]model.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, collection, item,
		        amount::TEXT, usd_price::TEXT,
		        deadline, active, created_at
		 FROM offers ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []model.Offer
	for rows.Next() {
		var o model.Offer
		var amount, usdPrice string
		if err := rows.Scan(&o.ID, &o.Owner, &o.Asset.Collection, &o.Asset.Item,
			&amount, &usdPrice,
			&o.Deadline, &o.Active, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Amount, _ = decimal.NewFromString(amount)
		o.USDPrice, _ = decimal.NewFromString(usdPrice)
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *PostgresStore) SetOfferActive(ctx context.Context, id uint64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE offers SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOfferMissing
	}
	return nil
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, rec *model.Settlement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (id, offer_id, buyer, currency, required, fee, payout, change, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		rec.ID, rec.OfferID, rec.Buyer, rec.Currency,
		rec.Required.String(), rec.Fee.String(), rec.Payout.String(), rec.Change.String(),
		rec.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSettlement(ctx context.Context, id string) (*model.Settlement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, offer_id, buyer, currency,
		        required::TEXT, fee::TEXT, payout::TEXT, change::TEXT, created_at
		 FROM settlements WHERE id = $1`, id)

	rec, err := scanSettlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettlementMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListSettlementsByOffer(ctx context.Context, offerID uint64) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, offer_id, buyer, currency,
		        required::TEXT, fee::TEXT, payout::TEXT, change::TEXT, created_at
		 FROM settlements WHERE offer_id = $1 ORDER BY created_at`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.Settlement
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// scanTarget covers both pgx.Row and pgx.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanSettlement(row scanTarget) (*model.Settlement, error) {
	var rec model.Settlement
	var required, fee, payout, change string

	if err := row.Scan(&rec.ID, &rec.OfferID, &rec.Buyer, &rec.Currency,
		&required, &fee, &payout, &change, &rec.CreatedAt); err != nil {
		return nil, err
	}

	rec.Required, _ = decimal.NewFromString(required)
	rec.Fee, _ = decimal.NewFromString(fee)
	rec.Payout, _ = decimal.NewFromString(payout)
	rec.Change, _ = decimal.NewFromString(change)

	return &rec, nil
}
