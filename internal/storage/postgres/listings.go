package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var sla *slaRow
	err := row.Scan(&l.ID, &l.SellerID, &l.Skill, &l.PriceModel, &l.BasePrice, &l.Currency, &sla, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, apperr.Internal("scan listing row", err)
	}
	if sla != nil {
		l.SLA = &models.SLA{ResponseTimeSeconds: sla.ResponseTimeSeconds, UptimePercent: sla.UptimePercent, Notes: sla.Notes}
	}
	return &l, nil
}

// slaRow is jsonb-scannable; models.SLA itself carries no Scan/Value pair
// since it is a plain response DTO shared with the wire format.
type slaRow struct {
	ResponseTimeSeconds int     `json:"responseTimeSeconds,omitempty"`
	UptimePercent       float64 `json:"uptimePercent,omitempty"`
	Notes               string `json:"notes,omitempty"`
}

const listingColumns = `id, seller_id, skill, price_model, base_price, currency, sla, status, created_at, updated_at`

func (s *Store) CreateListing(ctx context.Context, l *models.Listing) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO listings (seller_id, skill, price_model, base_price, currency, sla, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		RETURNING id, created_at, updated_at`,
		l.SellerID, l.Skill, l.PriceModel, l.BasePrice, l.Currency, slaJSON(l.SLA),
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return apperr.Internal("insert listing", err)
	}
	l.Status = models.ListingStatusActive
	return nil
}

func slaJSON(sla *models.SLA) *slaRow {
	if sla == nil {
		return nil
	}
	return &slaRow{ResponseTimeSeconds: sla.ResponseTimeSeconds, UptimePercent: sla.UptimePercent, Notes: sla.Notes}
}

func (s *Store) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

// UpdateListing persists price, SLA, and status changes made via PATCH.
func (s *Store) UpdateListing(ctx context.Context, l *models.Listing) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET price_model = $1, base_price = $2, sla = $3, status = $4, updated_at = now()
		WHERE id = $5`,
		l.PriceModel, l.BasePrice, slaJSON(l.SLA), l.Status, l.ID)
	if err != nil {
		return apperr.Internal("update listing", err)
	}
	return nil
}

// ListListings returns a page of listings, optionally filtered by seller.
func (s *Store) ListListings(ctx context.Context, sellerID string, limit, offset int) ([]*models.Listing, error) {
	var rows pgx.Rows
	var err error
	if sellerID != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, sellerID, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, apperr.Internal("list listings", err)
	}
	return scanListings(rows)
}

// DiscoverListings implements GET /discover: active listings filtered by
// skill substring and optionally by a minimum seller reputation.
func (s *Store) DiscoverListings(ctx context.Context, skill string, minReputation float64, limit, offset int) ([]*models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.seller_id, l.skill, l.price_model, l.base_price, l.currency, l.sla, l.status, l.created_at, l.updated_at
		FROM listings l
		JOIN agents a ON a.id = l.seller_id
		WHERE l.status = 'active'
		  AND ($1 = '' OR l.skill ILIKE '%' || $1 || '%')
		  AND a.seller_reputation >= $2
		ORDER BY a.seller_reputation DESC, l.created_at DESC
		LIMIT $3 OFFSET $4`,
		skill, minReputation, limit, offset)
	if err != nil {
		return nil, apperr.Internal("discover listings", err)
	}
	return scanListings(rows)
}

func scanListings(rows pgx.Rows) ([]*models.Listing, error) {
	defer rows.Close()
	var out []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate listing rows", err)
	}
	return out, nil
}
