package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
)

// scanAgent reads one agents row, decoding the nullable capability_card
// jsonb column into a map only when present.
func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	var card []byte
	var caps []string
	err := row.Scan(
		&a.ID, &a.PublicKey, &a.PublicKeyHex, &a.DisplayName, &a.EndpointURL,
		&caps, &a.WebhookSecret, &card, &a.SellerReputation, &a.ClientReputation,
		&a.Balance, &a.Status, &a.CreatedAt, &a.LastSeenAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("agent not found")
		}
		return nil, apperr.Internal("scan agent row", err)
	}
	a.Capabilities = caps
	if len(card) > 0 {
		if err := json.Unmarshal(card, &a.CapabilityCard); err != nil {
			return nil, apperr.Internal("decode agent capability card", err)
		}
	}
	return &a, nil
}

const agentColumns = `id, public_key, public_key_hex, display_name, endpoint_url,
	capabilities, webhook_secret, capability_card, seller_reputation, client_reputation,
	balance, status, created_at, last_seen_at`

// GetAgent implements auth.AgentLookup and ledger/jobs lookups.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	return scanAgent(row)
}

// GetAgentByPublicKeyHex supports registration's duplicate-key rejection.
func (s *Store) GetAgentByPublicKeyHex(ctx context.Context, publicKeyHex string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE public_key_hex = $1`, publicKeyHex)
	return scanAgent(row)
}

// CreateAgent registers a new agent identity.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	var card []byte
	if a.CapabilityCard != nil {
		var err error
		card, err = json.Marshal(a.CapabilityCard)
		if err != nil {
			return apperr.Internal("encode agent capability card", err)
		}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (public_key, public_key_hex, display_name, endpoint_url, capabilities, webhook_secret, capability_card, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, last_seen_at`,
		a.PublicKey, a.PublicKeyHex, a.DisplayName, a.EndpointURL, a.Capabilities, a.WebhookSecret, card, models.AgentStatusActive,
	).Scan(&a.ID, &a.CreatedAt, &a.LastSeenAt)
	if err != nil {
		return apperr.Internal("insert agent", err)
	}
	a.Status = models.AgentStatusActive
	return nil
}

// UpdateProfile persists the mutable subset of an agent's profile: display
// name, endpoint, capabilities, and capability card.
func (s *Store) UpdateProfile(ctx context.Context, a *models.Agent) error {
	var card []byte
	if a.CapabilityCard != nil {
		var err error
		card, err = json.Marshal(a.CapabilityCard)
		if err != nil {
			return apperr.Internal("encode agent capability card", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET display_name = $1, endpoint_url = $2, capabilities = $3, capability_card = $4
		WHERE id = $5`,
		a.DisplayName, a.EndpointURL, a.Capabilities, card, a.ID)
	if err != nil {
		return apperr.Internal("update agent profile", err)
	}
	return nil
}

// TouchLastSeen bumps last_seen_at on successful authentication.
func (s *Store) TouchLastSeen(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE agents SET last_seen_at = now() WHERE id = $1`, agentID)
	if err != nil {
		return apperr.Internal("touch agent last_seen_at", err)
	}
	return nil
}

// SetAgentStatus transitions an agent's lifecycle status, e.g. on
// deactivation.
func (s *Store) SetAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE agents SET status = $1 WHERE id = $2`, status, agentID)
	if err != nil {
		return apperr.Internal("update agent status", err)
	}
	return nil
}

// UpdateReputation recomputes an agent's reputation score from the review
// aggregation path, writing the seller or client side independently.
func (s *Store) UpdateReputation(ctx context.Context, agentID string, sellerReputation, clientReputation *float64) error {
	if sellerReputation != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE agents SET seller_reputation = $1 WHERE id = $2`, *sellerReputation, agentID); err != nil {
			return apperr.Internal("update seller reputation", err)
		}
	}
	if clientReputation != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE agents SET client_reputation = $1 WHERE id = $2`, *clientReputation, agentID); err != nil {
			return apperr.Internal("update client reputation", err)
		}
	}
	return nil
}
