// Package auth implements the request authenticator (C2): header parsing,
// timestamp-skew rejection, nonce replay protection, and Ed25519 signature
// verification over the canonical signed-request string.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/agentmarket/engine/internal/apperr"
	"github.com/agentmarket/engine/internal/models"
	scrypto "github.com/agentmarket/engine/internal/services/crypto"
)

// AgentLookup loads an agent by id for authentication. Implemented by the
// agent repository.
type AgentLookup interface {
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

// Authenticator verifies the three-header signed-request envelope of §4.1
// and §6: `Authorization: AgentSig <agent_id>:<signature_hex>`, `X-Timestamp`,
// optional `X-Nonce`.
type Authenticator struct {
	agents     AgentLookup
	nonces     NonceStore
	skew       time.Duration
	nonceTTL   time.Duration
	timeSource func() time.Time
}

func NewAuthenticator(agents AgentLookup, nonces NonceStore, skew, nonceTTL time.Duration) *Authenticator {
	return &Authenticator{
		agents:     agents,
		nonces:     nonces,
		skew:       skew,
		nonceTTL:   nonceTTL,
		timeSource: time.Now,
	}
}

// Request carries the parsed pieces of an inbound HTTP request needed for
// authentication, decoupled from net/http so this package stays testable
// without spinning up a server.
type Request struct {
	Authorization string
	TimestampRaw  string
	Nonce         string
	Method        string
	Path          string
	Body          []byte
}

// Authenticate runs the full C2 procedure and returns the authenticated
// agent, or an apperr.Error with Kind=KindAuthentication and a distinct
// Detail per failure mode.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (*models.Agent, error) {
	agentID, sigHex, err := parseAuthorizationHeader(req.Authorization)
	if err != nil {
		return nil, apperr.Authentication(err.Error())
	}

	ts, err := time.Parse(time.RFC3339, req.TimestampRaw)
	if err != nil {
		return nil, apperr.Authentication("malformed or naive X-Timestamp")
	}
	if ts.Location() == time.UTC && !strings.Contains(req.TimestampRaw, "Z") && !strings.ContainsAny(req.TimestampRaw, "+-") {
		return nil, apperr.Authentication("naive timestamp rejected")
	}
	now := a.timeSource()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.skew {
		return nil, apperr.Authentication("timestamp outside allowed skew window")
	}

	if req.Nonce != "" {
		fresh, err := a.nonces.CheckAndSet(ctx, agentID, req.Nonce, a.nonceTTL)
		if err != nil {
			return nil, apperr.UpstreamUnavailable("nonce store unavailable", err)
		}
		if !fresh {
			return nil, apperr.Authentication("nonce reused")
		}
	}

	agent, err := a.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, apperr.Authentication("agent not found")
	}
	if !agent.IsActive() {
		return nil, apperr.Authentication("agent not active")
	}

	pubKey, err := scrypto.ParsePublicKeyHex(agent.PublicKeyHex)
	if err != nil {
		return nil, apperr.Internal("stored agent public key is malformed", err)
	}

	message := CanonicalSignedString(req.TimestampRaw, req.Method, req.Path, req.Body)
	ok, err := scrypto.VerifySignature(pubKey, message, sigHex)
	if err != nil || !ok {
		return nil, apperr.Authentication("invalid signature")
	}

	return agent, nil
}

// CanonicalSignedString builds the exact byte sequence an agent must sign:
// timestamp + "\n" + METHOD + "\n" + path + "\n" + sha256_hex(body).
func CanonicalSignedString(timestamp, method, path string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	s := timestamp + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + hex.EncodeToString(bodyHash[:])
	return []byte(s)
}

func parseAuthorizationHeader(header string) (agentID, sigHex string, err error) {
	if header == "" {
		return "", "", fmt.Errorf("missing Authorization header")
	}
	const scheme = "AgentSig "
	if !strings.HasPrefix(header, scheme) {
		return "", "", fmt.Errorf("unsupported authorization scheme")
	}
	rest := strings.TrimPrefix(header, scheme)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed Authorization header")
	}
	return parts[0], parts[1], nil
}
