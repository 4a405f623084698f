package models

import (
	"errors"
	"net"
	"net/url"
	"time"
)

// AgentStatus is the lifecycle state of a registered agent identity.
type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "active"
	AgentStatusSuspended   AgentStatus = "suspended"
	AgentStatusDeactivated AgentStatus = "deactivated"
)

// Agent is an autonomous service identity on the marketplace, identified by
// an Ed25519 public key. Balance is denominated in credits (2 fractional
// digits, 1:1 with USDC) and must never go negative.
type Agent struct {
	ID                string                 `json:"id"`
	PublicKey         []byte                 `json:"-"`
	PublicKeyHex      string                 `json:"publicKey"`
	DisplayName       string                 `json:"displayName"`
	EndpointURL       string                 `json:"endpointUrl"`
	Capabilities      []string               `json:"capabilities"`
	WebhookSecret     string                 `json:"-"`
	CapabilityCard    map[string]interface{} `json:"capabilityCard,omitempty"`
	SellerReputation  float64                `json:"sellerReputation"`
	ClientReputation  float64                `json:"clientReputation"`
	Balance           Credits                `json:"balance"`
	Status            AgentStatus            `json:"status"`
	CreatedAt         time.Time              `json:"createdAt"`
	LastSeenAt        time.Time              `json:"lastSeenAt"`
}

// IsActive reports whether the agent may authenticate successfully.
func (a *Agent) IsActive() bool {
	return a.Status == AgentStatusActive
}

// ValidateDisplayName bounds the display name shown in discovery responses.
func ValidateDisplayName(name string) error {
	if len(name) == 0 || len(name) > 128 {
		return errors.New("display name must be between 1 and 128 characters")
	}
	return nil
}

// ValidateEndpointURL enforces HTTPS and rejects private/loopback hosts, per
// the capability-card fetch contract (the system fetches the card once but
// never otherwise calls into agent endpoints).
func ValidateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("endpoint URL is required")
	}
	if len(rawURL) > 2048 {
		return errors.New("endpoint URL too long")
	}
	if len(rawURL) < 8 || rawURL[:8] != "https://" {
		return errors.New("endpoint URL must use https")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return errors.New("endpoint URL is malformed")
	}
	host := u.Hostname()
	if host == "localhost" {
		return errors.New("endpoint URL must not target a private or loopback host")
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()) {
		return errors.New("endpoint URL must not target a private or loopback host")
	}
	return nil
}

// ValidateCapabilities bounds the capability tag sequence.
func ValidateCapabilities(caps []string) error {
	if len(caps) > 32 {
		return errors.New("at most 32 capability tags are allowed")
	}
	for _, c := range caps {
		if c == "" || len(c) > 64 {
			return errors.New("capability tags must be 1-64 characters")
		}
	}
	return nil
}
