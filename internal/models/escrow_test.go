package models

import (
	"encoding/json"
	"testing"
)

func TestNewEscrowAuditEntryMarshalsTypedMetadata(t *testing.T) {
	entry, err := NewEscrowAuditEntry("escrow-1", EscrowAuditFunded, "client-1", MustCredits("50.00"), FundedMetadata{
		ClientBalanceAfter: MustCredits("150.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.EscrowID != "escrow-1" {
		t.Errorf("escrowId = %s, want escrow-1", entry.EscrowID)
	}
	if entry.Action != EscrowAuditFunded {
		t.Errorf("action = %s, want funded", entry.Action)
	}
	if entry.Amount != MustCredits("50.00") {
		t.Errorf("amount = %s, want 50.00", entry.Amount)
	}

	var decoded FundedMetadata
	if err := json.Unmarshal(entry.Metadata, &decoded); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if decoded.ClientBalanceAfter != MustCredits("150.00") {
		t.Errorf("clientBalanceAfter = %s, want 150.00", decoded.ClientBalanceAfter)
	}
}

func TestNewEscrowAuditEntryEachActionCarriesItsOwnMetadataShape(t *testing.T) {
	cases := []struct {
		action   EscrowAuditAction
		metadata interface{}
	}{
		{EscrowAuditCreated, CreatedMetadata{AgreedPrice: MustCredits("10.00")}},
		{EscrowAuditFunded, FundedMetadata{ClientBalanceAfter: MustCredits("90.00")}},
		{EscrowAuditRefunded, RefundedMetadata{Reason: "job cancelled"}},
		{EscrowAuditDisputed, DisputedMetadata{Reason: "deliverable rejected"}},
		{EscrowAuditResolved, ResolvedMetadata{Resolution: "refund to client"}},
	}
	for _, c := range cases {
		entry, err := NewEscrowAuditEntry("escrow-1", c.action, "actor-1", MustCredits("10.00"), c.metadata)
		if err != nil {
			t.Errorf("action %s: unexpected error: %v", c.action, err)
			continue
		}
		if entry.Action != c.action {
			t.Errorf("action = %s, want %s", entry.Action, c.action)
		}
		if len(entry.Metadata) == 0 {
			t.Errorf("action %s: expected non-empty metadata", c.action)
		}
	}
}

func TestNewEscrowAuditEntryRejectsUnmarshalableMetadata(t *testing.T) {
	// A channel cannot be marshaled to JSON; the error must surface rather
	// than silently producing a corrupt append-only entry.
	_, err := NewEscrowAuditEntry("escrow-1", EscrowAuditCreated, "actor-1", MustCredits("10.00"), make(chan int))
	if err == nil {
		t.Error("expected error marshaling unsupported metadata type")
	}
}
