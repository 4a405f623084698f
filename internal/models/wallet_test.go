package models

import "testing"

func TestDepositTransactionCanCreditRequiresConfirmationsAndMinimum(t *testing.T) {
	d := &DepositTransaction{
		Status:        DepositStatusConfirming,
		Confirmations: 5,
		AmountUSDC:    USDCUnits(10_000_000),
	}
	if d.CanCredit(12, USDCUnits(5_000_000)) {
		t.Error("expected CanCredit to be false below required confirmations")
	}
	if d.CanCredit(5, USDCUnits(20_000_000)) {
		t.Error("expected CanCredit to be false below the minimum amount")
	}
	if !d.CanCredit(5, USDCUnits(5_000_000)) {
		t.Error("expected CanCredit to be true once confirmations and minimum are met")
	}
}

func TestDepositTransactionCanCreditNeverTwice(t *testing.T) {
	d := &DepositTransaction{
		Status:        DepositStatusCredited,
		Confirmations: 100,
		AmountUSDC:    USDCUnits(10_000_000),
	}
	if d.CanCredit(5, USDCUnits(1_000_000)) {
		t.Error("a deposit already credited must never be credited again")
	}
}

func TestDepositTransactionCanCreditRejectsFailed(t *testing.T) {
	d := &DepositTransaction{
		Status:        DepositStatusFailed,
		Confirmations: 100,
		AmountUSDC:    USDCUnits(10_000_000),
	}
	if d.CanCredit(5, USDCUnits(1_000_000)) {
		t.Error("a failed deposit must never be credited")
	}
}

func TestNewWithdrawalRequestComputesNetPayout(t *testing.T) {
	w, err := NewWithdrawalRequest("agent-1", "0xdest", MustCredits("100.00"), MustCredits("0.50"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.GrossAmount != MustCredits("100.00") {
		t.Errorf("gross = %s, want 100.00", w.GrossAmount)
	}
	if w.NetPayout != MustCredits("99.50") {
		t.Errorf("net = %s, want 99.50", w.NetPayout)
	}
	// Conservation: gross must always equal net + fee, with nothing lost or
	// created in between.
	if w.NetPayout.Add(w.FlatFee) != w.GrossAmount {
		t.Errorf("net + fee = %s, want gross %s", w.NetPayout.Add(w.FlatFee), w.GrossAmount)
	}
	if w.Status != WithdrawalStatusPending {
		t.Errorf("status = %s, want pending", w.Status)
	}
}

func TestNewWithdrawalRequestRejectsBelowFee(t *testing.T) {
	_, err := NewWithdrawalRequest("agent-1", "0xdest", MustCredits("0.25"), MustCredits("0.50"))
	if err != ErrWithdrawalBelowFee {
		t.Errorf("err = %v, want ErrWithdrawalBelowFee", err)
	}
}

func TestNewWithdrawalRequestRejectsExactlyZeroNet(t *testing.T) {
	_, err := NewWithdrawalRequest("agent-1", "0xdest", MustCredits("0.50"), MustCredits("0.50"))
	if err != ErrWithdrawalBelowFee {
		t.Errorf("a net payout of zero must be rejected, got err = %v", err)
	}
}
