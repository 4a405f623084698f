package fees

import (
	"testing"

	"github.com/agentmarket/engine/internal/models"
)

func testSchedule() Schedule {
	return Schedule{
		BaseFeePercentBp:            250, // 2.50%
		VerificationFeePerCPUSecond: models.MustCredits("0.01"),
		VerificationFeeMinimum:      models.MustCredits("0.01"),
		StorageFeePerKB:             models.MustCredits("0.01"),
		StorageFeeMinimum:           models.MustCredits("0.05"),
		WithdrawalFlatFee:           models.MustCredits("0.50"),
	}
}

func TestBaseFeeSplitsEvenly(t *testing.T) {
	s := testSchedule()
	split := s.BaseFee(models.MustCredits("100.00"), models.MustCredits("100.00"))

	if split.Total != models.MustCredits("2.50") {
		t.Errorf("total = %s, want 2.50", split.Total)
	}
	if split.ClientShare != models.MustCredits("1.25") {
		t.Errorf("client share = %s, want 1.25", split.ClientShare)
	}
	if split.SellerShare != models.MustCredits("1.25") {
		t.Errorf("seller share = %s, want 1.25", split.SellerShare)
	}
	if split.ClientShareWaived {
		t.Error("client share should not be waived when balance covers it")
	}
	if split.SellerNetCredited != models.MustCredits("98.75") {
		t.Errorf("seller net = %s, want 98.75", split.SellerNetCredited)
	}
}

func TestBaseFeeWaivesClientShareOnInsolvency(t *testing.T) {
	s := testSchedule()
	split := s.BaseFee(models.MustCredits("100.00"), models.Zero)

	if !split.ClientShareWaived {
		t.Error("expected client share to be waived when balance is zero")
	}
	if split.ClientShare != models.Zero {
		t.Errorf("client share = %s, want 0.00", split.ClientShare)
	}
	// Seller share is still collected from escrow regardless of the client's
	// balance — only the client's own half is ever waived.
	if split.SellerShare != models.MustCredits("1.25") {
		t.Errorf("seller share = %s, want 1.25", split.SellerShare)
	}
}

func TestBaseFeeCeilRounds(t *testing.T) {
	s := testSchedule()
	// 33.33 * 2.5% = 0.83325 -> ceils to 0.84
	split := s.BaseFee(models.MustCredits("33.33"), models.MustCredits("100.00"))
	if split.Total != models.MustCredits("0.84") {
		t.Errorf("total = %s, want 0.84", split.Total)
	}
}

func TestVerificationFeeFloorsAtMinimum(t *testing.T) {
	s := testSchedule()
	fee := s.VerificationFee(0.3)
	if fee != s.VerificationFeeMinimum {
		t.Errorf("fee = %s, want minimum %s", fee, s.VerificationFeeMinimum)
	}
}

func TestVerificationFeeAboveMinimum(t *testing.T) {
	s := testSchedule()
	s.VerificationFeePerCPUSecond = models.MustCredits("1.00")
	fee := s.VerificationFee(5.0)
	if fee != models.MustCredits("5.00") {
		t.Errorf("fee = %s, want 5.00", fee)
	}
}

func TestStorageFeeFloorsAtMinimum(t *testing.T) {
	s := testSchedule()
	fee := s.StorageFee(512) // 0.5 KB * 0.01 = 0.005, ceils to 0.01, below the 0.05 minimum
	if fee != s.StorageFeeMinimum {
		t.Errorf("fee = %s, want minimum %s", fee, s.StorageFeeMinimum)
	}
}

func TestStorageFeeAboveMinimum(t *testing.T) {
	s := testSchedule()
	s.StorageFeePerKB = models.MustCredits("1.00")
	fee := s.StorageFee(10 * 1024) // 10 KB * 1.00 = 10.00
	if fee != models.MustCredits("10.00") {
		t.Errorf("fee = %s, want 10.00", fee)
	}
}
