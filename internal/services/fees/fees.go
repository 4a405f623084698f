// Package fees implements the platform's three fee schedules as pure
// functions over models.Credits: every amount the ledger needs to collect
// is computed here, never inline at the call site, so the rounding rule
// ("up to 0.01") has exactly one implementation.
package fees

import (
	"github.com/agentmarket/engine/internal/models"
)

// Schedule is the set of fee parameters resolved from config at startup.
type Schedule struct {
	BaseFeePercentBp int64 // scaled x100, e.g. 250 == 2.50%

	VerificationFeePerCPUSecond models.Credits
	VerificationFeeMinimum      models.Credits

	StorageFeePerKB   models.Credits
	StorageFeeMinimum models.Credits

	WithdrawalFlatFee models.Credits
}

// BaseFeeSplit is the result of computing the base marketplace fee on
// escrow release: a total, and how much of it is actually collectable
// from each party.
type BaseFeeSplit struct {
	Total              models.Credits
	ClientShare        models.Credits
	SellerShare        models.Credits
	ClientShareWaived  bool
	SellerNetCredited  models.Credits
}

// BaseFee computes `base_percent × agreed_price`, ceiling-rounded to the
// cent, then splits it 50/50: the seller's half comes out of escrow before
// payout, the client's half is charged against their balance. If the
// client's balance cannot cover its half, the split waives it rather than
// block the release — completion matters more than collecting a few cents
// on the happy path.
func (s Schedule) BaseFee(agreedPrice models.Credits, clientBalance models.Credits) BaseFeeSplit {
	total := agreedPrice.PercentCeil(s.BaseFeePercentBp)
	sellerShare := total - total/2
	clientShare := total / 2

	waived := clientBalance.LessThan(clientShare)
	if waived {
		clientShare = 0
	}

	sellerNet := agreedPrice.Sub(sellerShare)

	return BaseFeeSplit{
		Total:             total,
		ClientShare:       clientShare,
		SellerShare:       sellerShare,
		ClientShareWaived: waived,
		SellerNetCredited: sellerNet,
	}
}

// VerificationFee computes `per_cpu_second × cpu_seconds`, ceiling-rounded
// and floored at the configured minimum. cpuSeconds is wall-clock elapsed
// for script mode, or in-process elapsed time for declarative mode —
// typically subsecond, so the minimum applies on nearly every call.
func (s Schedule) VerificationFee(cpuSeconds float64) models.Credits {
	raw := creditsFromFloatCeil(s.VerificationFeePerCPUSecond, cpuSeconds)
	if raw.LessThan(s.VerificationFeeMinimum) {
		return s.VerificationFeeMinimum
	}
	return raw
}

// StorageFee computes `per_kb × (serialized_size / 1024)`, ceiling-rounded
// and floored at the configured minimum.
func (s Schedule) StorageFee(serializedSizeBytes int64) models.Credits {
	kb := float64(serializedSizeBytes) / 1024.0
	raw := creditsFromFloatCeil(s.StorageFeePerKB, kb)
	if raw.LessThan(s.StorageFeeMinimum) {
		return s.StorageFeeMinimum
	}
	return raw
}

// creditsFromFloatCeil multiplies a per-unit Credits rate by a fractional
// unit count and ceiling-rounds to the cent. The multiplier (cpu_seconds,
// kilobytes) is not itself a monetary value, so float64 is acceptable here;
// the result is immediately snapped back to fixed-point Credits.
func creditsFromFloatCeil(perUnit models.Credits, units float64) models.Credits {
	if units <= 0 || perUnit <= 0 {
		return 0
	}
	cents := float64(perUnit) * units
	whole := int64(cents)
	if cents-float64(whole) > 1e-9 {
		whole++
	}
	return models.Credits(whole)
}
