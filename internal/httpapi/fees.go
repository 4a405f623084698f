package httpapi

import "net/http"

// handleFeeSchedule implements GET /fees: publishes the fee parameters in
// effect so agents can price their bids accurately before proposing.
func (s *Server) handleFeeSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"baseFeePercentBp":            s.schedule.BaseFeePercentBp,
		"verificationFeePerCPUSecond": s.schedule.VerificationFeePerCPUSecond,
		"verificationFeeMinimum":      s.schedule.VerificationFeeMinimum,
		"storageFeePerKB":             s.schedule.StorageFeePerKB,
		"storageFeeMinimum":           s.schedule.StorageFeeMinimum,
		"withdrawalFlatFee":           s.schedule.WithdrawalFlatFee,
	})
}
