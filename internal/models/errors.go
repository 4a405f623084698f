package models

import "errors"

var (
	// ErrWithdrawalBelowFee is returned when a withdrawal's gross amount does
	// not exceed its flat fee by at least one cent.
	ErrWithdrawalBelowFee = errors.New("withdrawal amount does not exceed the flat fee")
)
