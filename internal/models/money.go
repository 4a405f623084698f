package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Credits is a fixed-point decimal with two fractional digits, stored as an
// integer number of cents. All ledger arithmetic in the system operates on
// Credits rather than binary floating point, per the ledger's invariant
// that monetary arithmetic is always exact.
type Credits int64

// Zero is the additive identity.
const Zero Credits = 0

// NewCreditsFromString parses a decimal string like "28.00" into Credits.
func NewCreditsFromString(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 63)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	var frac int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > 2 {
			return 0, fmt.Errorf("amount %q has more than 2 fractional digits", s)
		}
		for len(fracStr) < 2 {
			fracStr += "0"
		}
		frac, err = strconv.ParseInt(fracStr, 10, 63)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	total := whole*100 + frac
	if neg {
		total = -total
	}
	return Credits(total), nil
}

// MustCredits parses a literal decimal string, panicking on malformed input.
// Intended for constants and tests, never for request-derived input.
func MustCredits(s string) Credits {
	c, err := NewCreditsFromString(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Credits) String() string {
	neg := c < 0
	v := int64(c)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%02d", v/100, v%100)
	if neg {
		s = "-" + s
	}
	return s
}

// MarshalJSON renders Credits as a decimal-string JSON value so precision
// never passes through a binary float decoder on either side of the wire.
func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (c *Credits) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := NewCreditsFromString(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value implements driver.Valuer for storage as a numeric column.
func (c Credits) Value() (driver.Value, error) {
	return int64(c), nil
}

// Scan implements sql.Scanner, reading back the integer cents column.
func (c *Credits) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*c = Credits(v)
	case int32:
		*c = Credits(v)
	case float64:
		*c = Credits(int64(v))
	case nil:
		*c = 0
	default:
		return fmt.Errorf("unsupported Scan type %T for Credits", src)
	}
	return nil
}

// Add returns c+other.
func (c Credits) Add(other Credits) Credits { return c + other }

// Sub returns c-other.
func (c Credits) Sub(other Credits) Credits { return c - other }

// Neg returns -c.
func (c Credits) Neg() Credits { return -c }

// LessThan reports whether c < other.
func (c Credits) LessThan(other Credits) bool { return c < other }

// IsNegative reports whether c < 0.
func (c Credits) IsNegative() bool { return c < 0 }

// PercentCeil computes round-up(c * percent / 100) to the nearest cent,
// used by the fee calculator's "up to 0.01" rounding rule. percent is in
// whole percentage points scaled by 100 (e.g. 250 == 2.50%).
func (c Credits) PercentCeil(percentBp int64) Credits {
	if c <= 0 || percentBp <= 0 {
		return 0
	}
	num := int64(c) * percentBp
	den := int64(10000)
	q := num / den
	if num%den != 0 {
		q++
	}
	return Credits(q)
}

// USDCUnits is a fixed-point decimal with six fractional digits, the wire
// format for on-chain USDC amounts. 1 USDCUnits-equivalent (1_000_000 base
// units) converts 1:1 in value to 100 Credits (1.00 credit).
type USDCUnits int64

// ToCredits converts six-decimal on-chain units to two-decimal credits,
// truncating any sub-cent remainder (the remainder is economically
// negligible and never reconciled back on-chain).
func (u USDCUnits) ToCredits() Credits {
	return Credits(int64(u) / 10000)
}

func (u USDCUnits) String() string {
	v := int64(u)
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%06d", v/1_000_000, v%1_000_000)
	if neg {
		s = "-" + s
	}
	return s
}
