// Package core provides money parsing and handling utilities.
//
// Ledger amounts are whole token units. One token is pegged to one major
// unit of the display currency, so formatting shifts units into the
// currency's minor units before handing them to go-money.
package core

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
)

// DefaultCurrency is the display currency used when none is configured.
const DefaultCurrency = money.INR

var ErrInvalidAmount = errors.New("invalid amount")

// Money is an amount in the smallest ledger unit.
type Money struct {
	Units int64
}

func (m Money) Validate() error {
	if m.Units <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ParseUnits converts a user supplied amount to token units.
//
// Only plain positive integers are accepted; the ledger has no fractional
// units. Surrounding whitespace is trimmed; signs are rejected.
//
// Examples:
//
//	ParseUnits("40")  -> 40, nil
//	ParseUnits(" 7 ") -> 7, nil
//	ParseUnits("1.5") -> 0, ErrInvalidAmount
func ParseUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// Display formats m in the given currency, e.g. "₹1,250.00".
func (m Money) Display(currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	cur := money.GetCurrency(currency)
	if cur == nil {
		return strconv.FormatInt(m.Units, 10)
	}
	scale := int64(1)
	for i := 0; i < cur.Fraction; i++ {
		scale *= 10
	}
	if m.Units > math.MaxInt64/scale || m.Units < math.MinInt64/scale {
		// No room for minor units; format whole units without a fraction.
		return money.NewFormatter(0, cur.Decimal, cur.Thousand, cur.Grapheme, cur.Template).Format(m.Units)
	}
	return money.New(m.Units*scale, currency).Display()
}
