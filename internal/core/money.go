// Package core provides money parsing and VAT arithmetic.
//
// Amounts are decimal values with two fractional digits. They are persisted
// as integer cents and converted back with FromCents.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// DefaultVATRate is the VAT percentage applied when an expense does not carry its own rate.
const DefaultVATRate = 15

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// VATBreakdown splits a VAT-inclusive total into its net and VAT parts.
type VATBreakdown struct {
	Net decimal.Decimal
	VAT decimal.Decimal
}

// RoundMoney rounds to cents, half away from zero. For the non-negative
// amounts handled here that is half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// ComputeVAT returns net * rate / 100 rounded to cents.
func ComputeVAT(net, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	if err := checkVATInputs("net", net, ratePercent); err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(net.Mul(ratePercent).Div(hundred)), nil
}

// ComputeTotalWithVAT returns net plus its rounded VAT.
func ComputeTotalWithVAT(net, ratePercent decimal.Decimal) (decimal.Decimal, error) {
	vat, err := ComputeVAT(net, ratePercent)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(net).Add(vat), nil
}

// ExtractNetFromTotal reverses ComputeTotalWithVAT. The net part is rounded
// to cents and the VAT part absorbs the remainder so Net+VAT == total.
func ExtractNetFromTotal(total, ratePercent decimal.Decimal) (VATBreakdown, error) {
	if err := checkVATInputs("total", total, ratePercent); err != nil {
		return VATBreakdown{}, err
	}
	total = RoundMoney(total)
	divisor := decimal.NewFromInt(1).Add(ratePercent.Div(hundred))
	net := RoundMoney(total.Div(divisor))
	return VATBreakdown{Net: net, VAT: total.Sub(net)}, nil
}

func checkVATInputs(field string, amount, rate decimal.Decimal) error {
	if amount.IsNegative() {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	if rate.IsNegative() {
		return &ValidationError{Field: "vat_rate", Reason: "must not be negative"}
	}
	return nil
}

// ParseAmount converts a user supplied decimal string into a money value.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// performs half-up rounding on the third decimal place. Signs, exponents and
// grouping characters are rejected. Zero is accepted; callers decide whether
// a zero amount is meaningful.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	if parts[0] == "" {
		parts[0] = "0"
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	d, err := decimal.NewFromString(strings.Join(parts, "."))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return RoundMoney(d), nil
}

// ParseRate parses a VAT percentage such as "15" or "7.5".
func ParseRate(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "vat_rate", Reason: "not a number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "vat_rate", Reason: "must not be negative"}
	}
	return d, nil
}

// ToCents converts a money value to integer minor units for storage.
func ToCents(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(moneyPlaces).IntPart()
}

// FromCents converts stored minor units back to a money value.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -moneyPlaces)
}

// Percent returns part/whole*100 rounded to two places, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
