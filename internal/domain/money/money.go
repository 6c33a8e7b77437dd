package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownCurrency = errors.New("money: unknown currency")

type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	DKK Currency = "DKK"
	SEK Currency = "SEK"
	GBP Currency = "GBP"
)

// Currencies lists every settlement currency the service accepts.
var Currencies = []Currency{EUR, USD, DKK, SEK, GBP}

// ParseCurrency normalises a currency code and rejects codes outside Currencies.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	for _, known := range Currencies {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
}

// Money is an exact decimal amount in a single currency.
type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func New(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

// SameCurrency reports whether m is denominated in c.
func (m Money) SameCurrency(c Currency) bool {
	return m.Currency == c
}

// MinorUnits returns the amount in the smallest currency unit (cents, øre, ...),
// rounded half away from zero.
func (m Money) MinorUnits() int64 {
	return m.Value.Shift(2).Round(0).IntPart()
}

func (m Money) String() string {
	return m.Value.StringFixed(2) + " " + string(m.Currency)
}
