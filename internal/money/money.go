// Package money holds the monetary value object used for subscription
// pricing. Amounts are stored in minor units (cents) to avoid float
// arithmetic.
package money

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedCurrency = errors.New("unsupported_currency")

// minor-unit exponent per ISO 4217 code
var currencyExponents = map[string]int{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"JPY": 0,
	"CHF": 2,
	"CNY": 2,
	"INR": 2,
	"BRL": 2,
}

// Money is an immutable amount in a currency's minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New validates the currency code and returns a Money value.
func New(amount int64, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := currencyExponents[code]; !ok {
		return Money{}, ErrUnsupportedCurrency
	}
	return Money{Amount: amount, Currency: code}, nil
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) Multiply(factor int64) Money {
	return Money{Amount: m.Amount * factor, Currency: m.Currency}
}

func (m Money) IsZero() bool { return m.Amount == 0 }

func (m Money) String() string {
	exp := currencyExponents[m.Currency]
	if exp == 0 {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	div := int64(1)
	for i := 0; i < exp; i++ {
		div *= 10
	}
	units := m.Amount / div
	frac := m.Amount % div
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%0*d %s", units, exp, frac, m.Currency)
}
