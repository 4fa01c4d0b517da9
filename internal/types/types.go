// README: Common value objects (IDs, coordinates, money) used across modules.
package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

type ID string

// NewID returns a random identifier in the compact 32-char hex form handlers accept.
func NewID() ID {
	u := uuid.New()
	return ID(fmt.Sprintf("%x", u[:]))
}

func (id ID) String() string { return string(id) }

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

const DefaultCurrency = "INR"

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrMoneyOverflow    = errors.New("money amount overflows")
)

// Money is an amount in minor units (paise for INR).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}

func (m Money) Add(o Money) (Money, error) {
	if m.Currency == "" {
		m.Currency = o.Currency
	}
	if o.Currency != "" && o.Currency != m.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	sum := m.Amount + o.Amount
	if (o.Amount > 0 && sum < m.Amount) || (o.Amount < 0 && sum > m.Amount) {
		return Money{}, ErrMoneyOverflow
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

func (m Money) Mul(n int) (Money, error) {
	k := int64(n)
	if m.Amount == 0 || k == 0 {
		return Money{Currency: m.Currency}, nil
	}
	p := m.Amount * k
	if p/k != m.Amount || (m.Amount == -1 && k == math.MinInt64) || (k == -1 && m.Amount == math.MinInt64) {
		return Money{}, ErrMoneyOverflow
	}
	return Money{Amount: p, Currency: m.Currency}, nil
}
