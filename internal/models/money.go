package models

import "encoding/json"

// Money is an amount of minor currency units (cents). Amounts on
// transactions are never negative; signed deltas are plain int64.
type Money int64

// NewMoney validates an amount in minor units.
func NewMoney(cents int64) (Money, error) {
	if cents < 0 {
		return 0, &ValidationError{Field: "amount", Reason: "amount cannot be negative"}
	}
	return Money(cents), nil
}

// ParseMoney reads an amount from an untrusted JSON number. Fractional
// values are rejected so callers cannot smuggle sub-cent amounts.
func ParseMoney(raw json.Number) (Money, error) {
	cents, err := raw.Int64()
	if err != nil {
		return 0, &ValidationError{Field: "amount", Reason: "amount must be an integer (cents)"}
	}
	return NewMoney(cents)
}

// MoneyFromCents reconstructs an amount from a trusted persisted value.
func MoneyFromCents(cents int64) (Money, error) {
	if cents < 0 {
		return 0, &ValidationError{Field: "amount", Reason: "persisted amount cannot be negative"}
	}
	return Money(cents), nil
}

func (m Money) Cents() int64 {
	return int64(m)
}
