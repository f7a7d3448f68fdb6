package models

import (
	"time"
)

// TransactionType is the direction of a monetary movement.
type TransactionType string

const (
	TxnCredit TransactionType = "CREDIT"
	TxnDebit  TransactionType = "DEBIT"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TxnCredit || t == TxnDebit
}

// Transaction represents one requested monetary movement. Rows are
// append-only; a transaction is never mutated or deleted after creation.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Type           TransactionType `json:"type" db:"type"`
	AmountCents    int64           `json:"amount" db:"amount_cents"`
	Description    string          `json:"description,omitempty" db:"description"`
	IdempotencyKey string          `json:"-" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// LedgerEntry is the immutable audit record tied 1:1 to a transaction.
// BalanceAfterCents snapshots the balance immediately after this entry, so
// for every user entry[i].balance_after == entry[i-1].balance_after +
// entry[i].signed_amount.
type LedgerEntry struct {
	ID                int64           `json:"id" db:"id"`
	TransactionID     string          `json:"transaction_id" db:"transaction_id"`
	UserID            string          `json:"user_id" db:"user_id"`
	Direction         TransactionType `json:"direction" db:"direction"`
	AmountCents       int64           `json:"amount" db:"amount_cents"`
	SignedAmountCents int64           `json:"signed_amount" db:"signed_amount_cents"`
	BalanceAfterCents int64           `json:"balance_after" db:"balance_after_cents"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// AccountBalance is the authoritative current balance, one row per user.
// It is lazily created at zero on the user's first transaction and must
// never go negative.
type AccountBalance struct {
	UserID       string    `json:"user_id" db:"user_id"`
	BalanceCents int64     `json:"balance" db:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
