package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/walletpay/backend/internal/models"
)

// UserVerifier answers whether a user exists. A definitive "no" is
// (false, nil); transient failures reaching the user service surface as a
// *models.CollaboratorUnavailableError and are never treated as "no".
type UserVerifier interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// LedgerService executes balance transitions: one transaction row, one
// ledger entry and one balance update committed as a single unit. The
// account_balances row is the per-user serialization point; it is locked
// with SELECT ... FOR UPDATE for the duration of a transition, so two
// concurrent debits that would jointly overdraw can never both commit.
type LedgerService struct {
	db    *sql.DB
	users UserVerifier
}

func NewLedgerService(db *sql.DB, users UserVerifier) *LedgerService {
	return &LedgerService{db: db, users: users}
}

// RecordTransactionInput is one requested monetary movement.
type RecordTransactionInput struct {
	UserID         string
	Type           models.TransactionType
	Amount         models.Money
	IdempotencyKey string
	Description    string
}

const maxKeyLength = 255

func (in *RecordTransactionInput) validate() error {
	if in.UserID == "" {
		return &models.ValidationError{Field: "user_id", Reason: "user id is required"}
	}
	if !in.Type.Valid() {
		return &models.ValidationError{Field: "type", Reason: "type must be CREDIT or DEBIT"}
	}
	if in.Amount.Cents() <= 0 {
		return &models.ValidationError{Field: "amount", Reason: "amount must be a positive integer (cents)"}
	}
	if in.IdempotencyKey == "" {
		return &models.ValidationError{Field: "idempotency_key", Reason: "idempotency key is required"}
	}
	if len(in.IdempotencyKey) > maxKeyLength {
		return &models.ValidationError{Field: "idempotency_key", Reason: "idempotency key is too long"}
	}
	if len(in.Description) > maxKeyLength {
		return &models.ValidationError{Field: "description", Reason: "description is too long"}
	}
	return nil
}

// RecordTransaction creates a transaction, appends its ledger entry and
// updates the running balance atomically. A duplicate idempotency key for
// the same user returns *models.DuplicateRequestError carrying the
// previously committed transaction; the balance is never applied twice.
func (s *LedgerService) RecordTransaction(ctx context.Context, in RecordTransactionInput) (*models.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Cheap rejection before taking any lock. The overdraft check must NOT
	// happen here: outside the row lock it would race.
	exists, err := s.users.Exists(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &models.EntityNotFoundError{Entity: "User"}
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &models.PersistenceError{Op: "begin", Cause: err}
	}
	defer dbTx.Rollback()

	if err := s.ensureBalanceRow(dbTx, in.UserID); err != nil {
		return nil, &models.PersistenceError{Op: "ensure balance row", Cause: err}
	}

	currentBalance, err := s.lockBalance(dbTx, in.UserID)
	if err != nil {
		return nil, &models.PersistenceError{Op: "lock balance", Cause: err}
	}

	// Replay check under the lock. The unique constraint on
	// (user_id, idempotency_key) is the backstop for inserts racing past
	// this read in other sessions.
	if existing, err := s.findByIdempotencyKey(dbTx, in.UserID, in.IdempotencyKey); err != nil {
		return nil, &models.PersistenceError{Op: "idempotency lookup", Cause: err}
	} else if existing != nil {
		return nil, &models.DuplicateRequestError{Existing: existing}
	}

	signedAmount := in.Amount.Cents()
	if in.Type == models.TxnDebit {
		signedAmount = -signedAmount
	}

	runningBalance := currentBalance + signedAmount
	if runningBalance < 0 {
		return nil, models.ErrInsufficientFunds
	}

	tx := &models.Transaction{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Type:           in.Type,
		AmountCents:    in.Amount.Cents(),
		Description:    in.Description,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.insertTransaction(dbTx, tx); err != nil {
		if isUniqueViolation(err) {
			// A concurrent request with the same key won the insert. Our
			// transaction is aborted; surface the committed winner.
			dbTx.Rollback()
			return nil, s.duplicateFromCommitted(ctx, in.UserID, in.IdempotencyKey, err)
		}
		return nil, &models.PersistenceError{Op: "insert transaction", Cause: err}
	}

	entry := &models.LedgerEntry{
		TransactionID:     tx.ID,
		UserID:            in.UserID,
		Direction:         in.Type,
		AmountCents:       in.Amount.Cents(),
		SignedAmountCents: signedAmount,
		BalanceAfterCents: runningBalance,
		CreatedAt:         tx.CreatedAt,
	}

	if err := s.insertLedgerEntry(dbTx, entry); err != nil {
		return nil, &models.PersistenceError{Op: "insert ledger entry", Cause: err}
	}

	if err := s.updateBalance(dbTx, in.UserID, runningBalance); err != nil {
		return nil, &models.PersistenceError{Op: "update balance", Cause: err}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, &models.PersistenceError{Op: "commit", Cause: err}
	}

	return tx, nil
}

// GetBalance returns the user's current balance. A missing balance row means
// the user never transacted and reads as zero. Never locks.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (models.Money, error) {
	if userID == "" {
		return 0, &models.ValidationError{Field: "user_id", Reason: "user id is required"}
	}

	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, &models.EntityNotFoundError{Entity: "User"}
	}

	var balance int64
	err = s.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM account_balances WHERE user_id = $1`,
		userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &models.PersistenceError{Op: "get balance", Cause: err}
	}

	return models.MoneyFromCents(balance)
}

// ListTransactions returns the user's transactions newest first, optionally
// filtered by type (empty filter means all).
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, typeFilter models.TransactionType) ([]models.Transaction, error) {
	if userID == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "user id is required"}
	}
	if typeFilter != "" && !typeFilter.Valid() {
		return nil, &models.ValidationError{Field: "type", Reason: "type must be CREDIT or DEBIT"}
	}

	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &models.EntityNotFoundError{Entity: "User"}
	}

	query := `
		SELECT id, user_id, type, amount_cents, description, idempotency_key, created_at
		FROM transactions
		WHERE user_id = $1`
	args := []interface{}{userID}
	if typeFilter != "" {
		query += ` AND type = $2`
		args = append(args, string(typeFilter))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list transactions", Cause: err}
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.AmountCents,
			&tx.Description, &tx.IdempotencyKey, &tx.CreatedAt); err != nil {
			return nil, &models.PersistenceError{Op: "scan transaction", Cause: err}
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "list transactions", Cause: err}
	}

	return transactions, nil
}

// ----------------- atomic section helpers -----------------

// ensureBalanceRow creates the balance row at zero if absent. An existing
// row is left untouched.
func (s *LedgerService) ensureBalanceRow(tx *sql.Tx, userID string) error {
	_, err := tx.Exec(`
		INSERT INTO account_balances (user_id, balance_cents, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC())
	return err
}

func (s *LedgerService) lockBalance(tx *sql.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(`
		SELECT balance_cents
		FROM account_balances
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&balance)
	return balance, err
}

func (s *LedgerService) findByIdempotencyKey(dbTx *sql.Tx, userID, key string) (*models.Transaction, error) {
	var tx models.Transaction
	err := dbTx.QueryRow(`
		SELECT id, user_id, type, amount_cents, description, idempotency_key, created_at
		FROM transactions
		WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key).Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.AmountCents,
		&tx.Description, &tx.IdempotencyKey, &tx.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *LedgerService) insertTransaction(tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (id, user_id, type, amount_cents, description, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, string(t.Type), t.AmountCents, t.Description, t.IdempotencyKey, t.CreatedAt)
	return err
}

func (s *LedgerService) insertLedgerEntry(tx *sql.Tx, e *models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, user_id, direction, amount_cents, signed_amount_cents, balance_after_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.TransactionID, e.UserID, string(e.Direction), e.AmountCents,
		e.SignedAmountCents, e.BalanceAfterCents, e.CreatedAt)
	return err
}

func (s *LedgerService) updateBalance(tx *sql.Tx, userID string, balance int64) error {
	result, err := tx.Exec(`
		UPDATE account_balances
		SET balance_cents = $1, updated_at = $2
		WHERE user_id = $3`,
		balance, time.Now().UTC(), userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// duplicateFromCommitted fetches the transaction that won a racing insert
// with the same idempotency key. Runs on a fresh session because the losing
// database transaction is already aborted.
func (s *LedgerService) duplicateFromCommitted(ctx context.Context, userID, key string, cause error) error {
	var tx models.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount_cents, description, idempotency_key, created_at
		FROM transactions
		WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key).Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.AmountCents,
		&tx.Description, &tx.IdempotencyKey, &tx.CreatedAt)
	if err != nil {
		return &models.PersistenceError{Op: "insert transaction", Cause: cause}
	}
	return &models.DuplicateRequestError{Existing: &tx}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
