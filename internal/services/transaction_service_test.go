package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpay/backend/internal/models"
)

func newTransactionFixture(t *testing.T) (*TransactionService, sqlmock.Sqlmock, *MockUserVerifier) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := &MockUserVerifier{}
	return NewTransactionService(NewLedgerService(db, users)), mock, users
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(context.WithValue(req.Context(), "userID", testUserID))
}

func TestTransactionService_CreateTransaction(t *testing.T) {
	validBody := `{"user_id": "` + testUserID + `", "type": "CREDIT", "amount": 5000, "description": "salary"}`

	t.Run("creates and returns 201", func(t *testing.T) {
		service, mock, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(true, nil)
		expectAtomicSection(mock, 0, 5000)

		req := authedRequest(http.MethodPost, "/api/v1/transactions", validBody)
		req.Header.Set("X-Idempotency-Key", "key-1")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var tx models.Transaction
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
		assert.Equal(t, testUserID, tx.UserID)
		assert.Equal(t, int64(5000), tx.AmountCents)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing idempotency key header", func(t *testing.T) {
		service, _, _ := newTransactionFixture(t)

		req := authedRequest(http.MethodPost, "/api/v1/transactions", validBody)
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "X-Idempotency-Key")
	})

	t.Run("user_id must match the authenticated user", func(t *testing.T) {
		service, _, _ := newTransactionFixture(t)

		body := `{"user_id": "0e6dd6f2-9f3c-4f39-8d96-19f8bd7ede83", "type": "CREDIT", "amount": 5000}`
		req := authedRequest(http.MethodPost, "/api/v1/transactions", body)
		req.Header.Set("X-Idempotency-Key", "key-2")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("fractional amount is rejected", func(t *testing.T) {
		service, _, _ := newTransactionFixture(t)

		body := `{"user_id": "` + testUserID + `", "type": "CREDIT", "amount": 50.5}`
		req := authedRequest(http.MethodPost, "/api/v1/transactions", body)
		req.Header.Set("X-Idempotency-Key", "key-3")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown field is rejected", func(t *testing.T) {
		service, _, _ := newTransactionFixture(t)

		body := `{"user_id": "` + testUserID + `", "type": "CREDIT", "amount": 5000, "extra": true}`
		req := authedRequest(http.MethodPost, "/api/v1/transactions", body)
		req.Header.Set("X-Idempotency-Key", "key-4")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient funds maps to 400", func(t *testing.T) {
		service, mock, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(true, nil)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_balances").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT balance_cents").
			WithArgs(testUserID).
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(100))
		mock.ExpectQuery("FROM transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "amount_cents", "description", "idempotency_key", "created_at"}))
		mock.ExpectRollback()

		body := `{"user_id": "` + testUserID + `", "type": "DEBIT", "amount": 5000}`
		req := authedRequest(http.MethodPost, "/api/v1/transactions", body)
		req.Header.Set("X-Idempotency-Key", "key-5")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "insufficient funds")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate request replays with 200", func(t *testing.T) {
		service, mock, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(true, nil)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_balances").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT balance_cents").
			WithArgs(testUserID).
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(5000))
		mock.ExpectQuery("FROM transactions").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "amount_cents", "description", "idempotency_key", "created_at"}).
				AddRow("existing-id", testUserID, "CREDIT", 5000, "salary", "key-6", time.Now().UTC()))
		mock.ExpectRollback()

		req := authedRequest(http.MethodPost, "/api/v1/transactions", validBody)
		req.Header.Set("X-Idempotency-Key", "key-6")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "existing-id")
		assert.Contains(t, w.Body.String(), "already processed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user maps to 404", func(t *testing.T) {
		service, _, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(false, nil)

		req := authedRequest(http.MethodPost, "/api/v1/transactions", validBody)
		req.Header.Set("X-Idempotency-Key", "key-7")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("collaborator outage maps to 503", func(t *testing.T) {
		service, _, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).
			Return(false, &models.CollaboratorUnavailableError{Cause: context.DeadlineExceeded})

		req := authedRequest(http.MethodPost, "/api/v1/transactions", validBody)
		req.Header.Set("X-Idempotency-Key", "key-8")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unauthenticated request", func(t *testing.T) {
		service, _, _ := newTransactionFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(validBody))
		req.Header.Set("X-Idempotency-Key", "key-9")
		w := httptest.NewRecorder()

		service.CreateTransaction(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTransactionService_GetBalance(t *testing.T) {
	t.Run("returns the balance in minor units", func(t *testing.T) {
		service, mock, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(true, nil)

		mock.ExpectQuery("SELECT balance_cents FROM account_balances").
			WithArgs(testUserID).
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(3000))

		req := authedRequest(http.MethodGet, "/api/v1/balance", "")
		w := httptest.NewRecorder()

		service.GetBalance(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"amount": 3000}`, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fresh user reads zero", func(t *testing.T) {
		service, mock, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(true, nil)

		mock.ExpectQuery("SELECT balance_cents FROM account_balances").
			WithArgs(testUserID).
			WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}))

		req := authedRequest(http.MethodGet, "/api/v1/balance", "")
		w := httptest.NewRecorder()

		service.GetBalance(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"amount": 0}`, w.Body.String())
	})
}

func TestTransactionService_ListTransactions(t *testing.T) {
	t.Run("lists with filter", func(t *testing.T) {
		service, mock, users := newTransactionFixture(t)
		users.On("Exists", anyContext, testUserID).Return(true, nil)

		mock.ExpectQuery("FROM transactions").
			WithArgs(testUserID, "DEBIT").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "amount_cents", "description", "idempotency_key", "created_at"}).
				AddRow("tx-1", testUserID, "DEBIT", 2000, "", "k1", time.Now().UTC()))

		req := authedRequest(http.MethodGet, "/api/v1/transactions?type=DEBIT", "")
		w := httptest.NewRecorder()

		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid filter maps to 400", func(t *testing.T) {
		service, _, _ := newTransactionFixture(t)

		req := authedRequest(http.MethodGet, "/api/v1/transactions?type=TRANSFER", "")
		w := httptest.NewRecorder()

		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
