package services

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/walletpay/backend/internal/metrics"
	"github.com/walletpay/backend/internal/models"
)

// TransactionService exposes the ledger over HTTP. All transition work is
// delegated to the LedgerService; this layer only decodes, authorizes and
// maps the error taxonomy onto statuses.
type TransactionService struct {
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewTransactionService(ledger *LedgerService) *TransactionService {
	return &TransactionService{
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// CreateTransactionRequest is the create-transaction payload. Amount is
// decoded as json.Number so fractional cents are rejected rather than
// truncated.
type CreateTransactionRequest struct {
	UserID      string      `json:"user_id" validate:"required,uuid4"`
	Type        string      `json:"type" validate:"required,oneof=CREDIT DEBIT"`
	Amount      json.Number `json:"amount" validate:"required"`
	Description string      `json:"description" validate:"omitempty,max=255"`
}

// CreateTransaction records a credit or debit for the authenticated user
// @Summary Create a new transaction
// @Description Record a CREDIT or DEBIT against the authenticated user's balance
// @Tags transactions
// @Accept json
// @Produce json
// @Param X-Idempotency-Key header string true "Idempotency key"
// @Param request body CreateTransactionRequest true "Transaction data"
// @Success 201 {object} models.Transaction
// @Success 200 {object} map[string]interface{} "Idempotent replay of a prior transaction"
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	authedUserID, ok := r.Context().Value("userID").(string)
	if !ok || authedUserID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	idemKey := r.Header.Get("X-Idempotency-Key")
	if idemKey == "" {
		SendErrorResponse(w, "X-Idempotency-Key header is required", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var req CreateTransactionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		metrics.TransactionsRejected.WithLabelValues("validation").Inc()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.UserID != authedUserID {
		SendErrorResponse(w, "The informed user_id does not match the authenticated user", http.StatusForbidden, nil)
		return
	}

	amount, err := models.ParseMoney(req.Amount)
	if err != nil {
		metrics.TransactionsRejected.WithLabelValues("validation").Inc()
		SendDomainError(w, err)
		return
	}

	tx, err := ts.ledger.RecordTransaction(r.Context(), RecordTransactionInput{
		UserID:         req.UserID,
		Type:           models.TransactionType(req.Type),
		Amount:         amount,
		IdempotencyKey: idemKey,
		Description:    req.Description,
	})
	if err != nil {
		var dup *models.DuplicateRequestError
		if errors.As(err, &dup) {
			// Replay: the key was already applied, echo the committed
			// transaction without touching the balance again.
			metrics.TransactionsRejected.WithLabelValues("duplicate").Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"transaction": dup.Existing,
				"message":     "Transaction already processed",
			})
			return
		}

		ts.countRejection(err)
		log.Printf("[TRANSACTION] Record failed for user %s: %v", req.UserID, err)
		SendDomainError(w, err)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(string(tx.Type)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tx)
}

// ListTransactions retrieves the authenticated user's transactions
// @Summary List transactions
// @Description Get the authenticated user's transactions, newest first, with optional type filter
// @Tags transactions
// @Produce json
// @Param type query string false "Filter by type (CREDIT or DEBIT)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	typeFilter := models.TransactionType(r.URL.Query().Get("type"))

	transactions, err := ts.ledger.ListTransactions(r.Context(), userID, typeFilter)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetBalance retrieves the authenticated user's current balance
// @Summary Get balance
// @Description Retrieve the authenticated user's current balance in minor units
// @Tags balance
// @Produce json
// @Success 200 {object} object{amount=int64}
// @Failure 404 {object} ErrorResponse
// @Router /balance [get]
func (ts *TransactionService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := ts.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"amount": balance.Cents()})
}

func (ts *TransactionService) countRejection(err error) {
	var notFoundErr *models.EntityNotFoundError
	var unavailableErr *models.CollaboratorUnavailableError
	var validationErr *models.ValidationError

	switch {
	case errors.As(err, &validationErr):
		metrics.TransactionsRejected.WithLabelValues("validation").Inc()
	case errors.As(err, &notFoundErr):
		metrics.TransactionsRejected.WithLabelValues("not_found").Inc()
	case errors.Is(err, models.ErrInsufficientFunds):
		metrics.TransactionsRejected.WithLabelValues("insufficient_funds").Inc()
	case errors.As(err, &unavailableErr):
		metrics.TransactionsRejected.WithLabelValues("unavailable").Inc()
	default:
		metrics.TransactionsRejected.WithLabelValues("persistence").Inc()
	}
}
