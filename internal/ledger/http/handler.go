// Package ledgerhttp exposes the ledger over a JSON API.
package ledgerhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/platform/httpx"
	"github.com/fintrack/fintrack/internal/shared"
)

// IdempotencyHeader carries the caller's idempotency key for transfers.
const IdempotencyHeader = "Idempotency-Key"

// LedgerService is the ledger contract used by the handler.
type LedgerService interface {
	OpenAccount(ctx context.Context, in ledger.OpenAccountInput) (ledger.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error)
	DeactivateAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	RecordTransaction(ctx context.Context, in ledger.RecordInput) (ledger.RecordResult, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, int, error)
	Transfer(ctx context.Context, in ledger.TransferInput) (ledger.TransferResult, error)
	ReverseTransaction(ctx context.Context, in ledger.ReverseInput) (ledger.ReverseResult, error)
}

// TotalsService returns the cached dashboard rollup.
type TotalsService interface {
	Totals(ctx context.Context) (ledger.Totals, error)
}

// Handler serves the ledger API.
type Handler struct {
	logger    *slog.Logger
	service   LedgerService
	totals    TotalsService
	guard     access.Guard
	validator *validator.Validate
}

// NewHandler constructs the ledger HTTP handler. totals may be nil, in which case totals are
// computed from the account listing on each request.
func NewHandler(logger *slog.Logger, service LedgerService, totals TotalsService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, totals: totals, validator: v}
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.guard.AuthorizeType(principal(r), ledger.AccountType(req.Type)); err != nil {
		h.respondError(w, r, err)
		return
	}
	account, err := h.service.OpenAccount(r.Context(), req.input())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeInactive := false
	if raw := q.Get("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: include_inactive must be a boolean", httpx.ErrValidation))
			return
		}
		includeInactive = v
	}
	typ, ok := h.guard.RestrictType(principal(r), ledger.AccountType(q.Get("type")))
	if !ok {
		h.respondError(w, r, fmt.Errorf("%w: account type outside key scope", httpx.ErrForbidden))
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), ledger.AccountFilter{Type: typ, IncludeInactive: includeInactive})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := accountList{Data: make([]accountResponse, 0, len(accounts))}
	for _, a := range accounts {
		out.Data = append(out.Data, newAccountResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.authorizedAccount(r, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *Handler) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.authorizedAccount(r, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := h.service.DeactivateAccount(r.Context(), account.ID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	account, err := h.authorizedAccount(r, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req recordRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.service.RecordTransaction(r.Context(), ledger.RecordInput{
		AccountID:   account.ID,
		Kind:        ledger.Kind(req.Kind),
		Amount:      *req.Amount,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recordResponse{
		Transaction: newTransactionResponse(result.Transaction),
		Balance:     formatAmount(result.Balance),
	})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{Kind: ledger.Kind(q.Get("kind"))}
	if raw := q.Get("account_id"); raw != "" {
		account, err := h.authorizedAccount(r, raw)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		filter.AccountID = &account.ID
	} else if principal(r).Scope != access.ScopeAll {
		h.respondError(w, r, fmt.Errorf("%w: account_id is required for scoped keys", httpx.ErrForbidden))
		return
	}
	page, perPage := shared.PageParams(r)
	filter.Limit = perPage
	filter.Offset = shared.NewPagination(page, perPage, 0).Offset()

	rows, total, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transactionList{
		Data:       newTransactionResponses(rows),
		Pagination: shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.authorizedTransaction(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTransactionResponse(t))
}

func (h *Handler) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.authorizedTransaction(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	if t.PairingID != nil {
		// The counterpart account is touched too.
		rows, _, err := h.service.ListTransactions(r.Context(), ledger.TransactionFilter{PairingID: t.PairingID})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		for _, row := range rows {
			if _, err := h.authorizedAccount(r, row.AccountID.String()); err != nil {
				h.respondError(w, r, err)
				return
			}
		}
	}
	result, err := h.service.ReverseTransaction(r.Context(), ledger.ReverseInput{TransactionID: t.ID, Reason: req.Reason})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reverseResponse{Data: newTransactionResponses(result.Transactions)})
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	switch {
	case key == "":
		key = req.IdempotencyKey
	case req.IdempotencyKey != "" && req.IdempotencyKey != key:
		h.respondError(w, r, fmt.Errorf("%w: idempotency key in header and body differ", httpx.ErrValidation))
		return
	}
	fromID, fromErr := uuid.Parse(req.FromAccountID)
	toID, toErr := uuid.Parse(req.ToAccountID)
	if fromErr == nil && toErr == nil && fromID == toID {
		h.respondError(w, r, fmt.Errorf("%w: to_account_id must differ from from_account_id", httpx.ErrValidation))
		return
	}
	from, err := h.authorizedAccount(r, req.FromAccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	to, err := h.authorizedAccount(r, req.ToAccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.service.Transfer(r.Context(), ledger.TransferInput{
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Amount:         *req.Amount,
		Description:    req.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, transferResponse{
		Out:         newTransactionResponse(result.Out),
		In:          newTransactionResponse(result.In),
		FromBalance: formatAmount(result.FromBalance),
		ToBalance:   formatAmount(result.ToBalance),
		Replayed:    result.Replayed,
	})
}

func (h *Handler) dashboardTotals(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.Scope == access.ScopeAll && h.totals != nil {
		totals, err := h.totals.Totals(r.Context())
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, totals)
		return
	}
	typ, ok := h.guard.RestrictType(p, "")
	if !ok {
		h.respondError(w, r, fmt.Errorf("%w: unknown key scope", httpx.ErrForbidden))
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), ledger.AccountFilter{Type: typ})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger.ComputeTotals(accounts))
}

func (h *Handler) decode(r *http.Request, dest any) error {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		return err
	}
	if err := h.validator.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", httpx.ErrValidation, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) authorizedAccount(r *http.Request, raw string) (ledger.Account, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("%w: malformed account id", httpx.ErrValidation)
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := h.guard.Authorize(principal(r), account); err != nil {
		return ledger.Account{}, err
	}
	return account, nil
}

func (h *Handler) authorizedTransaction(r *http.Request) (ledger.Transaction, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: malformed transaction id", httpx.ErrValidation)
	}
	t, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := h.authorizedAccount(r, t.AccountID.String()); err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

// respondError maps ledger and transport errors onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		httpx.ProblemCode(w, http.StatusBadRequest, "Validation Failed", httpx.CodeValidation, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "Not Found", httpx.CodeNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		httpx.ProblemCode(w, http.StatusBadRequest, "Insufficient Funds", httpx.CodeInsufficientFunds, err.Error())
	case errors.Is(err, ledger.ErrStorage):
		h.logger.Error("ledger storage failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.ProblemCode(w, http.StatusInternalServerError, "Storage Error", httpx.CodeStorage, "")
	case errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrNotFound),
		errors.Is(err, httpx.ErrForbidden), errors.Is(err, httpx.ErrUnauthorized):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func principal(r *http.Request) shared.Principal {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return p
	}
	return access.Anonymous
}
