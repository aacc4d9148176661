package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/ledger/store/memory"
	"github.com/fintrack/fintrack/internal/platform/httpx"
	"github.com/fintrack/fintrack/internal/shared"
	_ "github.com/fintrack/fintrack/testing"
)

type stubTotals struct {
	calls  int
	totals ledger.Totals
}

func (s *stubTotals) Totals(context.Context) (ledger.Totals, error) {
	s.calls++
	return s.totals, nil
}

type apiFixture struct {
	t      *testing.T
	router chi.Router
	totals *stubTotals
	scope  string
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	svc := ledger.NewService(memory.New())
	f := &apiFixture{t: t, totals: &stubTotals{}, scope: access.ScopeAll}
	h := NewHandler(nil, svc, f.totals)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.Principal{Name: "test", Scope: f.scope}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
		})
	})
	r.Route("/api/v1", h.MountRoutes)
	f.router = r
	return f
}

func (f *apiFixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) openAccount(typ, name, balance string) accountResponse {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/accounts", map[string]any{
		"type": typ, "name": name, "currency": "IDR", "initial_balance": balance,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var out accountResponse
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestOpenAndGetAccount(t *testing.T) {
	f := newFixture(t)
	acc := f.openAccount("personal", "Wallet", "1000.5")
	assert.Equal(t, "1000.5000", acc.Balance)
	assert.True(t, acc.IsActive)

	rec := f.do(http.MethodGet, "/api/v1/accounts/"+acc.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, acc.ID, got.ID)
	assert.Equal(t, "IDR", got.Currency)
}

func TestOpenAccountValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]map[string]any{
		"missing name":  {"type": "personal", "currency": "IDR"},
		"bad type":      {"type": "savings", "name": "x", "currency": "IDR"},
		"bad currency":  {"type": "personal", "name": "x", "currency": "ZZZ"},
		"too precise":   {"type": "personal", "name": "x", "currency": "IDR", "initial_balance": "1.00001"},
		"unknown field": {"type": "personal", "name": "x", "currency": "IDR", "colour": "red"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/accounts", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, httpx.CodeValidation, decodeProblem(t, rec).Code)
		})
	}
}

func TestRecordAndListTransactions(t *testing.T) {
	f := newFixture(t)
	acc := f.openAccount("personal", "Wallet", "100")

	rec := f.do(http.MethodPost, "/api/v1/accounts/"+acc.ID.String()+"/transactions", map[string]any{
		"kind": "expense", "amount": "150", "description": "rent", "category": "housing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var recorded recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recorded))
	assert.Equal(t, "-50.0000", recorded.Balance)
	assert.Equal(t, ledger.KindExpense, recorded.Transaction.Kind)

	rec = f.do(http.MethodGet, "/api/v1/transactions?account_id="+acc.ID.String()+"&per_page=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list transactionList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, 2, list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.TotalPages)
}

func TestTransferStatusCodes(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount("personal", "A", "1000")
	b := f.openAccount("company", "B", "0")
	body := map[string]any{"from_account_id": a.ID, "to_account_id": b.ID, "amount": "300"}

	rec := f.do(http.MethodPost, "/api/v1/transfers", body, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first transferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "700.0000", first.FromBalance)
	assert.Equal(t, "300.0000", first.ToBalance)
	require.NotNil(t, first.Out.PairingID)
	assert.Equal(t, first.Out.PairingID, first.In.PairingID)

	rec = f.do(http.MethodPost, "/api/v1/transfers", body, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var replay transferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Out.ID, replay.Out.ID)

	body["amount"] = "5000"
	rec = f.do(http.MethodPost, "/api/v1/transfers", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httpx.CodeInsufficientFunds, decodeProblem(t, rec).Code)

	body["idempotency_key"] = "other"
	rec = f.do(http.MethodPost, "/api/v1/transfers", body, IdempotencyHeader, "k-2")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httpx.CodeValidation, decodeProblem(t, rec).Code)
}

func TestTransferToSameAccountRejectedBeforeLookup(t *testing.T) {
	f := newFixture(t)
	company := f.openAccount("company", "Firm", "100")
	f.scope = access.ScopePersonal

	// Neither an unknown nor a forbidden account is looked up when both sides match.
	for _, id := range []string{"8f0c2d1e-6b7a-4c3d-9e8f-0a1b2c3d4e5f", company.ID.String()} {
		rec := f.do(http.MethodPost, "/api/v1/transfers", map[string]any{"from_account_id": id, "to_account_id": id, "amount": "10"})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Equal(t, httpx.CodeValidation, decodeProblem(t, rec).Code)
	}
}

func TestReverseTransfer(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount("personal", "A", "500")
	b := f.openAccount("personal", "B", "0")
	rec := f.do(http.MethodPost, "/api/v1/transfers", map[string]any{"from_account_id": a.ID, "to_account_id": b.ID, "amount": "200"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tr transferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))

	rec = f.do(http.MethodPost, "/api/v1/transactions/"+tr.Out.ID.String()+"/reverse", map[string]any{"reason": "wrong account"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rev reverseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rev))
	require.Len(t, rev.Data, 2)

	rec = f.do(http.MethodGet, "/api/v1/accounts/"+a.ID.String(), nil)
	var got accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "500.0000", got.Balance)

	rec = f.do(http.MethodPost, "/api/v1/transactions/"+tr.In.ID.String()+"/reverse", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httpx.CodeValidation, decodeProblem(t, rec).Code)
}

func TestNotFoundAndMalformedIDs(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/accounts/8f0c2d1e-6b7a-4c3d-9e8f-0a1b2c3d4e5f", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httpx.CodeNotFound, decodeProblem(t, rec).Code)

	rec = f.do(http.MethodGet, "/api/v1/transactions/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeactivateAccount(t *testing.T) {
	f := newFixture(t)
	acc := f.openAccount("personal", "Old", "0")
	rec := f.do(http.MethodDelete, "/api/v1/accounts/"+acc.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/accounts", nil)
	var list accountList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Data)

	rec = f.do(http.MethodGet, "/api/v1/accounts?include_inactive=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.False(t, list.Data[0].IsActive)
}

func TestScopedKeys(t *testing.T) {
	f := newFixture(t)
	personal := f.openAccount("personal", "Mine", "100")
	company := f.openAccount("company", "Firm", "100")
	f.scope = access.ScopePersonal

	rec := f.do(http.MethodGet, "/api/v1/accounts/"+company.ID.String(), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httpx.CodeForbidden, decodeProblem(t, rec).Code)

	rec = f.do(http.MethodPost, "/api/v1/transfers", map[string]any{"from_account_id": personal.ID, "to_account_id": company.ID, "amount": "10"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/accounts", nil)
	var list accountList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, personal.ID, list.Data[0].ID)

	rec = f.do(http.MethodGet, "/api/v1/accounts?type=company", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/transactions", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/dashboard/totals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var totals ledger.Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	assert.Equal(t, 1, totals.Accounts)
	assert.Zero(t, f.totals.calls)
}

func TestDashboardTotalsUsesCache(t *testing.T) {
	f := newFixture(t)
	f.totals.totals = ledger.Totals{Accounts: 3}
	rec := f.do(http.MethodGet, "/api/v1/dashboard/totals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var totals ledger.Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	assert.Equal(t, 3, totals.Accounts)
	assert.Equal(t, 1, f.totals.calls)
}
