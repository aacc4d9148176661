package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/platform/httpx"
	"github.com/fintrack/fintrack/internal/shared"
)

const secret = "s3cret-s3cret-s3cret"

func hashFor(t *testing.T, s string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestParseKeys(t *testing.T) {
	hash := hashFor(t, secret)
	keys, err := ParseKeys([]string{"ops:company:" + hash, " ", "me:personal:" + hash})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "ops", keys[0].Name)
	assert.Equal(t, ScopeCompany, keys[0].Scope)

	_, err = ParseKeys([]string{"ops:company"})
	assert.Error(t, err)
	_, err = ParseKeys([]string{"ops:joint:" + hash})
	assert.Error(t, err)
	_, err = ParseKeys([]string{"ops:all:not-a-hash"})
	assert.Error(t, err)
	_, err = ParseKeys([]string{"ops:all:" + hash, "ops:company:" + hash})
	assert.Error(t, err)
}

func TestHashSecret(t *testing.T) {
	_, err := HashSecret("short")
	assert.Error(t, err)
	hash, err := HashSecret(secret)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)))
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthenticator([]Key{{Name: "ops", Scope: ScopeCompany, Hash: []byte(hashFor(t, secret))}})
	require.True(t, auth.Enabled())

	p, err := auth.Authenticate("ops." + secret)
	require.NoError(t, err)
	assert.Equal(t, shared.Principal{Name: "ops", Scope: ScopeCompany}, p)

	again, err := auth.Authenticate("ops." + secret)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	for _, token := range []string{"ops.wrong", "ghost." + secret, "ops", ".x", ""} {
		_, err := auth.Authenticate(token)
		assert.ErrorIs(t, err, httpx.ErrUnauthorized, token)
	}
	assert.False(t, NewAuthenticator(nil).Enabled())
}

func TestGuard(t *testing.T) {
	personal := ledger.Account{ID: uuid.New(), Type: ledger.AccountTypePersonal}
	company := ledger.Account{ID: uuid.New(), Type: ledger.AccountTypeCompany}
	var g Guard

	me := shared.Principal{Name: "me", Scope: ScopePersonal}
	assert.NoError(t, g.Authorize(me, personal))
	assert.ErrorIs(t, g.Authorize(me, personal, company), httpx.ErrForbidden)
	assert.ErrorIs(t, g.AuthorizeType(me, ledger.AccountTypeCompany), httpx.ErrForbidden)
	assert.NoError(t, g.Authorize(shared.Principal{Scope: ScopeAll}, personal, company))

	typ, ok := g.RestrictType(me, "")
	assert.True(t, ok)
	assert.Equal(t, ledger.AccountTypePersonal, typ)
	_, ok = g.RestrictType(me, ledger.AccountTypeCompany)
	assert.False(t, ok)
	typ, ok = g.RestrictType(Anonymous, ledger.AccountTypeCompany)
	assert.True(t, ok)
	assert.Equal(t, ledger.AccountTypeCompany, typ)
}

func TestMiddleware(t *testing.T) {
	auth := NewAuthenticator([]Key{{Name: "ops", Scope: ScopeAll, Hash: []byte(hashFor(t, secret))}})
	var seen shared.Principal
	h := Middleware(auth, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer ops.nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer ops."+secret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ops", seen.Name)

	open := Middleware(NewAuthenticator(nil), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
	}))
	open.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, Anonymous, seen)
}
