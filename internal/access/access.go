// Package access authenticates API callers with bearer keys and restricts them to the
// account types their key is scoped to.
package access

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/platform/httpx"
	"github.com/fintrack/fintrack/internal/shared"
)

// Scope values.
const (
	ScopePersonal = "personal"
	ScopeCompany  = "company"
	ScopeAll      = "all"
)

// ErrInvalidCredentials is returned for unknown keys or wrong secrets.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)

// Key is one configured API key. Hash is the bcrypt hash of the secret.
type Key struct {
	Name  string
	Scope string
	Hash  []byte
}

// ParseKeys reads specs of the form name:scope:bcrypt-hash.
func ParseKeys(specs []string) ([]Key, error) {
	keys := make([]Key, 0, len(specs))
	seen := map[string]bool{}
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("access: malformed key spec %q", redact(spec))
		}
		name, scope, hash := parts[0], parts[1], parts[2]
		if !validScope(scope) {
			return nil, fmt.Errorf("access: key %s has unknown scope %q", name, scope)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("access: key %s: %w", name, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("access: duplicate key name %s", name)
		}
		seen[name] = true
		keys = append(keys, Key{Name: name, Scope: scope, Hash: []byte(hash)})
	}
	return keys, nil
}

// HashSecret returns the bcrypt hash to configure for secret.
func HashSecret(secret string) (string, error) {
	if len(secret) < 16 {
		return "", errors.New("access: secret must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticator verifies bearer tokens of the form <name>.<secret>.
type Authenticator struct {
	keys     map[string]Key
	verified sync.Map
}

// NewAuthenticator constructs an Authenticator. With no keys, authentication is disabled.
func NewAuthenticator(keys []Key) *Authenticator {
	a := &Authenticator{keys: make(map[string]Key, len(keys))}
	for _, k := range keys {
		a.keys[k.Name] = k
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Authenticate resolves token to a principal. Successful verifications are remembered by
// token digest so bcrypt runs once per key.
func (a *Authenticator) Authenticate(token string) (shared.Principal, error) {
	digest := sha256.Sum256([]byte(token))
	cacheKey := hex.EncodeToString(digest[:])
	if p, ok := a.verified.Load(cacheKey); ok {
		return p.(shared.Principal), nil
	}
	name, secret, ok := strings.Cut(token, ".")
	if !ok || name == "" || secret == "" {
		return shared.Principal{}, ErrInvalidCredentials
	}
	key, ok := a.keys[name]
	if !ok {
		return shared.Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(key.Hash, []byte(secret)); err != nil {
		return shared.Principal{}, ErrInvalidCredentials
	}
	p := shared.Principal{Name: key.Name, Scope: key.Scope}
	a.verified.Store(cacheKey, p)
	return p, nil
}

// Allows reports whether scope may act on accounts of type t.
func Allows(scope string, t ledger.AccountType) bool {
	switch scope {
	case ScopeAll:
		return true
	case ScopePersonal:
		return t == ledger.AccountTypePersonal
	case ScopeCompany:
		return t == ledger.AccountTypeCompany
	}
	return false
}

// Guard checks principals against account types before ledger calls.
type Guard struct{}

// Authorize fails with httpx.ErrForbidden when any account is outside p's scope.
func (Guard) Authorize(p shared.Principal, accounts ...ledger.Account) error {
	for _, a := range accounts {
		if !Allows(p.Scope, a.Type) {
			return fmt.Errorf("%w: key %s may not act on %s account %s", httpx.ErrForbidden, p.Name, a.Type, a.ID)
		}
	}
	return nil
}

// AuthorizeType is Authorize for an account that does not exist yet.
func (Guard) AuthorizeType(p shared.Principal, t ledger.AccountType) error {
	if !Allows(p.Scope, t) {
		return fmt.Errorf("%w: key %s may not act on %s accounts", httpx.ErrForbidden, p.Name, t)
	}
	return nil
}

// RestrictType narrows a listing filter to the principal's scope. It returns false when
// the requested type is outside the scope.
func (Guard) RestrictType(p shared.Principal, requested ledger.AccountType) (ledger.AccountType, bool) {
	switch p.Scope {
	case ScopeAll:
		return requested, true
	case ScopePersonal, ScopeCompany:
		own := ledger.AccountType(p.Scope)
		if requested != "" && requested != own {
			return "", false
		}
		return own, true
	}
	return "", false
}

func validScope(s string) bool {
	return s == ScopePersonal || s == ScopeCompany || s == ScopeAll
}

func redact(spec string) string {
	if i := strings.Index(spec, ":"); i >= 0 {
		return spec[:i] + ":***"
	}
	return "***"
}
