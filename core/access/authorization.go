/*Package access provides authentication and authorization for the
service.

An Authorization is the authenticated identity of a request: the user's
id, email, tenant and flags, plus the groups and roles assigned through
un0.user_group_role. Middleware derives it from a JWT bearer token or
the Un0-JWT cookie and stores it in the request context; the database
layer turns it into rls_var.* session settings, so row-level security
is what ultimately decides which rows the request can touch.
*/
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/csql"
	"github.com/notorm-tech/un0/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const (
	contextKeyAuthorization contextKey = "_authorization_"
	contextKeyIdentity      contextKey = "_identity_"
)

// Authorization is the authenticated identity of a request.
type Authorization struct {
	UserID        string   `json:"user_id"`
	Email         string   `json:"email"`
	Handle        string   `json:"handle,omitempty"`
	TenantID      string   `json:"tenant_id,omitempty"`
	IsSuperuser   bool     `json:"is_superuser,omitempty"`
	IsTenantAdmin bool     `json:"is_tenant_admin,omitempty"`
	Groups        []string `json:"groups,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// HasRole returns true if the authorization carries the requested role.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// InGroup returns true if the authorization carries the requested group.
func (a *Authorization) InGroup(group string) bool {
	if a == nil {
		return false
	}
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// SessionVars returns the rls_var.* settings for this authorization.
func (a *Authorization) SessionVars() csql.SessionVars {
	if a == nil {
		return csql.SessionVars{}
	}
	return csql.SessionVars{
		UserID:        a.UserID,
		Email:         a.Email,
		TenantID:      a.TenantID,
		IsSuperuser:   a.IsSuperuser,
		IsTenantAdmin: a.IsTenantAdmin,
	}
}

// DatabaseRole returns the database role a request with this
// authorization runs under: writer for mutating operations, reader for
// everything else. The role only bounds what SQL may be issued; row
// visibility is the business of the RLS policies.
func (a *Authorization) DatabaseRole(operation core.Operation) string {
	switch operation {
	case core.OperationInsert, core.OperationUpdate, core.OperationDelete, core.OperationTruncate:
		return "writer"
	}
	return "reader"
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// ContextWithIdentity returns a new context with the authenticated identity added to it
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

// AuthorizationCache is an in-memory cache for authorizations, keyed by
// bearer token. Without it the middleware would have to look up the
// user, groups and roles for every single request.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from the in-process cache. Token should
// be the bearer token the authorization was derived from. This function
// is go-routine safe.
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-process cache. This function
// is go-routine safe.
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds the route /authorization GET to the
// router. It returns the authorization derived from the request's
// bearer token, or 204 if the request is anonymous.
func HandleAuthorizationRoute(router *mux.Router) {
	rlog := logger.Default()
	rlog.Infoln("authorization")
	rlog.Infoln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
