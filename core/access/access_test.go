package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorm-tech/un0/core"
)

func TestAuthorizationContext(t *testing.T) {
	auth := &Authorization{
		UserID:   "01JD5W9VXCJ3M0F7YB4N2QRTKZ",
		Email:    "erik@example.com",
		TenantID: "01JD5W9VXCJ3M0F7YB4N2QRTK0",
		Groups:   []string{"Nordic Traders"},
		Roles:    []string{"bookkeeper"},
	}

	ctx := auth.ContextWithAuthorization(context.Background())
	assert.Equal(t, auth, AuthorizationFromContext(ctx))
	assert.Nil(t, AuthorizationFromContext(context.Background()))

	ctx = ContextWithIdentity(ctx, auth.Email)
	assert.Equal(t, auth.Email, IdentityFromContext(ctx))
}

func TestAuthorizationRolesAndGroups(t *testing.T) {
	auth := &Authorization{
		Groups: []string{"Nordic Traders"},
		Roles:  []string{"bookkeeper"},
	}
	assert.True(t, auth.HasRole("bookkeeper"))
	assert.False(t, auth.HasRole("admin"))
	assert.True(t, auth.InGroup("Nordic Traders"))
	assert.False(t, auth.InGroup("Warehouse"))

	var nobody *Authorization
	assert.False(t, nobody.HasRole("bookkeeper"))
	assert.False(t, nobody.InGroup("Nordic Traders"))
}

func TestSessionVars(t *testing.T) {
	auth := &Authorization{
		UserID:        "01JD5W9VXCJ3M0F7YB4N2QRTKZ",
		Email:         "erik@example.com",
		TenantID:      "01JD5W9VXCJ3M0F7YB4N2QRTK0",
		IsTenantAdmin: true,
	}
	vars := auth.SessionVars()
	assert.Equal(t, auth.UserID, vars.UserID)
	assert.Equal(t, auth.TenantID, vars.TenantID)
	assert.True(t, vars.IsTenantAdmin)
	assert.False(t, vars.IsSuperuser)

	var nobody *Authorization
	assert.Empty(t, nobody.SessionVars().UserID)
}

func TestDatabaseRole(t *testing.T) {
	auth := &Authorization{}
	assert.Equal(t, "reader", auth.DatabaseRole(core.OperationList))
	assert.Equal(t, "reader", auth.DatabaseRole(core.OperationSelect))
	assert.Equal(t, "writer", auth.DatabaseRole(core.OperationInsert))
	assert.Equal(t, "writer", auth.DatabaseRole(core.OperationUpdate))
	assert.Equal(t, "writer", auth.DatabaseRole(core.OperationDelete))
}

func TestAuthorizationCache(t *testing.T) {
	cache := NewAuthorizationCache()
	assert.Nil(t, cache.Read("token"))
	auth := &Authorization{Email: "erik@example.com"}
	cache.Write("token", auth)
	assert.Equal(t, auth, cache.Read("token"))
	assert.Nil(t, cache.Read("other"))
}

func TestBackdoorMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{
		Backdoors: map[string]Authorization{
			"please": {Email: "erik@example.com", IsSuperuser: true},
		},
	}))
	HandleAuthorizationRoute(router)

	t.Run("with token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
		r.Header.Set("Authorization", "Bearer please")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "erik@example.com")
	})

	t.Run("with cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: "please"})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unknown token passes through anonymously", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
		r.Header.Set("Authorization", "Bearer wrong")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
