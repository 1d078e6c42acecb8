package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/notorm-tech/un0/core/csql"
	"github.com/notorm-tech/un0/core/logger"
)

// CookieName is the cookie carrying the token for browser clients
const CookieName = "Un0-JWT"

// secretTTL bounds how long a cached token secret is trusted before it
// is re-read from the database. Rotating the secret invalidates issued
// tokens within this window.
const secretTTL = time.Minute

// TokenSource issues and verifies HS256 tokens. The signing secret
// lives exclusively in the un0.token_secret table; TokenSource caches
// it briefly so not every request hits the database.
type TokenSource struct {
	DB *csql.DB
	// Lifetime of issued tokens, default one hour
	Lifetime time.Duration

	mutex     sync.Mutex
	secret    []byte
	refreshed time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// Secret returns the current token secret from the database.
func (t *TokenSource) Secret() ([]byte, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.secret != nil && time.Since(t.refreshed) < secretTTL {
		return t.secret, nil
	}

	tx, err := t.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("SET LOCAL ROLE " + t.DB.Role("admin")); err != nil {
		return nil, err
	}
	var secret string
	if err := tx.QueryRow("SELECT secret FROM un0.token_secret;").Scan(&secret); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New("no token secret provisioned")
		}
		return nil, err
	}

	t.secret = []byte(secret)
	t.refreshed = time.Now()
	return t.secret, nil
}

// Issue creates a signed token for the given email.
func (t *TokenSource) Issue(email string) (string, error) {
	secret, err := t.Secret()
	if err != nil {
		return "", err
	}
	lifetime := t.Lifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the token signature and expiry and returns the subject
// email.
func (t *TokenSource) Verify(tokenString string) (string, error) {
	secret, err := t.Secret()
	if err != nil {
		return "", err
	}
	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("no sub in token")
	}
	if claims.ExpiresAt == nil {
		return "", errors.New("no exp in token")
	}
	return claims.Subject, nil
}

// loadAuthorization reads the user row and the assigned groups and
// roles for an email. The lookup runs as the admin role and publishes
// the rls_var.* settings the way un0.authorize_user does: email first,
// then the full set once the user row is read, so the assignment
// tables are visible under their row-level-security policies.
func loadAuthorization(ctx context.Context, db *csql.DB, email string) (*Authorization, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	setup := fmt.Sprintf(`SET LOCAL ROLE %s;
SELECT set_config('rls_var.email', %s, true);`,
		db.Role("admin"), csql.QuoteLiteral(email))
	if _, err := tx.ExecContext(ctx, setup); err != nil {
		return nil, err
	}

	auth := Authorization{}
	var tenantID sql.NullString
	var isActive, isDeleted bool
	err = tx.QueryRowContext(ctx, `
SELECT id, email, handle, tenant_id, is_superuser, is_tenant_admin, is_active, is_deleted
FROM un0."user"
WHERE email = $1;`, email).Scan(
		&auth.UserID, &auth.Email, &auth.Handle, &tenantID,
		&auth.IsSuperuser, &auth.IsTenantAdmin, &isActive, &isDeleted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New("user not found")
		}
		return nil, err
	}
	if !isActive {
		return nil, errors.New("user is not active")
	}
	if isDeleted {
		return nil, errors.New("user was deleted")
	}
	auth.TenantID = tenantID.String
	auth.UserID = strings.TrimSpace(auth.UserID)

	publish := fmt.Sprintf(`SELECT set_config('rls_var.user_id', %s, true);
SELECT set_config('rls_var.tenant_id', %s, true);
SELECT set_config('rls_var.is_superuser', %s, true);
SELECT set_config('rls_var.is_tenant_admin', %s, true);`,
		csql.QuoteLiteral(auth.UserID),
		csql.QuoteLiteral(auth.TenantID),
		csql.QuoteLiteral(strconv.FormatBool(auth.IsSuperuser)),
		csql.QuoteLiteral(strconv.FormatBool(auth.IsTenantAdmin)))
	if _, err := tx.ExecContext(ctx, publish); err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
SELECT
    COALESCE(array_agg(DISTINCT g.name) FILTER (WHERE g.name IS NOT NULL), '{}'),
    COALESCE(array_agg(DISTINCT r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
FROM un0.user_group_role ugr
LEFT JOIN un0."group" g ON g.id = ugr.group_id
LEFT JOIN un0.role r ON r.id = ugr.role_id
WHERE ugr.user_id = $1;`, auth.UserID).Scan(
		pq.Array(&auth.Groups), pq.Array(&auth.Roles))
	if err != nil {
		return nil, err
	}
	return &auth, nil
}

// NewJwtMiddleware returns a middleware that authenticates requests
// with an HS256 bearer token or the Un0-JWT cookie. The subject of a
// valid token is looked up in un0."user"; inactive or deleted users are
// rejected. Requests without a token pass through anonymously, requests
// with a bad token get 401.
func NewJwtMiddleware(db *csql.DB, source *TokenSource) mux.MiddlewareFunc {
	authCache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}

			rlog := logger.FromContext(r.Context())

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie(CookieName); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			email, err := source.Verify(tokenString)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithIdentity(r.Context(), email)
			ctx, rlog = logger.ContextWithLoggerIdentity(ctx, email)

			// lookup by token, not by email, so a fresh token enforces
			// a fresh database lookup
			auth := authCache.Read(tokenString)
			if auth == nil {
				auth, err = loadAuthorization(ctx, db, email)
				if err != nil {
					rlog.WithError(err).Warningln("cannot authorize", email)
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				authCache.Write(tokenString, auth)
			}

			ctx = auth.ContextWithAuthorization(ctx)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleLoginRoute adds the route /login POST to the router. The body
// is {"email": ...}; for a known active user a token is issued and
// returned both in the response body and as the Un0-JWT cookie.
// Credential verification against an identity provider sits in front of
// this service; the login route only mints the session token.
func HandleLoginRoute(router *mux.Router, db *csql.DB, source *TokenSource) {
	rlog := logger.Default()
	rlog.Infoln("login")
	rlog.Infoln("  handle route: /login POST")

	router.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
			http.Error(w, "email required", http.StatusBadRequest)
			return
		}

		if _, err := loadAuthorization(r.Context(), db, body.Email); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		token, err := source.Issue(body.Email)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot issue token")
			http.Error(w, "cannot issue token", http.StatusInternalServerError)
			return
		}

		lifetime := source.Lifetime
		if lifetime == 0 {
			lifetime = time.Hour
		}
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    token,
			Path:     "/",
			Expires:  time.Now().Add(lifetime),
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}).Methods(http.MethodPost)
}
