package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"identity-platform/trustcore/internal/cache"
	"identity-platform/trustcore/internal/security"
	"identity-platform/trustcore/internal/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// failStore errors on every operation, simulating an unreachable Redis.
type failStore struct{}

var errStoreDown = errors.New("store down")

func (failStore) Get(context.Context, string) (string, bool, error) { return "", false, errStoreDown }
func (failStore) Set(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (failStore) Delete(context.Context, string) (bool, error) { return false, errStoreDown }
func (failStore) Exists(context.Context, string) (bool, error) { return false, errStoreDown }
func (failStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errStoreDown
}

func newAuthService(t *testing.T, store cache.Store) *token.Service {
	t.Helper()
	keys, err := security.NewTestKeyProvider()
	if err != nil {
		t.Fatalf("test keys: %v", err)
	}
	return token.NewService(security.NewCodec(keys), store, nil, nil, zap.NewNop(),
		"test-issuer", "test-audience", 15*time.Minute, 24*time.Hour)
}

func authRouter(tokens *token.Service) *gin.Engine {
	mw := &Auth{Tokens: tokens, Logger: zap.NewNop()}
	r := gin.New()
	r.GET("/protected", mw.RequireBearer, func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no claims"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject})
	})
	return r
}

func doGet(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireBearer(t *testing.T) {
	store := cache.NewMemoryStore()
	tokens := newAuthService(t, store)
	r := authRouter(tokens)

	access, jti, _, err := tokens.CreateAccessToken(token.AccessParams{Subject: "user-1", OrgID: "org-1"})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	t.Run("valid token passes", func(t *testing.T) {
		w := doGet(r, "Bearer "+access)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
	})

	t.Run("missing header", func(t *testing.T) {
		if w := doGet(r, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		for _, h := range []string{"Basic abc", "Bearer", access} {
			if w := doGet(r, h); w.Code != http.StatusUnauthorized {
				t.Errorf("header %q: status = %d, want 401", h, w.Code)
			}
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if w := doGet(r, "Bearer not.a.jwt"); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("refresh token rejected on access route", func(t *testing.T) {
		refresh, _, _, _, err := tokens.CreateRefreshToken("user-1", "")
		if err != nil {
			t.Fatalf("mint refresh token: %v", err)
		}
		if w := doGet(r, "Bearer "+refresh); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("blacklisted token rejected", func(t *testing.T) {
		if err := tokens.BlacklistToken(context.Background(), token.TypeAccess, jti, time.Minute); err != nil {
			t.Fatalf("blacklist: %v", err)
		}
		if w := doGet(r, "Bearer "+access); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestRequireBearer_StoreDown_FailsClosed(t *testing.T) {
	tokens := newAuthService(t, failStore{})
	r := authRouter(tokens)

	access, _, _, err := tokens.CreateAccessToken(token.AccessParams{Subject: "user-1"})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	w := doGet(r, "Bearer "+access)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when the revocation store is unreachable", w.Code)
	}
}
