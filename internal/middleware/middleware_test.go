package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkaykim/moveit-sub006/internal/config"
	"github.com/tkaykim/moveit-sub006/internal/utils"
)

const secret = "test-secret"

func protected() *echo.Echo {
	e := echo.New()
	e.Use(RequestLogger())
	g := e.Group("/v1", JWTAuth(secret), RequireRole(RoleCustomer))
	g.GET("/me", func(c echo.Context) error {
		id, ok := UserID(c)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, echo.Map{"id": id})
	})
	return e
}

func call(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	customer, err := utils.NewAccessToken(secret, 42, RoleCustomer, time.Minute)
	require.NoError(t, err)
	admin, err := utils.NewAccessToken(secret, 1, RoleAcademyAdmin, time.Minute)
	require.NoError(t, err)
	forged, err := utils.NewAccessToken("other", 42, RoleCustomer, time.Minute)
	require.NoError(t, err)
	expired, err := utils.NewAccessToken(secret, 42, RoleCustomer, -time.Minute)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": 42, "role": RoleCustomer}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"customer", customer.Token, http.StatusOK},
		{"wrong role", admin.Token, http.StatusForbidden},
		{"missing token", "", http.StatusUnauthorized},
		{"bad signature", forged.Token, http.StatusUnauthorized},
		{"expired", expired.Token, http.StatusUnauthorized},
		{"no expiry", noExp, http.StatusUnauthorized},
	}
	e := protected()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(e, tt.token)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
		})
	}

	rec := call(e, customer.Token)
	assert.JSONEq(t, `{"id":42}`, rec.Body.String())
}

func TestUserID(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want uint64
		ok   bool
	}{
		{"json number", float64(7), 7, true},
		{"string", "12", 12, true},
		{"zero", float64(0), 0, false},
		{"garbage", "abc", 0, false},
		{"missing", nil, 0, false},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			if tt.val != nil {
				c.Set("user_id", tt.val)
			}
			got, ok := UserID(c)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestLoggerKeepsCallerRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRedisMiddlewaresPassThroughWithoutRedis(t *testing.T) {
	e := echo.New()
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil))
	e.Use(NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/bookings")
	c.Set("user_id", float64(9))

	assert.Equal(t, "rl:ip:10.0.0.1", rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}, c))
	assert.Equal(t, "rl:user:9:route:POST /v1/bookings", rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}, c))
}
