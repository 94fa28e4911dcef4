package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("clinic-test-signing-key-32-bytes!")

func sign(t *testing.T, claims Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(sub string, ttl time.Duration, roles ...string) Claims {
	now := time.Now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sub,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Roles: roles,
	}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return c
}

type seen struct {
	called bool
	user   string
	roles  []string
}

func runMiddleware(mw echo.MiddlewareFunc, header string, user string) (seen, error) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consultations", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	c := echo.New().NewContext(req, httptest.NewRecorder())

	var s seen
	err := mw(func(c echo.Context) error {
		s.called = true
		s.user = UserIDFromContext(c.Request().Context())
		s.roles = RolesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)
	return s, err
}

func TestJWTMiddleware(t *testing.T) {
	cfg := JWTConfig{Issuer: "clinic-auth", Audience: "clinic-api", SigningKey: signingKey}

	good := claimsFor("dr-rao", time.Hour, RoleDoctor)
	good.Issuer = "clinic-auth"
	good.Audience = jwt.ClaimStrings{"clinic-api"}

	wrongIssuer := good
	wrongIssuer.Issuer = "someone-else"

	expired := good
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := good
	noExpiry.ExpiresAt = nil

	noSubject := good
	noSubject.Subject = ""

	testCases := []struct {
		name      string
		header    func(t *testing.T) string
		wantCode  int
		wantUser  string
		wantRoles []string
	}{
		{"valid", func(t *testing.T) string { return "Bearer " + sign(t, good, jwt.SigningMethodHS256, signingKey) }, 0, "dr-rao", []string{RoleDoctor}},
		{"lowercase_scheme", func(t *testing.T) string { return "bearer " + sign(t, good, jwt.SigningMethodHS256, signingKey) }, 0, "dr-rao", []string{RoleDoctor}},
		{"missing_header", func(*testing.T) string { return "" }, http.StatusUnauthorized, "", nil},
		{"basic_auth", func(*testing.T) string { return "Basic dXNlcjpwYXNz" }, http.StatusUnauthorized, "", nil},
		{"empty_bearer", func(*testing.T) string { return "Bearer " }, http.StatusUnauthorized, "", nil},
		{"garbage", func(*testing.T) string { return "Bearer not.a.jwt" }, http.StatusUnauthorized, "", nil},
		{"wrong_key", func(t *testing.T) string {
			return "Bearer " + sign(t, good, jwt.SigningMethodHS256, []byte("another-key-of-sufficient-length!"))
		}, http.StatusUnauthorized, "", nil},
		{"hs512_rejected", func(t *testing.T) string { return "Bearer " + sign(t, good, jwt.SigningMethodHS512, signingKey) }, http.StatusUnauthorized, "", nil},
		{"wrong_issuer", func(t *testing.T) string { return "Bearer " + sign(t, wrongIssuer, jwt.SigningMethodHS256, signingKey) }, http.StatusUnauthorized, "", nil},
		{"expired", func(t *testing.T) string { return "Bearer " + sign(t, expired, jwt.SigningMethodHS256, signingKey) }, http.StatusUnauthorized, "", nil},
		{"no_expiry", func(t *testing.T) string { return "Bearer " + sign(t, noExpiry, jwt.SigningMethodHS256, signingKey) }, http.StatusUnauthorized, "", nil},
		{"no_subject", func(t *testing.T) string { return "Bearer " + sign(t, noSubject, jwt.SigningMethodHS256, signingKey) }, http.StatusUnauthorized, "", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := runMiddleware(JWTMiddleware(cfg), tc.header(t), "")
			if tc.wantCode != 0 {
				var he *echo.HTTPError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, tc.wantCode, he.Code)
				assert.False(t, s.called)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.called)
			assert.Equal(t, tc.wantUser, s.user)
			assert.Equal(t, tc.wantRoles, s.roles)
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	s, err := runMiddleware(DevAuthMiddleware(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", s.user)
	assert.Equal(t, []string{RoleAdmin}, s.roles)

	s, err = runMiddleware(DevAuthMiddleware(), "", "reception-2")
	require.NoError(t, err)
	assert.Equal(t, "reception-2", s.user)
}
