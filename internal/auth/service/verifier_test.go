package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testNow    = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")
	testAuth   = config.AuthConfig{Audience: "authenticated"}
)

func claimsFor(sub, email, aud string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"aud":   aud,
		"role":  "authenticated",
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   exp.Unix(),
	}
}

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

func TestHMACVerifierAcceptsValidToken(t *testing.T) {
	v := NewHMAC(zap.NewNop(), clock.NewFakeClock(testNow), testSecret, testAuth)
	raw := signHS256(t, testSecret, claimsFor("user-1", "Owner@Example.com", "authenticated", testNow.Add(time.Hour)))

	id, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "owner@example.com", id.Email)
}

func TestHMACVerifierRejects(t *testing.T) {
	v := NewHMAC(zap.NewNop(), clock.NewFakeClock(testNow), testSecret, testAuth)

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", authdomain.ErrMissingToken},
		{"garbage", "not-a-jwt", authdomain.ErrInvalidToken},
		{"wrong secret", signHS256(t, []byte("other-secret"), claimsFor("u", "", "authenticated", testNow.Add(time.Hour))), authdomain.ErrInvalidToken},
		{"expired", signHS256(t, testSecret, claimsFor("u", "", "authenticated", testNow.Add(-time.Hour))), authdomain.ErrInvalidToken},
		{"wrong audience", signHS256(t, testSecret, claimsFor("u", "", "anon", testNow.Add(time.Hour))), authdomain.ErrInvalidToken},
		{"no subject", signHS256(t, testSecret, claimsFor("", "", "authenticated", testNow.Add(time.Hour))), authdomain.ErrMissingSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.raw)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHMACVerifierRejectsNoneAlgorithm(t *testing.T) {
	v := NewHMAC(zap.NewNop(), clock.NewFakeClock(testNow), testSecret, testAuth)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("u", "", "authenticated", testNow.Add(time.Hour))).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
}

func TestVerifierWithoutKeysRejects(t *testing.T) {
	v := &JWTVerifier{log: zap.NewNop(), clock: clock.NewFakeClock(testNow)}
	_, err := v.Verify(context.Background(), "abc")
	assert.ErrorIs(t, err, authdomain.ErrNotConfigured)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]jwk{"keys": {{
			Kty: "RSA",
			Kid: "k1",
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k, err := keyfunc.NewDefaultCtx(ctx, []string{srv.URL})
	require.NoError(t, err)

	auth := config.AuthConfig{Audience: "authenticated", Issuer: "https://auth.viotraix.test/auth/v1"}
	v := NewJWKS(zap.NewNop(), clock.NewFakeClock(time.Now()), k.Keyfunc, auth)

	claims := claimsFor("user-9", "ops@viotraix.test", "authenticated", time.Now().Add(10*time.Minute))
	claims["iss"] = auth.Issuer
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	raw, err := token.SignedString(key)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-9", id.UserID)

	// An HS256 token signed with the public modulus must not pass the JWKS verifier.
	forged := signHS256(t, key.PublicKey.N.Bytes(), claims)
	_, err = v.Verify(context.Background(), forged)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
}
