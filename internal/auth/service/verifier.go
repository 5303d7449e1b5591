package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/smallbiznis/viotraix/internal/auth/domain"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const leeway = 30 * time.Second

var (
	hmacMethods       = []string{jwt.SigningMethodHS256.Alg()}
	asymmetricMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA", "PS256"}
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Cfg       config.Config
	Clock     clock.Clock
}

// JWTVerifier checks access tokens locally, either with the shared HS256
// secret or against the provider's JWKS.
type JWTVerifier struct {
	log     *zap.Logger
	clock   clock.Clock
	keyFunc jwt.Keyfunc
	methods []string
	parser  []jwt.ParserOption
}

// New builds the verifier from config. JWKS takes precedence over the shared
// secret; with neither configured every token is rejected.
func New(p Params) (authdomain.Verifier, error) {
	log := p.Log.Named("auth.verifier")
	auth := p.Cfg.Auth

	switch {
	case auth.JWKSURL != "":
		ctx, cancel := context.WithCancel(context.Background())
		k, err := keyfunc.NewDefaultCtx(ctx, []string{auth.JWKSURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		log.Info("verifying access tokens with jwks", zap.String("jwks_url", auth.JWKSURL))
		return NewJWKS(log, p.Clock, k.Keyfunc, auth), nil
	case auth.JWTSecret != "":
		return NewHMAC(log, p.Clock, []byte(auth.JWTSecret), auth), nil
	default:
		log.Warn("no jwt secret or jwks url configured; all requests will be unauthenticated")
		return &JWTVerifier{log: log, clock: p.Clock}, nil
	}
}

func NewHMAC(log *zap.Logger, clk clock.Clock, secret []byte, auth config.AuthConfig) *JWTVerifier {
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }
	return newVerifier(log, clk, keyFunc, hmacMethods, auth)
}

func NewJWKS(log *zap.Logger, clk clock.Clock, keyFunc jwt.Keyfunc, auth config.AuthConfig) *JWTVerifier {
	return newVerifier(log, clk, keyFunc, asymmetricMethods, auth)
}

func newVerifier(log *zap.Logger, clk clock.Clock, keyFunc jwt.Keyfunc, methods []string, auth config.AuthConfig) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(clk.Now),
	}
	if auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(auth.Audience))
	}
	if auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(auth.Issuer))
	}
	return &JWTVerifier{
		log:     log,
		clock:   clk,
		keyFunc: keyFunc,
		methods: methods,
		parser:  opts,
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (authdomain.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return authdomain.Identity{}, authdomain.ErrMissingToken
	}
	if v.keyFunc == nil {
		return authdomain.Identity{}, authdomain.ErrNotConfigured
	}

	var claims authdomain.Claims
	token, err := jwt.ParseWithClaims(rawToken, &claims, v.keyFunc, v.parser...)
	if err != nil || !token.Valid {
		if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
			v.log.Debug("reject access token", zap.Error(err))
		}
		return authdomain.Identity{}, authdomain.ErrInvalidToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return authdomain.Identity{}, authdomain.ErrMissingSubject
	}
	return authdomain.Identity{
		UserID: subject,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}
