package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"krushilink/internal/config"
	"krushilink/internal/lifecycle"
	"krushilink/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSigningMethod = jwt.SigningMethodHS256

var errMissingBearer = errors.New("missing bearer token")

// Claims identify a user: sub is the user id, role one of farmer, driver, admin.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	cfg config.APIJWTConfig
	now func() time.Time
}

func NewTokenIssuer(cfg config.APIJWTConfig) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, now: time.Now}
}

// Mint signs a token for a freshly registered user.
func (t *TokenIssuer) Mint(userID string, role models.Role) (string, error) {
	if t.cfg.Secret == "" {
		return "", errors.New("jwt secret is required")
	}
	now := t.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(t.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Parse validates the token and returns the acting user.
func (t *TokenIssuer) Parse(tokenString string) (lifecycle.Actor, error) {
	if t.cfg.Secret == "" {
		return lifecycle.Actor{}, errors.New("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithLeeway(t.cfg.Leeway),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(t.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return lifecycle.Actor{}, err
	}

	if claims.Subject == "" {
		return lifecycle.Actor{}, errors.New("token has no subject")
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil || role == models.RoleSystem {
		return lifecycle.Actor{}, fmt.Errorf("token role %q is not allowed", claims.Role)
	}
	return lifecycle.Actor{UserID: claims.Subject, Role: role}, nil
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

type actorKey struct{}

func withActor(ctx context.Context, actor lifecycle.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the user set by the bearer middleware.
func ActorFromContext(ctx context.Context) (lifecycle.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(lifecycle.Actor)
	return actor, ok
}
