package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"entitlement-sync/internal/domain"
	"entitlement-sync/internal/domain/model"
	"entitlement-sync/internal/domain/ports/adapter"
)

var _ adapter.SessionResolver = (*JWTSessionResolver)(nil)

// Config describes how identity provider access tokens are verified.
// Exactly one of HMACSecret and PublicKeyPEM is expected.
type Config struct {
	Issuer       string
	Audience     string
	HMACSecret   []byte
	PublicKeyPEM []byte // RSA or ECDSA
	Leeway       time.Duration
}

// SessionClaims is the subset of identity provider claims this service reads.
type SessionClaims struct {
	Email        string `json:"email"`
	UserMetadata struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// JWTSessionResolver verifies access tokens locally; it never calls the identity provider.
type JWTSessionResolver struct {
	key     any
	methods []string
	opts    []jwt.ParserOption
}

func NewJWTSessionResolver(cfg Config) (*JWTSessionResolver, error) {
	r := &JWTSessionResolver{}
	switch {
	case len(cfg.PublicKeyPEM) > 0:
		if k, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM); err == nil {
			r.key, r.methods = k, []string{"RS256", "RS384", "RS512"}
			break
		}
		k, err := jwt.ParseECPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("auth public key is neither RSA nor ECDSA: %w", err)
		}
		r.key, r.methods = k, []string{"ES256", "ES384", "ES512"}
	case len(cfg.HMACSecret) > 0:
		r.key, r.methods = cfg.HMACSecret, []string{"HS256"}
	default:
		return nil, errors.New("auth: no verification key configured")
	}

	r.opts = []jwt.ParserOption{
		jwt.WithValidMethods(r.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		r.opts = append(r.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		r.opts = append(r.opts, jwt.WithAudience(cfg.Audience))
	}
	return r, nil
}

// Resolve returns the identity carried by token, or domain.ErrUnauthenticated.
func (r *JWTSessionResolver) Resolve(ctx context.Context, token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}
	claims := &SessionClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return r.key, nil }, r.opts...)
	if err != nil || !tkn.Valid {
		return model.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return model.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}

	name := claims.UserMetadata.FullName
	if name == "" {
		name = claims.UserMetadata.Name
	}
	return model.Identity{UserID: claims.Subject, Email: claims.Email, Name: name}, nil
}
