package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pulse-dm/internal/domain/user"
	"pulse-dm/internal/repository"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type ctxKey string

const identityKey ctxKey = "identity"

// IdentityClaims is the token issued by the identity provider.
type IdentityClaims struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

func (c IdentityClaims) Profile() user.Profile {
	return user.Profile{
		ID:        c.Subject,
		Username:  c.Username,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		AvatarURL: c.AvatarURL,
	}
}

// IdentityService verifies provider tokens and mirrors the profile they
// carry into the users table.
type IdentityService struct {
	users  repository.UserRepository
	cache  UserCache
	secret []byte
	issuer string
	logger *zap.Logger
}

func NewIdentityService(users repository.UserRepository, cache UserCache, secret, issuer string, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{
		users:  users,
		cache:  cache,
		secret: []byte(secret),
		issuer: issuer,
		logger: logger.With(zap.String("component", "identity")),
	}
}

// ParseToken validates signature, expiry and issuer and returns the caller's profile.
func (s *IdentityService) ParseToken(tokenString string) (user.Profile, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return user.Profile{}, pulse_errors.ErrUnauthorized
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pulse_errors.ErrUnauthorized
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return user.Profile{}, fmt.Errorf("%w: %v", pulse_errors.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return user.Profile{}, pulse_errors.ErrUnauthorized
	}
	return claims.Profile(), nil
}

// IssueToken signs a token for p. Used by tests and local tooling; production
// tokens come from the identity provider.
func (s *IdentityService) IssueToken(p user.Profile, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := IdentityClaims{
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		AvatarURL: p.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// EnsureUser upserts p unless the cached copy is identical.
func (s *IdentityService) EnsureUser(ctx context.Context, p user.Profile) error {
	if s.cache != nil {
		cached, err := s.cache.GetUser(ctx, p.ID)
		if err != nil {
			s.logger.Warn("user cache read failed", zap.String("user_id", p.ID), zap.Error(err))
		} else if cached != nil && *cached == p {
			return nil
		}
	}
	if err := s.users.Upsert(ctx, p); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.SetUser(ctx, p); err != nil {
			s.logger.Warn("user cache write failed", zap.String("user_id", p.ID), zap.Error(err))
		}
	}
	return nil
}

// Authenticate parses the token and mirrors the profile. Mirror failures are
// logged; they never reject an otherwise valid caller.
func (s *IdentityService) Authenticate(ctx context.Context, tokenString string) (user.Profile, error) {
	p, err := s.ParseToken(tokenString)
	if err != nil {
		return user.Profile{}, err
	}
	if err := s.EnsureUser(ctx, p); err != nil {
		s.logger.Error("mirror user profile failed", zap.String("user_id", p.ID), zap.Error(err))
	}
	return p, nil
}

func WithIdentity(ctx context.Context, p user.Profile) context.Context {
	return context.WithValue(ctx, identityKey, p)
}

func IdentityFromContext(ctx context.Context) (user.Profile, bool) {
	p, ok := ctx.Value(identityKey).(user.Profile)
	return p, ok && p.ID != ""
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := IdentityFromContext(ctx)
	return p.ID, ok
}
