package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository"
)

// IdentityService turns session tokens into users. Issuing tokens for real
// logins happens elsewhere; IssueToken exists for tooling and tests.
type IdentityService struct {
	users     repository.UserRepository
	jwtSecret []byte
	ttl       time.Duration
}

func NewIdentityService(users repository.UserRepository, jwtSecret string, ttl time.Duration) *IdentityService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdentityService{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
	}
}

// Authenticate validates token and loads its active user.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrMissingCredential
	}

	userID, err := s.parseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, domain.ErrInvalidCredential
	}
	return user, nil
}

func (s *IdentityService) IssueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *IdentityService) parseToken(tokenStr string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("token is not valid")
	}
	return uuid.Parse(claims.Subject)
}
