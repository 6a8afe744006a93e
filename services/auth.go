package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

// Claims is the payload of a session token.
type Claims struct {
	UserID string      `json:"uid"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token holder may run admin-only mutations.
func (c *Claims) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

type AuthService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    zerolog.Logger
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		logger:    log.With().Str("component", "authService").Logger(),
	}
}

// HashPassword returns the bcrypt hash of password.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func (s *AuthService) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateJWT generates a session token for a user
func (s *AuthService) CreateJWT(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyJWT verifies a session token and returns its claims
func (s *AuthService) VerifyJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Email == "" || claims.UserID == "" {
		return nil, errors.New("token is missing the user identity")
	}
	return claims, nil
}

// EnsureAdmin creates the bootstrap admin account unless the email is taken.
func (s *AuthService) EnsureAdmin(ctx context.Context, users *database.UserRepo, email, password, name string) error {
	if email == "" || password == "" {
		return nil
	}

	_, err := users.FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errs.IsNotFound(err) {
		return err
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := users.Create(ctx, models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}

	s.logger.Info().Str("email", email).Msg("seeded admin account")
	return nil
}
