package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"factory_device/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = time.Hour

	// minPasswordLen is the shortest operator password accepted at sign-up.
	minPasswordLen = 6

	tokenIssuerPrefix = "factory-device/"
)

// Domain errors for operator auth flows.
var (
	ErrInvalidPassword   = errors.New("invalid password")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrOperatorNotFound  = errors.New("operator not found")
	ErrInvalidToken      = errors.New("invalid token")
	ErrNoSigningKey      = errors.New("auth signing key is not configured")
	errPasswordTooShort  = fmt.Errorf("%w: shorter than %d characters", ErrInvalidPassword, minPasswordLen)
	errUsernameMalformed = fmt.Errorf("%w: empty or containing whitespace", ErrInvalidUsername)
)

// Claims are the console token claims. Subject carries the operator name and
// Issuer binds the token to one device.
type Claims struct {
	jwt.RegisteredClaims
	OperatorID int `json:"operator_id"`
}

// AuthService signs operators up and issues console tokens scoped to the
// simulated device.
type AuthService struct {
	operators repository.Operators
	key       []byte
	ttl       time.Duration
	issuer    string
	now       func() time.Time
}

func NewAuthService(repo repository.Operators, deviceID, signingKey string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{
		operators: repo,
		key:       []byte(signingKey),
		ttl:       tokenTTL,
		issuer:    tokenIssuerPrefix + deviceID,
		now:       time.Now,
	}
}

// SignUp validates the credentials, hashes the password and stores the operator.
func (s *AuthService) SignUp(username, password string) (int, error) {
	if username == "" || strings.ContainsFunc(username, isSpace) {
		return 0, errUsernameMalformed
	}
	if len(strings.TrimSpace(password)) < minPasswordLen {
		return 0, errPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return s.operators.Create(username, string(hash))
}

// GenerateToken checks the operator credentials and returns a signed token.
func (s *AuthService) GenerateToken(username, password string) (string, error) {
	if len(s.key) == 0 {
		return "", ErrNoSigningKey
	}
	op, err := s.operators.GetByUsername(username)
	if err != nil {
		return "", fmt.Errorf("look up operator: %w", err)
	}
	if op == nil {
		return "", ErrOperatorNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidPassword
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   op.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		OperatorID: op.ID,
	})
	return token.SignedString(s.key)
}

// ParseToken verifies an HS256 token issued for this device and returns the
// operator id. Every verification failure wraps ErrInvalidToken.
func (s *AuthService) ParseToken(accessToken string) (int, error) {
	if len(s.key) == 0 {
		return 0, ErrNoSigningKey
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(accessToken, &claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.OperatorID <= 0 {
		return 0, fmt.Errorf("%w: no operator id", ErrInvalidToken)
	}
	return claims.OperatorID, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
