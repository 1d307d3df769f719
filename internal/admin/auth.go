package admin

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"github.com/x402arcade/backend/internal/apperr"
	"github.com/x402arcade/backend/internal/config"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "x402-arcade"

// Claims identify an authenticated operator.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator checks the operator password and issues short-lived JWTs.
type Authenticator struct {
	username     string
	passwordHash string
	secret       []byte
	ttl          time.Duration
	clock        clockwork.Clock
}

func NewAuthenticator(cfg *config.Config, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttl := cfg.AdminTokenTTL
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Authenticator{
		username:     cfg.AdminUsername,
		passwordHash: cfg.AdminPasswordHash,
		secret:       []byte(cfg.JWTSecret),
		ttl:          ttl,
		clock:        clock,
	}
}

func unauthorized(msg string) error {
	return apperr.New(apperr.KindValidation, apperr.CodeUnauthorized, msg, nil)
}

// Login verifies the credentials and returns a signed token and its expiry.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	if a.passwordHash == "" {
		return "", time.Time{}, unauthorized("admin login is disabled")
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password))
	if !userOK || passErr != nil {
		return "", time.Time{}, unauthorized("invalid credentials")
	}

	now := a.clock.Now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Username: a.username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   a.username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, apperr.Internal("failed to sign token", err)
	}
	return signed, exp, nil
}

// Parse validates a bearer token against the signing secret and the clock.
func (a *Authenticator) Parse(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, unauthorized("invalid token")
	}
	if !claims.VerifyExpiresAt(a.clock.Now(), true) {
		return nil, unauthorized("token expired")
	}
	if !claims.VerifyIssuer(issuer, true) || claims.Username != a.username {
		return nil, unauthorized("invalid token")
	}
	return &claims, nil
}

// HashPassword produces the bcrypt hash expected in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
