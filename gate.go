package tempaccess

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is how long an authority token stays valid. The token is
// the root operator's own short session, independent of any grant; once it
// lapses the operator has to re-authorize, there is no silent renewal.
const DefaultTokenTTL = 15 * time.Minute

// AuthorityToken is the result of a successful root-authority check.
type AuthorityToken struct {
	Token     string    `json:"token"`
	Operator  string    `json:"operator"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type authorityClaims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

// GateConfig configures the RootAuthorityGate.
type GateConfig struct {
	// Secret signs authority tokens (HS256).
	Secret string

	// Operators maps a root operator name to the bcrypt hash of their
	// credential. Each operator authenticates individually; there is no
	// shared root password.
	Operators map[string]string

	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Gate verifies root-authority credentials and issues short-lived tokens
// for mutating admin operations.
type Gate struct {
	secret    []byte
	operators map[string]string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewGate builds a Gate from config.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: gate signing secret is required", ErrInvalidInput)
	}
	if len(cfg.Operators) == 0 {
		return nil, fmt.Errorf("%w: at least one root operator is required", ErrInvalidInput)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Gate{
		secret:    []byte(cfg.Secret),
		operators: cfg.Operators,
		tokenTTL:  cfg.TokenTTL,
		now:       cfg.Clock,
	}, nil
}

// Authorize checks an operator's credential and issues an authority token.
func (g *Gate) Authorize(operator, secret string) (*AuthorityToken, error) {
	hash, ok := g.operators[operator]
	if !ok {
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return nil, ErrUnauthorized
	}

	now := g.now()
	expires := now.Add(g.tokenTTL)
	claims := authorityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tempaccess",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Operator: operator,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authority token: %w", err)
	}

	return &AuthorityToken{Token: signed, Operator: operator, ExpiresAt: expires}, nil
}

// Verify parses an authority token and returns the operator it was issued
// to. Expired or tampered tokens fail with ErrUnauthorized.
func (g *Gate) Verify(tokenString string) (string, error) {
	var claims authorityClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil || !token.Valid || claims.Operator == "" {
		return "", ErrUnauthorized
	}
	return claims.Operator, nil
}
