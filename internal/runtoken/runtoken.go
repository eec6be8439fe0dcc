// Package runtoken mints and reads the signed token an agent process
// carries so that API requests can be attributed to the run that made them.
package runtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Header is the HTTP header agents send their run token in.
const Header = "X-Agent-Run"

// EnvVar is the environment variable a spawned agent finds its token in.
const EnvVar = "AGENTS_RUN_TOKEN"

// Claims identifies one agent run.
type Claims struct {
	RepoID int64 `json:"repo_id"`
	jwt.RegisteredClaims
}

// RunID returns the run identifier carried in the subject.
func (c Claims) RunID() string {
	return c.Subject
}

// Issuer signs and verifies run tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
}

// NewIssuer returns an Issuer, or nil when secret is empty. A nil Issuer
// mints no tokens and accepts none.
func NewIssuer(secret string) *Issuer {
	if secret == "" {
		return nil
	}
	return &Issuer{secret: []byte(secret)}
}

// Mint returns a signed token for the run.
func (i *Issuer) Mint(repoID int64, runID string) (string, error) {
	if i == nil {
		return "", nil
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RepoID: repoID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  runID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign run token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	if i == nil {
		return nil, errors.New("run tokens disabled")
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse run token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid run token")
	}
	return &claims, nil
}
