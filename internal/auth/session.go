// Package auth serves login, token renewal and password reset.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	sharedauth "github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/user"
)

// SessionConfig defines token lifetimes.
type SessionConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	ResetTTL  time.Duration
	// FrontendURL is the base of password reset links.
	FrontendURL string
}

// Session is returned by login and token renewal.
type Session struct {
	User  *user.User `json:"user"`
	Token string     `json:"token"`
}

func newSession(cfg SessionConfig, u *user.User) (*Session, error) {
	token, err := sharedauth.IssueToken(cfg.JWTSecret, u.Identity(), cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token}, nil
}

// resetTokenBytes is the entropy of a password reset token.
const resetTokenBytes = 32

// newResetToken returns a random hex token and the hash to store for it.
func newResetToken() (token, hash string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
