// Package session reads the signed-in user out of the access token kept in
// the auth namespace. Authentication itself happens elsewhere; the client
// only needs to know whether a session exists and whose it is.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

// TokenKey is the auth namespace key of the access token.
const TokenKey = "access-token"

type Session struct {
	kv     *kv.Store
	secret []byte
	log    logging.Logger
	now    func() time.Time
}

// New returns a session reader. With an empty secret token signatures are
// not verified and only the claims are read.
func New(store *kv.Store, secret string, log logging.Logger) *Session {
	s := &Session{
		kv:  store,
		log: logging.OrNop(log).With("module", "session"),
		now: time.Now,
	}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

// Parse validates token and returns its user id.
func (s *Session) Parse(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", common.ErrNoSession
	}

	claims := jwt.MapClaims{}
	if s.secret != nil {
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
		}
		exp, err := claims.GetExpirationTime()
		if err != nil {
			return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
		}
		if exp != nil && !s.now().Before(exp.Time) {
			return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, jwt.ErrTokenExpired)
		}
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", fmt.Errorf("%w: no subject", common.ErrInvalidToken)
}

func (s *Session) Token(ctx context.Context) (string, bool) {
	return kv.Get[string](ctx, s.kv, kv.NamespaceAuth, TokenKey)
}

// UserID returns the user of the stored token. ErrNoSession means no token is
// stored, ErrInvalidToken means it cannot be used.
func (s *Session) UserID(ctx context.Context) (string, error) {
	token, ok := s.Token(ctx)
	if !ok {
		return "", common.ErrNoSession
	}
	return s.Parse(token)
}

// SignIn stores token after checking that it identifies a user.
func (s *Session) SignIn(ctx context.Context, token string) (string, error) {
	uid, err := s.Parse(token)
	if err != nil {
		if errors.Is(err, common.ErrNoSession) {
			return "", fmt.Errorf("%w: empty token", common.ErrInvalidToken)
		}
		return "", err
	}

	s.kv.Set(ctx, kv.NamespaceAuth, TokenKey, strings.TrimSpace(token))
	s.log.Info(ctx, "signed in", "user_id", uid)
	return uid, nil
}

// SignOut clears the whole auth namespace.
func (s *Session) SignOut(ctx context.Context) {
	s.kv.ClearAll(ctx, kv.NamespaceAuth)
	s.log.Info(ctx, "signed out")
}
