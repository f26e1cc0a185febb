package services

import (
	"context"

	"github.com/dmitrijs2005/tasksync/internal/connectivity"
)

// AuthService covers sign-in state and backend liveness for the CLI.
type AuthService interface {
	// Login stores an access token and returns its user id.
	Login(ctx context.Context, token string) (string, error)
	// CurrentUser returns the signed-in user or common.ErrNoSession.
	CurrentUser(ctx context.Context) (string, error)
	// Ping probes the backend once.
	Ping(ctx context.Context) connectivity.Status
}

// Checker probes connectivity on demand. *connectivity.Monitor satisfies it.
type Checker interface {
	Check(ctx context.Context) connectivity.Status
}

type authService struct {
	session SessionManager
	checker Checker
}

func NewAuthService(session SessionManager, checker Checker) AuthService {
	return &authService{session: session, checker: checker}
}

func (a *authService) Login(ctx context.Context, token string) (string, error) {
	return a.session.SignIn(ctx, token)
}

func (a *authService) CurrentUser(ctx context.Context) (string, error) {
	return a.session.UserID(ctx)
}

func (a *authService) Ping(ctx context.Context) connectivity.Status {
	return a.checker.Check(ctx)
}
