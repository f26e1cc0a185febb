package cli

import (
	"context"
	"fmt"
	"strings"
)

// getSimpleText, getSecret, getMultiline and getYesNo are indirections used
// to facilitate testing.
var (
	getSimpleText = GetSimpleText
	getSecret     = GetSecret
	getMultiline  = GetMultiline
	getYesNo      = GetYesNo
)

// Login stores an access token. The token comes from the first argument or,
// without one, from a prompt that does not echo.
//
// A successful login requests a sync pass so work done while signed out is
// pushed under the new account.
func (a *App) Login(ctx context.Context, args []string) error {
	var token string
	if len(args) > 0 {
		token = strings.Join(args, "")
	} else {
		t, err := getSecret("Enter access token", a.out)
		if err != nil {
			return err
		}
		token = t
	}

	uid, err := a.auth.Login(ctx, token)
	if err != nil {
		a.log.Warn(ctx, "login failed", "error", err)
		return err
	}

	a.setUser(uid)
	fmt.Fprintf(a.out, "Signed in as %s\n", uid)

	if a.scheduler != nil {
		a.scheduler.Trigger()
	}
	return nil
}

// Logout drops the session together with every locally kept task. Unsynced
// work is lost, so the user is asked first when there is any.
func (a *App) Logout(ctx context.Context, _ []string) error {
	unsynced := len(a.tasks.Pending(ctx)) + a.tasks.PendingDeletes(ctx)
	if unsynced > 0 {
		ok, err := getYesNo(a.reader, fmt.Sprintf("%d change(s) are not synced yet and will be lost. Sign out anyway?", unsynced), a.out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.out, "Cancelled")
			return nil
		}
	}

	a.tasks.SignOut(ctx)
	a.setUser("")
	fmt.Fprintln(a.out, "Signed out")
	return nil
}
