//go:build !unix

package app

import "context"

// watchSuspend is a no-op where there is no terminal job control.
func (app *App) watchSuspend(context.Context) {}
