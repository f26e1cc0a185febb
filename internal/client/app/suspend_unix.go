//go:build unix

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchSuspend hooks terminal job control. On SIGTSTP the app suspends and
// then stops itself with the default action; SIGCONT resumes it.
func (app *App) watchSuspend(ctx context.Context) {
	stop := make(chan os.Signal, 1)
	cont := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTSTP)
	signal.Notify(cont, syscall.SIGCONT)

	go func() {
		defer signal.Stop(cont)
		defer signal.Stop(stop)

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				app.suspend(ctx)
				signal.Reset(syscall.SIGTSTP)
				if err := syscall.Kill(syscall.Getpid(), syscall.SIGTSTP); err != nil {
					app.logger.Warn(ctx, "stop failed", "error", err)
					signal.Notify(stop, syscall.SIGTSTP)
				}
			case <-cont:
				signal.Notify(stop, syscall.SIGTSTP)
				app.resume(ctx)
			}
		}
	}()
}
