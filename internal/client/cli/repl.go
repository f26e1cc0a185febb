package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Pending(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Toggle(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Refresh(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Backup(ctx context.Context, args []string) error
}

const (
	helpLoggedOut = "Available commands: login, add, (l)ist, pending, edit, toggle, delete, status, exit"
	helpLoggedIn  = "Available commands: add, (l)ist, pending, edit, toggle, delete, sync, refresh, status, backup, logout, exit"
)

// runREPL starts a read–eval–print loop over reader.
//
// The first token of a line is the command, the rest are its arguments.
// Handler errors are printed and the loop continues. The loop exits on EOF or
// when the user types "exit" or "quit".
//
// Commands that change tasks work without a session; sync, refresh and
// backup need one.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("tasks %s> ", statusFn()))

		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}
		case "login":
			cmdErr = a.Login(ctx, args)
		case "logout":
			cmdErr = a.Logout(ctx, args)
		case "add":
			cmdErr = a.Add(ctx, args)
		case "l", "list":
			cmdErr = a.List(ctx, args)
		case "pending":
			cmdErr = a.Pending(ctx, args)
		case "edit":
			cmdErr = a.Edit(ctx, args)
		case "toggle", "done":
			cmdErr = a.Toggle(ctx, args)
		case "delete", "rm":
			cmdErr = a.Delete(ctx, args)
		case "sync":
			cmdErr = a.Sync(ctx, args)
		case "refresh":
			cmdErr = a.Refresh(ctx, args)
		case "status":
			cmdErr = a.Status(ctx, args)
		case "backup":
			cmdErr = a.Backup(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil {
			printlnFn("Error:", cmdErr.Error())
		}
		if err != nil {
			return
		}
	}
}
