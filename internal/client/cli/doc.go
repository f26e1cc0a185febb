// Package cli implements the interactive command-line shell of the task
// client.
//
// The shell reads one command per line, applies it through the task and auth
// services and prints the outcome. Connectivity changes reported by the
// monitor switch the prompt between online and offline mode and are fed to
// the sync scheduler and the cache persister.
package cli
