// Package cli provides the interactive collector client.
//
// It wires configuration, the local store, the remote store client and the
// sync engine, then runs a REPL for field work: register clients and loans,
// record payments and visits, and watch or steer synchronization.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
