package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// execIface defines the command surface the REPL needs. App satisfies it;
// tests provide a lightweight stub.
type execIface interface {
	Status(ctx context.Context) error
	List(ctx context.Context, args []string) error
	AddClient(ctx context.Context, args []string) error
	AddLoan(ctx context.Context, args []string) error
	Pay(ctx context.Context, args []string) error
	Visit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	FullSync(ctx context.Context) error
	ClearQueue(ctx context.Context) error
	Repair(ctx context.Context) error
}

const helpText = `Available commands:
  status                                   show sync status
  list [clients|loans|payments|logs|expenses]
  addclient <name> [phone]                 register a client
  addloan <client-id> <principal> <installments> [rate]
  pay <loan-id> <amount>                   record a payment
  visit <loan-id> <type> [amount]          log a visit (visit, promise, no_contact, payment)
  delete <table> <id>                      delete a record
  sync | fullsync                          synchronize now
  clear                                    drop queued changes
  repair                                   reset the local cache and reload
  exit | quit`

// runREPL reads commands from scanner until EOF or "exit" and dispatches
// them to a. Handler errors are reported and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("lc [%s]> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "status":
			err = a.Status(ctx)
		case "l", "list":
			err = a.List(ctx, args)
		case "addclient":
			err = a.AddClient(ctx, args)
		case "addloan":
			err = a.AddLoan(ctx, args)
		case "pay":
			err = a.Pay(ctx, args)
		case "visit":
			err = a.Visit(ctx, args)
		case "delete", "rm":
			err = a.Delete(ctx, args)
		case "sync":
			err = a.Sync(ctx)
		case "fullsync":
			err = a.FullSync(ctx)
		case "clear":
			err = a.ClearQueue(ctx)
		case "repair":
			err = a.Repair(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil && err != errUsage {
			printlnFn("Error:", err)
		}
	}
}
