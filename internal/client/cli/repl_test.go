package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	calls []string
	args  [][]string
	err   error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.err
}

func (f *fakeExec) Status(ctx context.Context) error { return f.record("status", nil) }
func (f *fakeExec) List(ctx context.Context, args []string) error {
	return f.record("list", args)
}
func (f *fakeExec) AddClient(ctx context.Context, args []string) error {
	return f.record("addclient", args)
}
func (f *fakeExec) AddLoan(ctx context.Context, args []string) error {
	return f.record("addloan", args)
}
func (f *fakeExec) Pay(ctx context.Context, args []string) error { return f.record("pay", args) }
func (f *fakeExec) Visit(ctx context.Context, args []string) error {
	return f.record("visit", args)
}
func (f *fakeExec) Delete(ctx context.Context, args []string) error {
	return f.record("delete", args)
}
func (f *fakeExec) Sync(ctx context.Context) error       { return f.record("sync", nil) }
func (f *fakeExec) FullSync(ctx context.Context) error   { return f.record("fullsync", nil) }
func (f *fakeExec) ClearQueue(ctx context.Context) error { return f.record("clear", nil) }
func (f *fakeExec) Repair(ctx context.Context) error     { return f.record("repair", nil) }

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		out = append(out, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &out
}

func TestRunREPL_Dispatch(t *testing.T) {
	captureOutput(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"status",
		"",
		"list loans",
		"addclient Ana 555",
		"addloan c1 100 10",
		"pay l1 5",
		"visit l1 promise",
		"rm loan l1",
		"sync",
		"fullsync",
		"clear",
		"repair",
		"exit",
		"status",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"status", "list", "addclient", "addloan", "pay", "visit", "delete",
		"sync", "fullsync", "clear", "repair",
	}, exec.calls)
	assert.Equal(t, []string{"loans"}, exec.args[1])
	assert.Equal(t, []string{"Ana", "555"}, exec.args[2])
	assert.Equal(t, []string{"loan", "l1"}, exec.args[6])
}

func TestRunREPL_ReportsErrors(t *testing.T) {
	out := captureOutput(t)

	input := strings.NewReader("pay\nfoobar\nquit\n")
	exec := &fakeExec{err: errors.New("boom")}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	assert.Contains(t, *out, "Error: boom")
	assert.Contains(t, *out, "Unknown command: foobar")
	assert.Contains(t, *out, "Bye!")
}

func TestRunREPL_UsageIsNotAnError(t *testing.T) {
	out := captureOutput(t)

	input := strings.NewReader("pay\n")
	exec := &fakeExec{err: errUsage}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	for _, line := range *out {
		assert.NotContains(t, line, "Error:")
	}
}
