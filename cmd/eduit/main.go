// Command eduit manages the duit raya gift list from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"eduitraya/internal/amqp"
	"eduitraya/internal/bus"
	"eduitraya/internal/cli"
	"eduitraya/internal/log"
)

type env struct {
	cmd    command
	app    *cli.App
	// relay tells running eduit-watch processes about changes; nil when
	// AMQP is not configured.
	relay  *amqp.Relay
	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"list", "list [--search TEXT] [--sort name|amount|date] [--order asc|desc] [--json]", "Show recipients", runList},
	{"add", "add --name NAME --amount RM --note NOTE [--duitnow ID]", "Add a recipient", runAdd},
	{"update", "update ID [--name NAME] [--amount RM] [--note NOTE] [--duitnow ID]", "Change a recipient", runUpdate},
	{"remove", "remove ID [--yes]", "Delete a recipient", runRemove},
	{"clear", "clear [--yes]", "Delete every recipient", runClear},
	{"stats", "stats", "Show the dashboard", runStats},
	{"export", "export [--format csv,xlsx,pdf] [--dir DIR] [--sheets] [--offsite]", "Write CSV, spreadsheet and PDF exports", runExport},
	{"backup", "backup [--out FILE] [--offsite]", "Write a JSON backup", runBackup},
	{"restore", "restore FILE | --offsite [NAME|--latest] [--yes]", "Replace the list with a backup", runRestore},
	{"qr", "qr ID [--out FILE] [--caption] | qr --duitnow ID --amount RM --name NAME", "Write a payment QR code", runQR},
	{"quick-add", "quick-add PRESET", "Add a placeholder recipient with a common amount", runQuickAdd},
	{"bulk-add", "bulk-add --amount RM --count N", "Add many placeholder recipients", runBulkAdd},
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "-h" || os.Args[1] == "--help" {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := lookup(os.Args[1])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	e := &env{
		cmd:    cmd,
		app:    app,
		relay:  app.Relay(),
		stdin:  bufio.NewReader(os.Stdin),
		stdout: os.Stdout,
		stderr: os.Stderr,
		now:    time.Now,
	}
	err = e.execute(ctx, os.Args[2:])
	if cerr := app.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

// execute runs the command and, if it changed the list, sends one change
// message for the whole run. A failed notification is only logged: the
// write is already saved and watchers also poll the slot.
func (e *env) execute(ctx context.Context, args []string) error {
	var changed atomic.Bool
	unsubscribe := e.app.Bus.Subscribe(func(ev bus.Event) {
		if ev.Source == bus.Local {
			changed.Store(true)
		}
	})
	err := e.cmd.run(ctx, e, args)
	unsubscribe()

	if changed.Load() && e.relay != nil {
		if nerr := e.relay.Notify(ctx, e.app.Adapter.Key()); nerr != nil {
			e.app.Logger.WarnContext(ctx, "Failed to notify other processes",
				log.NewFields().
					WithOperation(log.OpPublish).
					WithErrorType(log.ErrorTypeNetwork).
					WithError(nerr).ToSlice()...)
		}
	}
	return err
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: eduit <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'eduit <command> -h' for the flags of a command.")
}
