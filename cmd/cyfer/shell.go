package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/forest6511/cyfer/pkg/session"
)

var shellMetricsAddr string

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().StringVar(&shellMetricsAddr, "metrics-addr", "", "Serve session metrics on this address (e.g. 127.0.0.1:9465)")
}

const shellHelp = `Commands:
  ls [text]      list services, optionally filtered
  open <name>    show a service (secret masked)
  reveal         show or hide the open service's secret
  add <name>     add a service
  rm <name>      delete a service
  refresh        reload the service list
  lock           lock the session
  unlock         unlock the session
  help           show this help
  quit           lock and exit`

// shellCmd keeps one session open across commands
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session",
	Long: `Start an interactive session. The vault stays unlocked between commands
until you lock it, quit, or the configured auto_lock idle time passes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var reg *prometheus.Registry
		if shellMetricsAddr != "" {
			reg = newMetricsRegistry()
			_, stopMetrics, err := serveMetrics(reg, shellMetricsAddr)
			if err != nil {
				return err
			}
			defer stopMetrics()
		}

		c, closeSession, err := openSession(ctx, registererOf(reg))
		if err != nil {
			return err
		}
		defer closeSession()

		sh := &shell{
			c:   c,
			p:   newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()),
			out: cmd.OutOrStdout(),
		}
		return sh.run(ctx)
	},
}

// registererOf avoids handing the controller a typed nil.
func registererOf(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

type shell struct {
	c   *session.Controller
	p   *prompter
	out io.Writer
}

func (sh *shell) run(ctx context.Context) error {
	if err := sh.c.CheckExistence(ctx); err != nil {
		printError(sh.out, err)
	}
	if sh.c.View().Existence != session.ExistencePresent {
		fmt.Fprintf(sh.out, "No vault found at %s. Run 'cyfer init' first.\n", cfg.VaultDir)
		return nil
	}
	if err := sh.unlock(ctx); err != nil {
		printError(sh.out, err)
	}
	fmt.Fprintln(sh.out, "Type 'help' for commands.")

	for {
		line, err := sh.p.line(sh.promptLabel())
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(sh.out)
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		verb, arg := fields[0], strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if verb == "quit" || verb == "exit" {
			return nil
		}
		if err := sh.exec(ctx, verb, arg); err != nil {
			printError(sh.out, err)
		}
	}
}

func (sh *shell) promptLabel() string {
	if sh.c.View().State == session.StateUnlocked {
		return "cyfer"
	}
	return "cyfer (locked)"
}

func (sh *shell) exec(ctx context.Context, verb, arg string) error {
	switch verb {
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
	case "ls", "list":
		sh.list(arg)
	case "open":
		if arg == "" {
			return errors.New("usage: open <name>")
		}
		if err := step("Decrypting...", func() error { return sh.c.SelectService(ctx, arg) }); err != nil {
			return err
		}
		printSelection(sh.out, sh.c.View().Selection, "type 'reveal'")
	case "reveal":
		if err := sh.c.ToggleReveal(); err != nil {
			return err
		}
		sel := sh.c.View().Selection
		if sel == nil {
			return errors.New("no service is open")
		}
		printSelection(sh.out, sel, "type 'reveal'")
	case "add":
		return sh.add(ctx, arg)
	case "rm", "del":
		return sh.remove(ctx, arg)
	case "refresh":
		if err := step("Refreshing...", func() error { return sh.c.RefreshServices(ctx) }); err != nil {
			return err
		}
		sh.list("")
	case "lock":
		sh.c.Lock()
		printSuccess(sh.out, "Locked")
	case "unlock":
		return sh.unlock(ctx)
	default:
		return fmt.Errorf("unknown command %q (type 'help')", verb)
	}
	return nil
}

func (sh *shell) unlock(ctx context.Context) error {
	if err := unlockSession(ctx, sh.c, sh.p); err != nil {
		return err
	}
	printSuccess(sh.out, "Unlocked: %d services", sh.c.View().Total)
	return nil
}

func (sh *shell) list(query string) {
	names := sh.c.Filter(query)
	if len(names) == 0 {
		fmt.Fprintln(sh.out, mutedText.Sprint("(none)"))
		return
	}
	for _, name := range names {
		fmt.Fprintln(sh.out, name)
	}
}

func (sh *shell) add(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("usage: add <name>")
	}
	username, err := sh.p.line("Username")
	if err != nil {
		return err
	}
	secret, err := sh.p.secret("Secret")
	if err != nil {
		return err
	}
	notes, err := sh.p.line("Notes (optional)")
	if err != nil {
		return err
	}

	if err := step("Saving...", func() error {
		return sh.c.AddService(ctx, name, username, secret, &notes)
	}); err != nil {
		return err
	}
	printSuccess(sh.out, "Added %s", nameText.Sprint(name))
	return nil
}

func (sh *shell) remove(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("usage: rm <name>")
	}
	ok, err := sh.p.confirm(fmt.Sprintf("Delete %s? This cannot be undone.", name))
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	if err := step("Deleting...", func() error { return sh.c.DeleteService(ctx, name) }); err != nil {
		return err
	}
	printSuccess(sh.out, "Deleted %s", nameText.Sprint(name))
	return nil
}
