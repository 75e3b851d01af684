package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/cyfer/internal/config"
	"github.com/forest6511/cyfer/pkg/bridge"
	"github.com/forest6511/cyfer/pkg/session"
	"github.com/forest6511/cyfer/pkg/vault"
)

// Command flags
var (
	listSearch string

	getReveal bool

	addUsername string
	addNotes    string
	addGenerate int

	delYes bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(delCmd)

	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Only show services containing this text (case-insensitive)")

	getCmd.Flags().BoolVar(&getReveal, "reveal", false, "Print the secret instead of a mask")

	addCmd.Flags().StringVarP(&addUsername, "username", "u", "", "Username for the service (prompted when empty)")
	addCmd.Flags().StringVar(&addNotes, "notes", "", "Optional notes")
	addCmd.Flags().IntVar(&addGenerate, "generate", 0, "Generate a random secret of this length instead of prompting")

	delCmd.Flags().BoolVarP(&delYes, "yes", "y", false, "Skip the confirmation prompt")
}

// initCmd creates a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())

		c, closeSession, err := openSession(ctx, nil)
		if err != nil {
			return err
		}
		defer closeSession()

		if err := step("Checking vault...", func() error { return c.CheckExistence(ctx) }); err != nil {
			return err
		}
		if c.View().Existence == session.ExistencePresent {
			return fmt.Errorf("a vault already exists at %s", cfg.VaultDir)
		}

		password, err := p.secret("Enter master password")
		if err != nil {
			return err
		}
		confirmation, err := p.secret("Confirm master password")
		if err != nil {
			return err
		}

		// Warnings are advisory; createVault enforces the hard rules.
		assessment := session.PasswordStrength(password)
		if assessment.Valid {
			fmt.Fprintf(out, "Password strength: %s\n", assessment.Strength)
			for _, w := range assessment.Warnings {
				printWarning(out, "%s", w)
			}
		}

		if err := step("Creating vault...", func() error {
			return c.CreateVault(ctx, password, confirmation)
		}); err != nil {
			return err
		}
		printSuccess(out, "Vault created at %s", cfg.VaultDir)
		return nil
	},
}

// listCmd prints the service names
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlocked(cmd, func(ctx context.Context, c *session.Controller, p *prompter) error {
			names := c.Filter(listSearch)
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				if c.View().Total == 0 {
					fmt.Fprintln(out, "No services stored")
				} else {
					fmt.Fprintln(out, "No services match")
				}
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		})
	},
}

// getCmd shows one service
var getCmd = &cobra.Command{
	Use:   "get <service>",
	Short: "Show a service's username, secret and notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlocked(cmd, func(ctx context.Context, c *session.Controller, p *prompter) error {
			if err := step("Decrypting...", func() error { return c.SelectService(ctx, args[0]) }); err != nil {
				return err
			}
			if getReveal {
				if err := c.ToggleReveal(); err != nil {
					return err
				}
			}
			printSelection(cmd.OutOrStdout(), c.View().Selection, "use --reveal")
			return nil
		})
	},
}

// addCmd stores a new service
var addCmd = &cobra.Command{
	Use:   "add <service>",
	Short: "Add a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addGenerate != 0 {
			opts := defaultGenerateOptions()
			opts.length = addGenerate
			if err := opts.validate(); err != nil {
				return err
			}
		}

		return withUnlocked(cmd, func(ctx context.Context, c *session.Controller, p *prompter) error {
			username := addUsername
			if username == "" {
				u, err := p.line("Username")
				if err != nil {
					return err
				}
				username = u
			}

			var secret string
			if addGenerate != 0 {
				opts := defaultGenerateOptions()
				opts.length = addGenerate
				generated, err := opts.generate()
				if err != nil {
					return err
				}
				secret = generated
			} else {
				s, err := p.secret("Secret")
				if err != nil {
					return err
				}
				secret = s
			}

			var notes *string
			if addNotes != "" {
				notes = &addNotes
			}

			if err := step("Saving...", func() error {
				return c.AddService(ctx, args[0], username, secret, notes)
			}); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Added %s", nameText.Sprint(args[0]))
			return nil
		})
	},
}

// delCmd removes a service after confirmation
var delCmd = &cobra.Command{
	Use:     "del <service>",
	Aliases: []string{"delete", "rm"},
	Short:   "Delete a service",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlocked(cmd, func(ctx context.Context, c *session.Controller, p *prompter) error {
			name := args[0]
			if !delYes {
				ok, err := p.confirm(fmt.Sprintf("Delete %s? This cannot be undone.", name))
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}

			if err := step("Deleting...", func() error { return c.DeleteService(ctx, name) }); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Deleted %s", nameText.Sprint(name))
			return nil
		})
	},
}

// withUnlocked opens a session, unlocks it with a prompted password, runs fn
// and locks again.
func withUnlocked(cmd *cobra.Command, fn func(ctx context.Context, c *session.Controller, p *prompter) error) error {
	ctx := cmd.Context()
	c, closeSession, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer closeSession()

	p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err := unlockSession(ctx, c, p); err != nil {
		return err
	}
	return fn(ctx, c, p)
}

// unlockSession checks that a vault exists and unlocks it.
func unlockSession(ctx context.Context, c *session.Controller, p *prompter) error {
	if c.View().Existence == session.ExistenceUnknown {
		if err := step("Checking vault...", func() error { return c.CheckExistence(ctx) }); err != nil {
			return err
		}
	}
	if c.View().Existence != session.ExistencePresent {
		return fmt.Errorf("no vault found at %s; run 'cyfer init' first", cfg.VaultDir)
	}

	password, err := p.secret("Enter master password")
	if err != nil {
		return err
	}
	err = step("Unlocking...", func() error { return c.Unlock(ctx, password) })
	if err != nil && cfg.Bridge == config.BridgeLocal &&
		(session.IsKind(err, session.KindInvalidCredential) || bridge.IsCode(err, bridge.CodeUnauthorized)) {
		// The MCP bridge has no call for this; the local engine shares our disk.
		if state, serr := openVault().GetLockState(); serr == nil {
			if notice := lockStateNotice(state, time.Now()); notice != "" {
				printWarning(p.out, "%s", notice)
			}
		}
	}
	return err
}

// lockStateNotice describes the failed-attempt count and any cooldown.
func lockStateNotice(state *vault.LockState, now time.Time) string {
	if state == nil || state.FailedAttempts == 0 {
		return ""
	}
	if state.CooldownUntil.After(now) {
		return fmt.Sprintf("%d failed attempts; try again in %s",
			state.FailedAttempts, state.CooldownUntil.Sub(now).Round(time.Second))
	}
	if state.FailedAttempts < vault.CooldownThreshold1 {
		return fmt.Sprintf("%d failed attempt(s); unlocking pauses after %d",
			state.FailedAttempts, vault.CooldownThreshold1)
	}
	return fmt.Sprintf("%d failed attempts", state.FailedAttempts)
}

// printSelection writes the selected entry. The secret is masked unless
// revealed.
func printSelection(w io.Writer, sel *session.SelectionView, hint string) {
	if sel == nil {
		return
	}
	fmt.Fprintf(w, "Service:  %s\n", nameText.Sprint(sel.Service))
	fmt.Fprintf(w, "Username: %s\n", sel.Username)
	if secret, ok := sel.Secret(); ok {
		fmt.Fprintf(w, "Secret:   %s\n", secret)
	} else {
		fmt.Fprintf(w, "Secret:   %s\n", mutedText.Sprintf("******** (%s)", hint))
	}
	if sel.Notes != nil {
		fmt.Fprintf(w, "Notes:    %s\n", *sel.Notes)
	}
}
