package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/cyfer/internal/config"
	"github.com/forest6511/cyfer/pkg/audit"
)

// Audit flags
var (
	auditLimit int
	auditSince string
	auditJSON  bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")
	auditVerifyCmd.Flags().BoolVar(&auditJSON, "json", false, "Print the result as JSON")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the engine's audit log",
	Long: `Inspect the engine's audit log. The log lives in the vault directory, so
these commands need the local engine; the master password derives the
chain key.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		if cfg.Bridge != config.BridgeLocal {
			return errors.New("audit commands read the vault directory directly; use --bridge local")
		}
		return nil
	},
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			d, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-d)
		}

		p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		password, err := p.secret("Enter master password")
		if err != nil {
			return err
		}

		events, err := openVault().AuditEvents(password, auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}
		for _, e := range events {
			// Format: TIMESTAMP OPERATION SOURCE RESULT [ENTRY]
			line := fmt.Sprintf("%s %s %s %s", e.Timestamp, e.Operation, e.Source, e.Result)
			if e.Entry != "" {
				entry := e.Entry
				if len(entry) > 16 {
					entry = entry[:16] + "..."
				}
				line += " entry:" + entry
			}
			if e.Error != nil {
				line += " error:" + e.Error.Code
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
		return nil
	},
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log HMAC chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		password, err := p.secret("Enter master password")
		if err != nil {
			return err
		}

		var result *audit.VerifyResult
		if err := step("Verifying audit log...", func() (err error) {
			result, err = openVault().AuditVerify(password)
			return err
		}); err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else if result.Valid {
			printSuccess(out, "Audit log verified: %d records, chain intact", result.RecordsTotal)
		} else {
			fmt.Fprintf(out, "%s Audit log verification FAILED\n", errorText.Sprint("✗"))
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
		}
		if !result.Valid {
			return errors.New("audit log integrity check failed")
		}
		return nil
	},
}
