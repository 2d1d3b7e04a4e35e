// Package cmd provides command-line interface commands for opspulse.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"opspulse/config"
	"opspulse/notify"
	"opspulse/service"
	"opspulse/storage"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for evaluate commands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

// defaultTimeout bounds one-shot CLI operations
const defaultTimeout = 5 * time.Minute

// NewEvaluateCmd creates the root evaluate command with all subcommands.
func NewEvaluateCmd() *cobra.Command {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run tenant health rule evaluation from the command line",
		Long:  "Runs the fixed health rule set against every tenant in the local database, creating, updating, and resolving alerts exactly as the API-triggered run does.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	evaluateCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	evaluateCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	evaluateCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	evaluateCmd.AddCommand(newEvaluateRunCmd())
	evaluateCmd.AddCommand(newEvaluateStatusCmd())
	return evaluateCmd
}

// cliContext bundles the storage handles a CLI run needs
type cliContext struct {
	cfg    *config.Config
	db     *storage.SQLite
	alerts *storage.SQLiteAlertStorage
	orgs   *storage.SQLiteOrganizationStorage
	audit  *storage.SQLiteAuditStorage
	notes  *storage.SQLiteNotificationStorage
	sugar  *zap.SugaredLogger
}

func openCLIContext() (*cliContext, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI runs log errors only; progress goes through the formatters.
	logger, err := zap.NewProduction(zap.IncreaseLevel(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	sugar := logger.Sugar()

	db, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	cli := &cliContext{cfg: cfg, db: db, sugar: sugar}
	if cli.alerts, err = storage.NewSQLiteAlertStorage(db, sugar); err != nil {
		return nil, err
	}
	if cli.orgs, err = storage.NewSQLiteOrganizationStorage(db, sugar); err != nil {
		return nil, err
	}
	if cli.audit, err = storage.NewSQLiteAuditStorage(db, sugar); err != nil {
		return nil, err
	}
	if cli.notes, err = storage.NewSQLiteNotificationStorage(db, sugar); err != nil {
		return nil, err
	}
	return cli, nil
}

func (c *cliContext) close() {
	if c.db != nil {
		_ = c.db.Close()
	}
}

func newEvaluateRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one evaluation pass over all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := openCLIContext()
			if err != nil {
				errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			defer cli.close()

			notifier := notify.NewRecordingNotifier(
				cli.notes,
				"WARNING",
				cli.cfg.Notifications.RenotifyWindow,
				cli.sugar,
			)
			evaluator := service.NewEvaluationService(
				cli.alerts, cli.orgs, cli.audit, notifier,
				cli.cfg.Evaluation.Concurrency, cli.sugar,
			)

			var s *spinner.Spinner
			if !quiet && !outputJSON {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Evaluating tenants..."
				s.Start()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			actor := service.Actor{ID: "cli", Roles: []string{service.RoleSuperadmin}}
			summary, err := evaluator.RunEvaluation(ctx, actor)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				errorColor.Fprintf(os.Stderr, "Evaluation failed: %v\n", err)
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(summary)
			}
			headerColor.Println("Evaluation complete")
			infoColor.Printf("  run id:        %s\n", summary.RunID)
			infoColor.Printf("  organizations: %d\n", summary.Organizations)
			successColor.Printf("  created:       %d\n", summary.Created)
			infoColor.Printf("  updated:       %d\n", summary.Updated)
			infoColor.Printf("  resolved:      %d\n", summary.Resolved)
			infoColor.Printf("  unchanged:     %d\n", summary.Unchanged)
			if summary.Errors > 0 {
				errorColor.Printf("  errors:        %d\n", summary.Errors)
			}
			infoColor.Printf("  duration:      %dms\n", summary.DurationMs)
			return nil
		},
	}
}

func newEvaluateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent evaluation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := openCLIContext()
			if err != nil {
				errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			defer cli.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			record, err := cli.audit.LastByAction(ctx, service.AuditActionEvaluationRun)
			if err != nil {
				errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			if record == nil {
				infoColor.Println("No evaluation run recorded yet")
				return nil
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(record)
			}
			headerColor.Println("Last evaluation run")
			infoColor.Printf("  at:    %s\n", record.CreatedAt.Format(time.RFC3339))
			infoColor.Printf("  actor: %s\n", record.ActorID)
			for key, value := range record.Details {
				infoColor.Printf("  %s: %v\n", key, value)
			}
			return nil
		},
	}
}
