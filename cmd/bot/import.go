package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"confbot/internal/app"
	"confbot/internal/notifier/fanout"
	telegram "confbot/internal/transport/telegram/adapter"
	logx "confbot/pkg/logx"
)

func NewImportCommand(opts *RootOptions) *cobra.Command {
	var (
		dryRun   bool
		noNotify bool
	)
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Apply a schedule edit file",
		Long: `Apply a CSV schedule edit file directly to the database.

With telegram.token configured, attendees holding selections in the touched
slots get the change notice from this process. Without a token the import is
refused when such attendees exist, unless --no-notify is given. A running bot
replans its reminders once it sees the new schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			var sender fanout.Sender
			if !dryRun && !noNotify && strings.TrimSpace(cfg.Telegram.Token) != "" {
				ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log.With(logx.String("comp", "telegram")))
				if err != nil {
					return fmt.Errorf("telegram: %w", err)
				}
				sender = ad
			}
			core, err := app.BuildCore(cfg, log, nil, sender)
			if err != nil {
				return err
			}
			defer core.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			edits, err := core.Parser.Parse(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows valid\n", len(edits))
				return nil
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if sender == nil && !noNotify {
				n, err := core.Reconcile.Affected(ctx, edits)
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%d attendees selected talks in touched slots and cannot be notified without telegram.token; pass --no-notify to import anyway", n)
				}
			}

			out, err := core.Reconcile.Apply(ctx, "cli:"+filepath.Base(args[0]), edits)
			if err != nil && out.Slots == nil {
				return err
			}
			log.Info("import finished", logx.String("file", args[0]), logx.Int("rows", len(edits)))
			fmt.Fprintf(cmd.OutOrStdout(), "slots: %d, inserted: %d, updated: %d, unchanged: %d, deleted: %d\n",
				len(out.Slots), out.Stats.Inserted, out.Stats.Updated, out.Stats.Unchanged, out.Deleted)
			if sender != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "notified: %d of %d\n", out.Notified.Sent, out.Recipients)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "commit even when affected attendees cannot be notified")
	return cmd
}
