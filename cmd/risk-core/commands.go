package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-core/internal/bot"
	"github.com/ducminhle1904/crypto-risk-core/internal/state"
	"github.com/ducminhle1904/crypto-risk-core/pkg/reporting"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		once          bool
		decisionsFile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate and execute proposals every cycle interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.log.Close()

			path := a.cfg.DecisionsFile
			if decisionsFile != "" {
				path = decisionsFile
			}
			b, err := a.newBot(bot.NewJSONFileSource(path))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				if err := b.Start(ctx); err != nil {
					return err
				}
				report, err := b.RunCycle(ctx)
				if report != nil {
					printCycle(cmd.OutOrStdout(), report)
				}
				return err
			}

			a.serveMetrics(ctx)
			a.log.Status("Risk core running on %s, decisions from %s", a.cfg.Exchange, path)
			return b.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	cmd.Flags().StringVar(&decisionsFile, "decisions", "", "decisions file (overrides DECISIONS_FILE)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON       bool
		snapshotPath string
		fromSnapshot string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show drawdown, open positions, transitions and recent decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromSnapshot != "" {
				snap, err := state.LoadSnapshot(fromSnapshot)
				if err != nil {
					return err
				}
				return printSnapshot(cmd.OutOrStdout(), snap, asJSON)
			}

			a, err := opts.openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.log.Close()

			snap, err := state.BuildSnapshot(cmd.Context(), a.store, a.cfg.Exchange, time.Now())
			if err != nil {
				return err
			}
			if snapshotPath != "" {
				if err := state.SaveSnapshot(snapshotPath, snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", snapshotPath)
			}
			return printSnapshot(cmd.OutOrStdout(), snap, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "also write the snapshot to this file")
	cmd.Flags().StringVar(&fromSnapshot, "from-snapshot", "", "show a saved snapshot instead of the database")
	return cmd
}

func printSnapshot(w io.Writer, snap *state.Snapshot, asJSON bool) error {
	if asJSON {
		return snap.WriteJSON(w)
	}
	reporting.RenderStatus(w, snap)
	return nil
}

func newTransitionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Inspect and steer venue transitions",
	}

	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a MANUAL transition; positions close on the next cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				t, err := a.transitions.Approve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "transition %s approved (%s -> %s)\n", t.ID, t.FromExchange, t.ToExchange)
				return nil
			})
		},
	}

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an active transition; open positions stay on the old venue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				t, err := a.transitions.Cancel(cmd.Context(), args[0], reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "transition %s cancelled, %d position(s) left on %s\n", t.ID, t.PositionsRemaining, t.FromExchange)
				return nil
			})
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "", "reason recorded in the transition log")

	var (
		outDir    string
		csvExport bool
	)
	export := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a transition (default: the latest) to Excel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					recent, err := a.store.ListTransitions(ctx, 1)
					if err != nil {
						return err
					}
					if len(recent) == 0 {
						return fmt.Errorf("no transitions recorded")
					}
					id = recent[0].ID
				}
				path, err := exportTransition(ctx, a, id, outDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "transition %s exported to %s\n", id, path)

				if csvExport {
					decisions, err := a.store.RecentDecisions(ctx, 1000)
					if err != nil {
						return err
					}
					csvPath := reporting.DefaultExportPath(outDir, id, "decisions.csv")
					if err := reporting.WriteDecisionsCSV(csvPath, decisions); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "decisions exported to %s\n", csvPath)
				}
				return nil
			})
		},
	}
	export.Flags().StringVar(&outDir, "out", "results", "output directory")
	export.Flags().BoolVar(&csvExport, "decisions-csv", false, "also export the recent decision audit trail as CSV")

	cmd.AddCommand(approve, cancel, export)
	return cmd
}

func exportTransition(ctx context.Context, a *app, id, outDir string) (string, error) {
	t, err := a.transitions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	positions, err := a.store.TransitionPositions(ctx, id)
	if err != nil {
		return "", err
	}
	path := reporting.DefaultExportPath(outDir, id, "xlsx")
	return path, reporting.ExportTransitionXLSX(path, t, positions)
}

func newDrawdownCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drawdown",
		Short: "Manage the drawdown halt",
	}
	var reason string
	clearHalt := &cobra.Command{
		Use:   "clear-halt",
		Short: "Lift today's trading halt before the next UTC day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				if err := a.drawdown.Restore(ctx); err != nil {
					return err
				}
				if ok, _ := a.drawdown.CheckCanTrade(); ok {
					fmt.Fprintln(cmd.OutOrStdout(), "trading is not halted")
					return nil
				}
				if err := a.drawdown.ClearHalt(ctx, reason); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "trading halt cleared")
				return nil
			})
		},
	}
	clearHalt.Flags().StringVar(&reason, "reason", "operator", "reason written to the log")
	cmd.AddCommand(clearHalt)
	return cmd
}

func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := opts.openApp(false)
	if err != nil {
		return err
	}
	defer a.log.Close()
	defer a.Close()
	return fn(a)
}
