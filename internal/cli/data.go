package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/cuptrack/internal/app"
	"github.com/AdamBeresnev/cuptrack/internal/instance"
	"github.com/AdamBeresnev/cuptrack/internal/service"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/spf13/cobra"
)

// withApp opens the data directory for the length of run.
func withApp(ctx context.Context, opts *RootOptions, run func(a *app.App) error) (err error) {
	a, err := app.Open(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()
	return run(a)
}

// withOwner is withApp for commands that need the database.
func withOwner(ctx context.Context, opts *RootOptions, run func(a *app.App) error) error {
	return withApp(ctx, opts, func(a *app.App) error {
		if a.Role() != instance.RoleOwner {
			return app.ErrGuest
		}
		return run(a)
	})
}

// NewImportCommand creates the import command. A running owner receives
// the import over the delegation channel.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var retry string

	cmd := &cobra.Command{
		Use:   "import <text|link>",
		Short: "Import a shared tournament definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, func(a *app.App) error {
				out, err := a.RetryImport(cmd.Context(), retry, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if out.Result != nil {
					return rootOpts.print(w, out.Result, fmt.Sprintf("%s %s", out.Result.Decision, out.Result.TournamentUUID))
				}

				d := out.Delegated
				if !d.Delivered {
					if d.Preview != nil {
						_ = rootOpts.print(cmd.ErrOrStderr(), d.Preview, fmt.Sprintf("not imported: %s (%s to %s, %d charts)",
							d.Preview.Name, d.Preview.Start, d.Preview.End, len(d.Preview.Charts)))
					}
					return fmt.Errorf("the running instance did not acknowledge the import (retry with --retry %s): %w", d.Request.ID, d.Err)
				}
				if !d.Ack.OK {
					return fmt.Errorf("import failed: %s", d.Ack.Error)
				}
				return rootOpts.print(w, d.Ack, fmt.Sprintf("%s %s (via %s)", d.Ack.Decision, d.Ack.TournamentUUID, d.Transport))
			})
		},
	}

	cmd.Flags().StringVar(&retry, "retry", "", "resend an unacknowledged import under its request id")
	return cmd
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var in service.CreateInput
	var charts string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tournament",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := service.ParseChartInput(charts)
			if err != nil {
				return err
			}
			in.ChartIDs = ids
			return withOwner(cmd.Context(), rootOpts, func(a *app.App) error {
				id, err := a.Domain.Tournaments().CreateTournament(cmd.Context(), in, a.Today())
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]string{"tournamentUuid": id}, id)
			})
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "tournament name")
	cmd.Flags().StringVar(&in.Owner, "owner", "", "organizer name")
	cmd.Flags().StringVar(&in.Hashtag, "hashtag", "", "hashtag for posts")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.EndDate, "end", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&charts, "charts", "", "chart ids separated by commas, spaces or newlines")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var tab string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tournaments in a tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), rootOpts, func(a *app.App) error {
				list, err := a.Domain.Tournaments().ListTournaments(cmd.Context(), tournament.Tab(tab), a.Today())
				if err != nil {
					return err
				}
				var b strings.Builder
				for _, s := range list {
					fmt.Fprintf(&b, "%s  %s  %s..%s  %d/%d\n", s.UUID, s.Name, s.StartDate, s.EndDate, s.SubmittedCount, s.ChartCount)
				}
				return rootOpts.print(cmd.OutOrStdout(), list, strings.TrimSuffix(b.String(), "\n"))
			})
		},
	}

	cmd.Flags().StringVar(&tab, "tab", string(tournament.TabActive), "tab to list (active|upcoming|ended)")
	return cmd
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete evidence of tournaments past the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), rootOpts, func(a *app.App) error {
				n, err := a.Domain.Evidence().PurgeExpiredEvidenceIfNeeded(cmd.Context(), a.Today())
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]int{"purged": n}, fmt.Sprintf("purged %d evidence file(s)", n))
			})
		},
	}
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark evidence whose file is missing as deleted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), rootOpts, func(a *app.App) error {
				n, err := a.Domain.Evidence().ReconcileEvidenceFiles(cmd.Context())
				if err != nil {
					return err
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]int{"missing": n}, fmt.Sprintf("%d evidence file(s) missing", n))
			})
		},
	}
}

// NewSyncCatalogCommand creates the sync-catalog command.
func NewSyncCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-catalog",
		Short: "Download the latest chart catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOwner(cmd.Context(), rootOpts, func(a *app.App) error {
				res, err := a.SyncCatalog(cmd.Context())
				if err != nil {
					return err
				}
				text := fmt.Sprintf("%s %s", res.Status, res.Manifest.FileName)
				if res.Reason != "" {
					text += ": " + res.Reason
				}
				return rootOpts.print(cmd.OutOrStdout(), res, text)
			})
		},
	}
}
