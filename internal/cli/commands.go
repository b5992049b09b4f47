package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/movimentoterra/internal/auth"
	"example.com/movimentoterra/internal/domain"
)

func newDashboardCommand(opts *RootOptions, open Opener) *cobra.Command {
	var (
		days   int
		userID string
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the activity summary for the trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				actor := opts.actor()
				if userID != "" {
					// A non-admin actor is scoped to its own activities.
					actor = domain.Actor{UserID: userID, Role: domain.RoleUser}
				}
				summary, err := b.Dashboard.Summary(cmd.Context(), actor, days)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				return printSummary(cmd, summary)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", domain.DefaultDashboardDays, "window size in days (1-365)")
	cmd.Flags().StringVar(&userID, "user", "", "restrict the summary to one user")
	return cmd
}

func printSummary(cmd *cobra.Command, s domain.DashboardSummary) error {
	out := cmd.OutOrStdout()
	hours, minutes := domain.SplitDuration(s.TempoTotale)
	fmt.Fprintf(out, "Periodo %s - %s (%d giorni)\n", domain.FormatDate(s.From), domain.FormatDate(s.To), s.Days)
	fmt.Fprintf(out, "Attività: %d  Cantieri: %d  Mezzi: %d  Ore: %dh %02dm\n", s.AttivitaCount, s.CantieriCount, s.MezziCount, hours, minutes)
	if len(s.Attivita) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATA\tUTENTE\tCANTIERI\tMEZZI\tTEMPO\tVERIFICATA")
	for _, a := range s.Attivita {
		h, m := domain.SplitDuration(a.TempoTotale)
		user := a.UserName
		if user == "" {
			user = a.UserID
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%dh %02dm\t%t\n", a.AttivitaID, domain.FormatDate(a.Date), user, a.CantieriCount, a.MezziCount, h, m, a.IsChecked)
	}
	return tw.Flush()
}

func newBanCommand(opts *RootOptions, open Opener) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "ban <user-id>",
		Short: "Ban a user at the session provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				if err := b.Users.Ban(cmd.Context(), opts.actor(), args[0], reason); err != nil {
					return err
				}
				return report(cmd, opts, "banned", args[0])
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the user")
	return cmd
}

func newUnbanCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "unban <user-id>",
		Short: "Lift a ban at the session provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				if err := b.Users.Unban(cmd.Context(), opts.actor(), args[0]); err != nil {
					return err
				}
				return report(cmd, opts, "unbanned", args[0])
			})
		},
	}
}

func newTokenCommand(opts *RootOptions, open Opener) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a session token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				token, err := auth.Issue(auth.Session{UserID: args[0], Role: strings.ToLower(role)}, b.Auth, ttl)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"token": token})
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "role claim (admin|user)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func report(cmd *cobra.Command, opts *RootOptions, action, userID string) error {
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"success": true, "action": action, "userId": userID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", userID, action)
	return nil
}
