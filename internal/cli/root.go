// Package cli implements the lmtadmin command line tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"example.com/movimentoterra/internal/auth"
	"example.com/movimentoterra/internal/domain"
)

// Backend is what the commands operate on.
type Backend struct {
	Dashboard *domain.DashboardService
	Users     *domain.UserService
	Auth      auth.Config
}

// Opener connects to the backend. The returned func releases its resources.
type Opener func(ctx context.Context) (*Backend, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	As     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. open is called lazily by the commands that need a backend.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "lmtadmin",
		Short:         "Administration tool for the movimento terra backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.As, "as", "lmtadmin", "user id recorded as the acting admin")

	cmd.AddCommand(newDashboardCommand(opts, open))
	cmd.AddCommand(newBanCommand(opts, open))
	cmd.AddCommand(newUnbanCommand(opts, open))
	cmd.AddCommand(newTokenCommand(opts, open))
	return cmd
}

func (o *RootOptions) actor() domain.Actor {
	return domain.Actor{UserID: o.As, Role: domain.RoleAdmin}
}

func withBackend(ctx context.Context, open Opener, fn func(*Backend) error) error {
	backend, release, err := open(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer release()
	return fn(backend)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
