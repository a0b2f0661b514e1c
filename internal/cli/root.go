// Package cli implements certctl, the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-cert/internal/app"
	"github.com/mind-engage/mindengage-cert/internal/config"
)

// Opener builds the services a command runs against.
type Opener func(ctx context.Context) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Format  string // "json" | "text"

	open Opener
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the certctl root. A nil open builds the services
// from the environment.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "certctl",
		Short:         "Operate the certification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.open == nil {
				opts.open = envOpener(opts.EnvFile, cmd.ErrOrStderr())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRebuildCommand(opts))
	cmd.AddCommand(NewEligibilityCommand(opts))
	cmd.AddCommand(NewMarkSentCommand(opts))
	cmd.AddCommand(NewUsersCommand(opts))

	return cmd
}

func envOpener(envFile string, logOut io.Writer) Opener {
	return func(ctx context.Context) (*app.App, error) {
		var err error
		if envFile != "" {
			err = godotenv.Load(envFile)
		} else if err = godotenv.Load(); errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("load env: %w", err)
		}
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, app.NewLogger(logOut, cfg.LogLevel))
	}
}

// withApp opens the services for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(a *app.App) error) error {
	a, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// emit writes v as JSON, or calls text when the format is text.
func emit(cmd *cobra.Command, opts *RootOptions, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
