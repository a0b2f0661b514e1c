package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-cert/internal/app"
	"github.com/mind-engage/mindengage-cert/internal/certificate"
	"github.com/mind-engage/mindengage-cert/internal/directory"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app.App) error {
				if err := a.DB.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
				return emit(cmd, rootOpts, map[string]string{"status": "ok", "driver": string(a.DB.Driver)}, func(w io.Writer) {
					fmt.Fprintf(w, "schema ready (%s)\n", a.DB.Driver)
				})
			})
		},
	}
}

type rebuildResult struct {
	Created []certificate.Artifact `json:"created"`
	Errors  []string               `json:"errors,omitempty"`
}

func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	var certType string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Issue certificates for every eligible candidate missing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app.App) error {
				created, rebuildErr := a.Certificates.RebuildAll(cmd.Context(), certType)
				res := rebuildResult{Created: created}
				if rebuildErr != nil {
					res.Errors = strings.Split(rebuildErr.Error(), "\n")
				}
				if err := emit(cmd, rootOpts, res, func(w io.Writer) {
					for _, art := range created {
						fmt.Fprintf(w, "issued %s (%s/%s, %.2f/20)\n", art.Name, art.CandidateID, art.CertType, art.Average20)
					}
					fmt.Fprintf(w, "%d certificate(s) issued\n", len(created))
				}); err != nil {
					return err
				}
				return rebuildErr
			})
		},
	}
	cmd.Flags().StringVar(&certType, "cert", "", "only rebuild this certification")
	return cmd
}

func NewEligibilityCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <candidate-id> <cert-type>",
		Short: "Show a candidate's graded modules and average",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app.App) error {
				el, err := a.Certificates.Eligibility(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emit(cmd, rootOpts, el, func(w io.Writer) {
					avg := "n/a"
					if el.Average20 != nil {
						avg = fmt.Sprintf("%.2f/20", *el.Average20)
					}
					fmt.Fprintf(w, "%s %s: eligible=%t average=%s\n", el.CandidateID, el.CertType, el.Eligible, avg)
					if len(el.Missing) > 0 {
						fmt.Fprintf(w, "missing: %s\n", strings.Join(el.Missing, ", "))
					}
				})
			})
		},
	}
}

func NewMarkSentCommand(rootOpts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "mark-sent <candidate-id> <cert-type>",
		Short: "Record that a candidate's certificate was delivered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app.App) error {
				m, err := a.Certificates.MarkSent(cmd.Context(), args[0], args[1], name)
				if err != nil {
					return err
				}
				return emit(cmd, rootOpts, m, func(w io.Writer) {
					fmt.Fprintf(w, "%s delivered to %s\n", m.ArtifactRef, m.DisplayName)
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name on the delivery record (defaults to the directory name)")
	return cmd
}

func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.csv>",
		Short: "Upsert users from a CSV with id,display_name,role[,id_number] columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			people, err := directory.ParseCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return withApp(cmd, rootOpts, func(a *app.App) error {
				ins, upd, err := a.People.Upsert(cmd.Context(), people)
				if err != nil {
					return err
				}
				return emit(cmd, rootOpts, map[string]int{"inserted": ins, "updated": upd}, func(w io.Writer) {
					fmt.Fprintf(w, "inserted %d, updated %d\n", ins, upd)
				})
			})
		},
	})
	return cmd
}
