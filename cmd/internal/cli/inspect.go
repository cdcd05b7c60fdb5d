package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"aqualens/cmd/identity"
	"aqualens/cmd/internal/auth/guard"
	"aqualens/cmd/internal/auth/session"
)

func (r *runner) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the session every tab currently shares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := r.openTab(cmd.Context())
			if err != nil {
				return err
			}
			defer t.Close()

			s := t.ctrl.Session()
			if !s.IsAuthenticated {
				printf(cmd, "not signed in\n")
				return nil
			}
			return r.printSignedIn(cmd, s)
		},
	}
}

func (r *runner) checkCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Ask the route guard whether the current session may open a path",
		Long: `Evaluate the route guard for path against the shared session, or
against a hypothetical viewer given with --as.

Examples:
  aqualensctl check /reports
  aqualensctl check /admin --as scientist
  aqualensctl check /stations --as anonymous`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := r.table()
			if err != nil {
				return err
			}
			g := guard.New(table, r.log)

			viewer, err := r.viewer(cmd, role)
			if err != nil {
				return err
			}

			d := g.Navigate(viewer, args[0])
			if d.Location == "" {
				printf(cmd, "%s\n", d.Verdict)
			} else {
				printf(cmd, "%s %s\n", d.Verdict, d.Location)
			}
			r.log.Debug("cli.check", slog.String("path", args[0]), slog.String("verdict", d.Verdict.String()))
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "as", "", `evaluate as this role, or "anonymous", instead of the stored session`)
	return cmd
}

// viewer is the stored session, or a stand-in for --as.
func (r *runner) viewer(cmd *cobra.Command, role string) (guard.Principal, error) {
	if role != "" {
		return parseViewer(role)
	}

	t, err := r.openTab(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer t.Close()
	return t.ctrl.Session(), nil
}

func parseViewer(role string) (guard.Principal, error) {
	if role == "anonymous" {
		return session.Session{}, nil
	}
	rl, err := identity.ParseRole(role)
	if err != nil {
		return nil, err
	}
	return session.Session{IsAuthenticated: true, Role: rl}, nil
}
