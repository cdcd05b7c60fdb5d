package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"aqualens/cmd/internal/auth/autherr"
	"aqualens/cmd/internal/auth/gateway"
	"aqualens/cmd/internal/auth/session"
)

// passwordEnv is read when neither --password nor --password-stdin is given.
const passwordEnv = "AQUALENS_PASSWORD"

func (r *runner) loginCmd() *cobra.Command {
	var (
		email     string
		password  string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and share the session with every open tab",
		Long: `Sign in with email and password.

The password is taken from --password, --password-stdin or the
AQUALENS_PASSWORD environment variable, in that order.

Examples:
  aqualensctl login --email sam@aqualens.local --password-stdin < pw.txt
  AQUALENS_PASSWORD=... aqualensctl login --email sam@aqualens.local`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password, fromStdin)
			if err != nil {
				return err
			}

			t, err := r.openTab(cmd.Context())
			if err != nil {
				return err
			}
			defer t.Close()

			if err := t.ctrl.Login(cmd.Context(), email, pw); err != nil {
				return authFailure("login", err)
			}
			return r.printSignedIn(cmd, t.ctrl.Session())
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from the first line of stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (r *runner) acceptInviteCmd() *cobra.Command {
	var (
		inv       gateway.Invitation
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "accept-invite",
		Short: "Redeem an invitation and sign in as the new account",
		Long: `Redeem an invitation token sent to an email address. The account is
created with the role the invitation carries and signed in right away.

Examples:
  aqualensctl accept-invite --token 01J... --email new@aqualens.local --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, inv.Password, fromStdin)
			if err != nil {
				return err
			}
			inv.Password = pw

			t, err := r.openTab(cmd.Context())
			if err != nil {
				return err
			}
			defer t.Close()

			if err := t.ctrl.AcceptInvitation(cmd.Context(), inv); err != nil {
				return authFailure("invitation", err)
			}
			return r.printSignedIn(cmd, t.ctrl.Session())
		},
	}

	cmd.Flags().StringVar(&inv.Token, "token", "", "invitation token")
	cmd.Flags().StringVar(&inv.Email, "email", "", "email the invitation was sent to")
	cmd.Flags().StringVar(&inv.Password, "password", "", "password for the new account")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from the first line of stdin")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (r *runner) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out every tab sharing this session",
		Long: `Sign out. The identity API is told to revoke the token on a best-effort
basis; the shared session is cleared even when it cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := r.openTab(cmd.Context())
			if err != nil {
				return err
			}
			defer t.Close()

			was := t.ctrl.Session()
			t.ctrl.Logout(cmd.Context())

			if was.IsAuthenticated {
				printf(cmd, "signed out %s\n", was.User.Email)
			} else {
				printf(cmd, "not signed in\n")
			}
			return nil
		},
	}
}

func (r *runner) printSignedIn(cmd *cobra.Command, s session.Session) error {
	if !s.IsAuthenticated {
		return errors.New("not signed in")
	}

	table, err := r.table()
	if err != nil {
		return err
	}

	printf(cmd, "signed in as %s <%s> (%s)\n", s.User.Name, s.User.Email, s.Role)
	if home, ok := table.Home(s.Role); ok {
		printf(cmd, "home: %s\n", home)
	}
	return nil
}

// authFailure turns a controller error into the message a tab would show.
func authFailure(op string, err error) error {
	if errors.Is(err, session.ErrSuperseded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var ae *autherr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		return fmt.Errorf("%s failed (%s): %s", op, ae.Kind, ae.Message)
	}
	k := autherr.KindOf(err)
	return fmt.Errorf("%s failed (%s): %s", op, k, k.UserMessage())
}

func readPassword(cmd *cobra.Command, flagValue string, fromStdin bool) (string, error) {
	switch {
	case flagValue != "":
		return flagValue, nil
	case fromStdin:
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	default:
		if v := os.Getenv(passwordEnv); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("password required: use --password, --password-stdin or %s", passwordEnv)
	}
}
