// Package cli implements aqualensctl. Every invocation is one more tab of a
// deployment: it opens the same session store origin the dashboard uses,
// runs a session controller against the identity API and exits.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aqualens/cmd/internal/app"
	"aqualens/cmd/internal/auth/guard"
	"aqualens/cmd/internal/auth/store"
)

// Deps are the parts of the environment tests replace.
type Deps struct {
	// Backend, when set, is used instead of the origin selected by flags.
	Backend store.Backend
	// Stdin feeds --password-stdin (default os.Stdin).
	Stdin io.Reader
}

type options struct {
	api         string
	storeKind   string
	redisURL    string
	databaseURL string
	dbSchema    string
	namespace   string
	tabID       string
	routes      string
	logLevel    string
	logFormat   string
	timeout     time.Duration
}

type runner struct {
	deps Deps
	opts options
	log  *slog.Logger
}

// NewRootCommand builds the aqualensctl command tree.
func NewRootCommand(d Deps) *cobra.Command {
	if d.Stdin == nil {
		d.Stdin = os.Stdin
	}
	r := &runner{deps: d}

	root := &cobra.Command{
		Use:   "aqualensctl",
		Short: "Sign in, inspect and watch aqualens dashboard sessions",
		Long: `aqualensctl acts as one browser tab of an aqualens deployment.

It reads and writes the same session store the dashboard tabs share, so a
login here is seen by every open tab and a logout in any tab signs this one
out too. Use a shared backend (redis or postgres); the memory backend only
lives as long as the command.

Examples:
  aqualensctl login --email sam@aqualens.local
  aqualensctl whoami
  aqualensctl check /reports
  aqualensctl watch --relay ws://127.0.0.1:8080/sync`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			r.log = app.NewLoggerTo(cmd.ErrOrStderr(), r.opts.logLevel, r.opts.logFormat)
			return nil
		},
	}
	root.SetIn(d.Stdin)

	pf := root.PersistentFlags()
	pf.StringVar(&r.opts.api, "api", app.EnvString("AQUALENS_API_URL", "http://127.0.0.1:8080/api"), "identity API base URL")
	pf.StringVar(&r.opts.storeKind, "store", app.EnvString("AQUALENS_STORE_BACKEND", app.BackendMemory), "session store backend: memory, redis or postgres")
	pf.StringVar(&r.opts.redisURL, "redis-url", app.EnvString("AQUALENS_REDIS_URL", ""), "Redis URL for --store=redis")
	pf.StringVar(&r.opts.databaseURL, "database-url", app.EnvString("AQUALENS_DATABASE_URL", ""), "Postgres URL for --store=postgres")
	pf.StringVar(&r.opts.dbSchema, "db-schema", app.EnvString("AQUALENS_DB_SCHEMA", "aqualens"), "Postgres schema")
	pf.StringVar(&r.opts.namespace, "namespace", app.EnvString("AQUALENS_STORE_NAMESPACE", store.DefaultNamespace), "session store namespace")
	pf.StringVar(&r.opts.routes, "routes", app.EnvString("AQUALENS_ROUTES_FILE", ""), "route table YAML (default: built-in table)")
	pf.StringVar(&r.opts.tabID, "tab-id", "", "tab identifier (default: a new ULID per run)")
	pf.StringVar(&r.opts.logLevel, "log-level", app.EnvString("AQUALENS_LOG_LEVEL", "warn"), "log level")
	pf.StringVar(&r.opts.logFormat, "log-format", app.EnvString("AQUALENS_LOG_FORMAT", "pretty"), "log format: pretty or json")
	pf.DurationVar(&r.opts.timeout, "timeout", app.EnvDuration("AQUALENS_CLI_TIMEOUT", 15*time.Second), "per-request timeout")

	root.AddCommand(
		r.loginCmd(),
		r.acceptInviteCmd(),
		r.logoutCmd(),
		r.whoamiCmd(),
		r.checkCmd(),
		r.watchCmd(),
	)
	return root
}

// Execute runs aqualensctl with ctx bound to every command.
func Execute(ctx context.Context) error {
	return NewRootCommand(Deps{}).ExecuteContext(ctx)
}

func (r *runner) config() app.Config {
	cfg := app.LoadConfig()
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(r.opts.storeKind))
	cfg.RedisURL = r.opts.redisURL
	cfg.DatabaseURL = r.opts.databaseURL
	cfg.DBSchema = r.opts.dbSchema
	cfg.Namespace = r.opts.namespace
	cfg.ReadinessRequireDB = false
	return cfg
}

func (r *runner) table() (*guard.Table, error) {
	if r.opts.routes == "" {
		return guard.DefaultTable(), nil
	}
	return guard.LoadTable(r.opts.routes)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
