package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aqualens/cmd/internal/auth/session"
	"aqualens/cmd/internal/auth/store"
	"aqualens/cmd/internal/realtime"
)

const resyncDelay = time.Second

func (r *runner) watchCmd() *cobra.Command {
	var (
		relay  string
		origin string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow session changes made by other tabs",
		Long: `Stay open as a tab and print every session transition caused by other
tabs, until interrupted.

With --relay the command instead connects to the sync relay of a running
server and prints the raw storage changes it fans out. This works even
when the CLI cannot reach the store itself.

Examples:
  aqualensctl watch --store redis --redis-url redis://127.0.0.1:6379/0
  aqualensctl watch --relay ws://127.0.0.1:8080/sync --origin http://localhost:5173`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if relay != "" {
				return r.watchRelay(cmd, relay, origin)
			}
			return r.watchStore(cmd)
		},
	}

	cmd.Flags().StringVar(&relay, "relay", "", "sync relay WebSocket URL")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin header sent to the relay")
	return cmd
}

func (r *runner) watchStore(cmd *cobra.Command) error {
	ctx := cmd.Context()

	t, err := r.openTab(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	stop := t.ctrl.Subscribe(func(s session.Session) {
		printf(cmd, "%s\n", describe(s))
	})
	defer stop()

	sync := session.NewSynchronizer(t.ctrl, t.store)
	if err := sync.Start(); err != nil {
		return err
	}
	defer sync.Stop()

	printf(cmd, "%s\n", describe(t.ctrl.Session()))

	<-ctx.Done()
	return nil
}

func (r *runner) watchRelay(cmd *cobra.Command, url, origin string) error {
	ctx := cmd.Context()
	opts := realtime.WatchOptions{
		Namespace: r.opts.namespace,
		TabID:     r.opts.tabID,
		Origin:    origin,
		OnReady: func(sessionID string) {
			printf(cmd, "connected session=%s\n", sessionID)
		},
	}

	for {
		err := realtime.Watch(ctx, url, opts, func(ev store.Event) {
			printf(cmd, "%s\n", describeEvent(ev))
		})
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !realtime.IsResync(err) {
			return err
		}

		r.log.Info("cli.watch.resync", "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resyncDelay):
		}
	}
}

func describe(s session.Session) string {
	switch {
	case s.IsAuthenticated:
		return fmt.Sprintf("state=%s user=%s role=%s", s.State.Name(), s.User.Email, s.Role)
	case s.Error != "":
		return fmt.Sprintf("state=%s error=%q", s.State.Name(), s.Error)
	default:
		return fmt.Sprintf("state=%s", s.State.Name())
	}
}

func describeEvent(ev store.Event) string {
	if ev.Removed {
		return fmt.Sprintf("removed key=%s writer=%s", ev.Key, ev.Writer)
	}
	return fmt.Sprintf("changed key=%s writer=%s", ev.Key, ev.Writer)
}
