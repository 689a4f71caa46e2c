package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/advancex/advx/internal/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	sessionLabel = color.New(color.FgHiMagenta, color.Bold)
	startLabel   = color.New(color.FgGreen, color.Bold)
	endLabel     = color.New(color.FgRed, color.Bold)
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and monitor the local session",
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Keep checking the session until it expires",
		Long: `Run the periodic session check in the foreground. The command prints every
session transition and exits with an error once the session expires or is
signed out elsewhere. Interrupt it with Ctrl-C.

Examples:
  advx session watch
  advx session watch --interval 5s`,
		Annotations: authRequired,
		RunE:        runSessionWatch,
	}
	watch.Flags().Duration("interval", 0, "Check interval (defaults to the configured sweep interval)")
	cmd.AddCommand(watch)
	return cmd
}

func runSessionWatch(cmd *cobra.Command, args []string) error {
	rt, err := getRuntime()
	if err != nil {
		return err
	}
	mgr := rt.session
	if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
		mgr.SetSweepInterval(interval)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	unsubscribe := mgr.Subscribe(func(e session.Event) {
		printEvent(cmd, e)
	})
	defer unsubscribe()

	cur := mgr.Current()
	if cur == nil {
		return ErrNotSignedIn
	}
	sessionLabel.Fprintf(cmd.OutOrStdout(), "[%s] ", cur.User.Email)
	startLabel.Fprintf(cmd.OutOrStdout(), "watching session, expires %s\n", cur.ExpiresAt.Local().Format(time.RFC1123))

	mgr.Start(ctx)
	select {
	case <-ctx.Done():
		mgr.Stop()
		return nil
	case reason := <-rt.nav.Done():
		mgr.Stop()
		endLabel.Fprintf(cmd.OutOrStdout(), "session ended: %s\n", reason)
		return ErrAlreadyHandled
	}
}

// printEvent prints one session transition
func printEvent(cmd *cobra.Command, e session.Event) {
	ts := time.Now().Format("15:04:05")
	label := startLabel
	if e.To != session.StateSignedIn {
		label = endLabel
	}
	cmd.Printf("%s ", ts)
	label.Fprintf(cmd.OutOrStdout(), "%s -> %s", e.From, e.To)
	cmd.Printf(" (%s)\n", e.Reason)
}
