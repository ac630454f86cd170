package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/voicectl/internal/adapters/ptt"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a session and talk to the agent",
	Long: `Join a media session with the agent. Hold SPACE to talk, press c to
cancel the current turn and q to hang up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), runCall)
	},
}

func runCall(ctx context.Context, c *client) error {
	o := c.newOrchestrator(cfg, stderrNotifier{})
	defer func() {
		if err := o.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("module", "cli").Msg("close session")
		}
	}()

	if err := o.StartSession(ctx); err != nil {
		return explain(err)
	}
	snap := o.Snapshot()
	fmt.Fprintf(os.Stderr, "Connected to %s", snap.Room)
	if snap.Agent != "" {
		fmt.Fprintf(os.Stderr, " with %s", snap.Agent)
	}
	fmt.Fprintln(os.Stderr, ". Hold SPACE to talk, c to cancel, q to hang up.")

	tty, err := ptt.OpenTerminal(os.Stdin)
	if err != nil {
		return err
	}
	defer tty.Close()

	ctl := ptt.NewController(o.Turns, cfg.PTT.ReleaseWindow)
	ctl.OnChange = func(held bool) {
		if held {
			fmt.Fprint(os.Stderr, "\r* talking   ")
		} else {
			fmt.Fprint(os.Stderr, "\r  listening ")
		}
	}
	err = ctl.Run(ctx, tty)
	fmt.Fprint(os.Stderr, "\r\n")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
