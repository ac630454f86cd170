package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/voicectl/internal/adapters/rtc"
	"github.com/dkeye/voicectl/internal/devserver"
)

var (
	devPort int
	devCode string
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local backend and room with a scripted agent",
	Long: `Run a local stand-in for the identity, ticketing and media services.
Point backend_url at it to try login and call without the hosted backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := devserver.New(devserver.Config{
			Mode:       cfg.Mode,
			Secret:     cfg.Secret,
			AuthPath:   cfg.AuthPath,
			TicketPath: cfg.TicketPath,
			DeviceCode: devCode,
			WebRTC:     rtc.ConfigFromURLs(cfg.ICEServers),
		})
		ctx := cmd.Context()
		return listen(ctx, fmt.Sprintf(":%d", devPort), srv.Router(ctx), "devserver started")
	},
}

func init() {
	devserverCmd.Flags().IntVar(&devPort, "port", 8090, "listen port")
	devserverCmd.Flags().StringVar(&devCode, "code", "123456", "device code accepted by the auth endpoint")
}
