package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/voicectl/internal/adapters/http"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local control API for a UI process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), runServe)
	},
}

func runServe(ctx context.Context, c *client) error {
	o := c.newOrchestrator(cfg, stderrNotifier{})
	defer func() {
		if err := o.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("module", "cli").Msg("close session")
		}
	}()

	port := cfg.Port
	if servePort != 0 {
		port = servePort
	}
	r := router.SetupRouter(router.RouterConfig{Mode: cfg.Mode, Secret: cfg.Secret}, &router.API{
		Orch:     o,
		Sessions: c.Sessions,
		Creds:    c.Creds,
		Gatherer: c.Registry,
	})
	return listen(ctx, fmt.Sprintf("127.0.0.1:%d", port), r, "control API started")
}

// listen serves h on addr until ctx is done, then shuts down gracefully.
func listen(ctx context.Context, addr string, h http.Handler, msg string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg(msg)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
}
