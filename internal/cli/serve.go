package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"compliance-gate/internal/httpapi"
)

type serveOptions struct {
	Addr              string
	ReconcileInterval time.Duration
}

func newServeCommand() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gate over HTTP and reconcile periodically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().DurationVar(&opts.ReconcileInterval, "reconcile-interval", 0, "Reconciliation interval; 0 uses server.reconcile_interval_sec, negative disables")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := newAppService(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	interval := opts.ReconcileInterval
	if !flagChanged(cmd, "reconcile-interval") {
		interval = time.Duration(service.Config.Server.ReconcileIntervalSec) * time.Second
	}
	if interval > 0 && service.Config.Inspection.Enabled {
		go func() {
			if err := service.ReconcileEvery(ctx, interval); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("reconciliation loop stopped")
			}
		}()
	}

	server := httpapi.NewServer(service)
	return server.Run(ctx)
}
