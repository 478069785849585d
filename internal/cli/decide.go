package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"compliance-gate/internal/app"
	"compliance-gate/internal/policies"
	"compliance-gate/internal/types"
)

type decideOptions struct {
	Scanner bool
}

func newDecideCommand() *cobra.Command {
	opts := decideOptions{}
	cmd := &cobra.Command{
		Use:   "decide <repo/path>",
		Short: "Evaluate the download gates for an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(cmd.Context(), cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Scanner, "scanner", false, "Treat the download as a scan-as-a-service scanner request")
	_ = viper.BindPFlag("decide.scanner", cmd.Flags().Lookup("scanner"))
	return cmd
}

func runDecide(ctx context.Context, cmd *cobra.Command, target string, opts decideOptions) error {
	ref, err := types.ParseArtifactRef(target)
	if err != nil {
		return err
	}
	service, err := newAppService(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	decision, err := service.Decide(ctx, app.DecideRequest{
		Ref:            ref,
		ScannerRequest: resolveBool(cmd, opts.Scanner, "decide.scanner", "scanner"),
	})
	if err != nil {
		return err
	}
	if !decision.Cancel {
		fmt.Printf("allowed: %s\n", ref)
		return nil
	}
	fmt.Printf("cancelled: %s (%s)\n", ref, decision.Decider)
	return policies.EnforceDecision(ref, decision)
}
