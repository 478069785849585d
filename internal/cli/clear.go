package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"compliance-gate/internal/app"
)

type clearOptions struct {
	Keep      []string
	OutOfDate bool
}

func newClearCommand() *cobra.Command {
	opts := clearOptions{}
	cmd := &cobra.Command{
		Use:   "clear [repo...]",
		Short: "Remove compliance properties from repositories (defaults to inspection.repos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), cmd, args, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Keep, "keep", nil, "Property names to keep")
	cmd.Flags().BoolVar(&opts.OutOfDate, "out-of-date", false, "Only clear repositories whose update status is OUT_OF_DATE")
	_ = viper.BindPFlag("clear.keep", cmd.Flags().Lookup("keep"))
	_ = viper.BindPFlag("clear.out_of_date", cmd.Flags().Lookup("out-of-date"))
	return cmd
}

func runClear(ctx context.Context, cmd *cobra.Command, repoKeys []string, opts clearOptions) error {
	service, err := newAppService(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.ClearProperties(ctx, app.ClearRequest{
		RepoKeys:      repoKeys,
		Keep:          resolveStrings(cmd, opts.Keep, "clear.keep", "keep"),
		OutOfDateOnly: resolveBool(cmd, opts.OutOfDate, "clear.out_of_date", "out-of-date"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("cleared %d items in: %s\n", result.Items, strings.Join(result.Repositories, ", "))
	return nil
}
