package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"compliance-gate/internal/app"
	"compliance-gate/internal/types"
)

type inspectOptions struct {
	Force bool
}

func newInspectCommand() *cobra.Command {
	opts := inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <repo/path>",
		Short: "Identify an artifact and submit it to the compliance service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Forget stored identity and inspection facts first")
	_ = viper.BindPFlag("inspect.force", cmd.Flags().Lookup("force"))
	return cmd
}

func runInspect(ctx context.Context, cmd *cobra.Command, target string, opts inspectOptions) error {
	ref, err := types.ParseArtifactRef(target)
	if err != nil {
		return err
	}
	service, err := newAppService(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.InspectArtifact(ctx, app.InspectArtifactRequest{
		Ref:   ref,
		Force: resolveBool(cmd, opts.Force, "inspect.force", "force"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", result.Ref, result.Status)
	return nil
}

type inspectRepoOptions struct {
	Failures bool
}

func newInspectRepoCommand() *cobra.Command {
	opts := inspectRepoOptions{}
	cmd := &cobra.Command{
		Use:   "inspect-repo [repo...]",
		Short: "Run an inspection pass over repositories (defaults to inspection.repos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectRepo(cmd.Context(), cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Failures, "failures", false, "Re-inspect artifacts whose inspection failed")
	_ = viper.BindPFlag("inspect.failures", cmd.Flags().Lookup("failures"))
	return cmd
}

func runInspectRepo(ctx context.Context, cmd *cobra.Command, repoKeys []string, opts inspectRepoOptions) error {
	service, err := newAppService(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.InspectRepositories(ctx, app.InspectRepositoriesRequest{
		RepoKeys:          repoKeys,
		ReinspectFailures: resolveBool(cmd, opts.Failures, "inspect.failures", "failures"),
	})
	for _, repo := range result.Repositories {
		fmt.Printf("%s: delta succeeded=%d pending=%d failed=%d, populate succeeded=%d pending=%d failed=%d",
			repo.RepoKey,
			repo.Delta.Succeeded, repo.Delta.Pending, repo.Delta.Failed,
			repo.Populate.Succeeded, repo.Populate.Pending, repo.Populate.Failed)
		if repo.Reinspects > 0 {
			fmt.Printf(", reinspected=%d", repo.Reinspects)
		}
		if repo.Err != nil {
			fmt.Printf(" (error: %s)", errorMessage(repo.Err))
		}
		fmt.Println()
	}
	return err
}
