package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"

	"compliance-gate/internal/app"
)

type reconcileOptions struct {
	Start string
	End   string
}

func newReconcileCommand() *cobra.Command {
	opts := reconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile [repo...]",
		Short: "Apply compliance notifications to tracked artifacts (defaults to inspection.repos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Start, "start", "", "Window start (RFC3339); defaults to each repository's watermark")
	cmd.Flags().StringVar(&opts.End, "end", "", "Window end (RFC3339); defaults to now")
	return cmd
}

func runReconcile(ctx context.Context, repoKeys []string, opts reconcileOptions) error {
	start, err := parseWindowBound("start", opts.Start)
	if err != nil {
		return err
	}
	end, err := parseWindowBound("end", opts.End)
	if err != nil {
		return err
	}
	if start.IsZero() && !end.IsZero() {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("--end requires --start")
	}
	service, err := newAppService(ctx)
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.ReconcileRepositories(ctx, app.ReconcileRequest{
		RepoKeys: repoKeys,
		Start:    start,
		End:      end,
	})
	for _, repo := range result.Repositories {
		switch {
		case repo.Skipped:
			fmt.Printf("%s: skipped\n", repo.RepoKey)
		case repo.Err != nil:
			fmt.Printf("%s: %s (error: %s)\n", repo.RepoKey, repo.Status, errorMessage(repo.Err))
		default:
			fmt.Printf("%s: %s, %d artifacts updated over %s..%s\n", repo.RepoKey, repo.Status, repo.Updated,
				repo.WindowStart.Format(time.RFC3339), repo.WindowEnd.Format(time.RFC3339))
		}
	}
	return err
}

func parseWindowBound(name string, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid --%s %q, expected RFC3339", name, value)).
			WithCause(err)
	}
	return parsed, nil
}
