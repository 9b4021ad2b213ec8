package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReleasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "releases",
		Short: "List the buildable release tags of each checked-out project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := currentApp()
			ctx := cmd.Context()

			repos, err := a.repos(ctx)
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				return fmt.Errorf("no compiler checkouts found under %s", a.reposDir)
			}

			for project, repo := range repos {
				releases, err := repo.Releases(ctx, project)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", project)
				for _, release := range releases {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", release.Tag)
				}
			}
			return nil
		},
	}
}
